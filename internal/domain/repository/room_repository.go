package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/domain/models"
)

// RoomRepository хранит комнаты, их состав и журнал дельт.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error)

	// AppendDelta атомарно назначает следующий seq, пишет дельту и меняет состав.
	AppendDelta(ctx context.Context, roomID uuid.UUID, kind models.DeltaKind, clientID uuid.UUID) (models.Delta, error)

	Snapshot(ctx context.Context, roomID uuid.UUID) (models.Snapshot, error)

	// Deltas возвращает дельты с fromSeq по toSeq включительно, по возрастанию seq.
	Deltas(ctx context.Context, roomID uuid.UUID, fromSeq, toSeq int64) ([]models.Delta, error)
}
