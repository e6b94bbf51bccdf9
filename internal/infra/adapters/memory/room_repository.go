package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/domain/repository"
)

type roomEntry struct {
	room    models.Room
	members map[uuid.UUID]struct{}
	deltas  []models.Delta
}

type roomRepository struct {
	rooms map[uuid.UUID]*roomEntry
	mu    sync.RWMutex
}

func NewRoomRepository() repository.RoomRepository {
	return &roomRepository{
		rooms: make(map[uuid.UUID]*roomEntry),
	}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room.ID]; ok {
		return fmt.Errorf("room %s already exists", room.ID)
	}

	r.rooms[room.ID] = &roomEntry{
		room:    *room,
		members: make(map[uuid.UUID]struct{}),
	}

	return nil
}

func (r *roomRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rooms[id]
	if !ok {
		return nil, models.ErrRoomNotFound
	}

	room := entry.room

	return &room, nil
}

func (r *roomRepository) AppendDelta(
	ctx context.Context,
	roomID uuid.UUID,
	kind models.DeltaKind,
	clientID uuid.UUID,
) (models.Delta, error) {
	if !kind.Valid() {
		return models.Delta{}, fmt.Errorf("%w: %q", models.ErrUnknownDelta, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomID]
	if !ok {
		return models.Delta{}, models.ErrRoomNotFound
	}

	delta := models.Delta{
		Seq:       entry.room.Seq + 1,
		Kind:      kind,
		ClientID:  clientID,
		CreatedAt: time.Now(),
	}

	switch kind {
	case models.DeltaClientJoin:
		entry.members[clientID] = struct{}{}
	case models.DeltaClientLeft:
		delete(entry.members, clientID)
	}

	entry.deltas = append(entry.deltas, delta)
	entry.room.Seq = delta.Seq
	entry.room.UpdatedAt = delta.CreatedAt

	return delta, nil
}

func (r *roomRepository) Snapshot(ctx context.Context, roomID uuid.UUID) (models.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rooms[roomID]
	if !ok {
		return models.Snapshot{}, models.ErrRoomNotFound
	}

	ids := make([]uuid.UUID, 0, len(entry.members))
	for id := range entry.members {
		ids = append(ids, id)
	}

	return models.NewSnapshot(entry.room.Seq, ids...), nil
}

func (r *roomRepository) Deltas(ctx context.Context, roomID uuid.UUID, fromSeq, toSeq int64) ([]models.Delta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rooms[roomID]
	if !ok {
		return nil, models.ErrRoomNotFound
	}

	// seq дельты совпадает с ее индексом в журнале
	from := max(fromSeq, 0)
	to := min(toSeq, int64(len(entry.deltas))-1)

	if from > to {
		return []models.Delta{}, nil
	}

	out := make([]models.Delta, 0, to-from+1)
	out = append(out, entry.deltas[from:to+1]...)

	return out, nil
}
