package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/domain/repository"
)

type roomRepo struct {
	db *sqlx.DB
}

func NewRoomRepo(db *sqlx.DB) repository.RoomRepository {
	return &roomRepo{db: db}
}

func (r *roomRepo) Create(ctx context.Context, room *models.Room) error {
	_, err := r.db.NamedExecContext(
		ctx,
		`INSERT INTO rooms (id, creator_id, name, passcode_hash, seq, created_at, updated_at)
		 VALUES (:id, :creator_id, :name, :passcode_hash, :seq, :created_at, :updated_at)`,
		room,
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}

	return nil
}

func (r *roomRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room

	err := r.db.GetContext(ctx, &room, "SELECT * FROM rooms WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}

	return &room, nil
}

// AppendDelta блокирует строку комнаты, поэтому параллельные вызовы
// получают последовательные seq без пропусков.
func (r *roomRepo) AppendDelta(
	ctx context.Context,
	roomID uuid.UUID,
	kind models.DeltaKind,
	clientID uuid.UUID,
) (delta models.Delta, err error) {
	if !kind.Valid() {
		return models.Delta{}, fmt.Errorf("%w: %q", models.ErrUnknownDelta, kind)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Delta{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64

	err = tx.GetContext(ctx, &seq, "SELECT seq FROM rooms WHERE id = $1 FOR UPDATE", roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Delta{}, models.ErrRoomNotFound
	}
	if err != nil {
		return models.Delta{}, fmt.Errorf("lock room: %w", err)
	}

	delta = models.Delta{
		Seq:       seq + 1,
		Kind:      kind,
		ClientID:  clientID,
		CreatedAt: time.Now(),
	}

	if _, err = tx.ExecContext(
		ctx,
		"INSERT INTO room_deltas (room_id, seq, kind, client_id, created_at) VALUES ($1, $2, $3, $4, $5)",
		roomID,
		delta.Seq,
		delta.Kind,
		delta.ClientID,
		delta.CreatedAt,
	); err != nil {
		return models.Delta{}, fmt.Errorf("insert delta: %w", err)
	}

	switch kind {
	case models.DeltaClientJoin:
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO room_members (room_id, client_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			roomID,
			clientID,
		)
	case models.DeltaClientLeft:
		_, err = tx.ExecContext(ctx, "DELETE FROM room_members WHERE room_id = $1 AND client_id = $2", roomID, clientID)
	}
	if err != nil {
		return models.Delta{}, fmt.Errorf("update members: %w", err)
	}

	if _, err = tx.ExecContext(
		ctx,
		"UPDATE rooms SET seq = $1, updated_at = $2 WHERE id = $3",
		delta.Seq,
		delta.CreatedAt,
		roomID,
	); err != nil {
		return models.Delta{}, fmt.Errorf("update room seq: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return models.Delta{}, fmt.Errorf("commit delta: %w", err)
	}

	return delta, nil
}

// Snapshot читает seq и состав из одного снимка БД (repeatable read).
func (r *roomRepo) Snapshot(ctx context.Context, roomID uuid.UUID) (models.Snapshot, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64

	err = tx.GetContext(ctx, &seq, "SELECT seq FROM rooms WHERE id = $1", roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, models.ErrRoomNotFound
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("select room seq: %w", err)
	}

	var ids []uuid.UUID

	if err = tx.SelectContext(ctx, &ids, "SELECT client_id FROM room_members WHERE room_id = $1", roomID); err != nil {
		return models.Snapshot{}, fmt.Errorf("select members: %w", err)
	}

	return models.NewSnapshot(seq, ids...), nil
}

func (r *roomRepo) Deltas(ctx context.Context, roomID uuid.UUID, fromSeq, toSeq int64) ([]models.Delta, error) {
	var exists bool

	if err := r.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)", roomID); err != nil {
		return nil, fmt.Errorf("check room: %w", err)
	}

	if !exists {
		return nil, models.ErrRoomNotFound
	}

	deltas := make([]models.Delta, 0)

	err := r.db.SelectContext(
		ctx,
		&deltas,
		`SELECT seq, kind, client_id, created_at
		 FROM room_deltas
		 WHERE room_id = $1 AND seq BETWEEN $2 AND $3
		 ORDER BY seq`,
		roomID,
		fromSeq,
		toSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("select deltas: %w", err)
	}

	return deltas, nil
}
