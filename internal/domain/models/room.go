package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/domain/input"
)

type Room struct {
	ID           uuid.UUID `json:"id" db:"id"`
	CreatorID    uuid.UUID `json:"creator_id" db:"creator_id"`
	Name         string    `json:"name" db:"name"`
	PasscodeHash string    `json:"-" db:"passcode_hash"`
	Seq          int64     `json:"seq" db:"seq"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func NewRoom(input *input.CreateRoomInput, passcodeHash string) *Room {
	return &Room{
		ID:           uuid.New(),
		CreatorID:    input.CreatorID,
		Name:         input.Name,
		PasscodeHash: passcodeHash,
		Seq:          InitialSeq,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func (r *Room) Protected() bool {
	return r.PasscodeHash != ""
}
