package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/domain/models"
)

type CreateRoomRequest struct {
	Name     string `json:"name"`
	Passcode string `json:"passcode"`
}

type RoomResponse struct {
	ID        uuid.UUID `json:"id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Name      string    `json:"name"`
	Protected bool      `json:"protected"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewRoomResponseFromModel(room *models.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID,
		CreatorID: room.CreatorID,
		Name:      room.Name,
		Protected: room.Protected(),
		Seq:       room.Seq,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}
