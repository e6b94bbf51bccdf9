package input

import "github.com/google/uuid"

type CreateRoomInput struct {
	CreatorID uuid.UUID `json:"creator_id"`
	Name      string    `json:"name"`
	Passcode  string    `json:"passcode"`
}

type DeltaRangeInput struct {
	RoomID  uuid.UUID
	FromSeq int64
	ToSeq   int64
}
