package dto

import "github.com/google/uuid"

type GuestResponse struct {
	ClientID uuid.UUID `json:"client_id"`
	Token    string    `json:"token"`
}
