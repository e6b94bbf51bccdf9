package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/domain/models"
)

// Типы сообщений живого канала
const (
	TypeClientJoin = string(models.DeltaClientJoin)
	TypeClientLeft = string(models.DeltaClientLeft)

	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Message - общее событие живого канала.
// IsDelta отделяет дельты комнаты от личных сообщений между пирами.
type Message struct {
	IsDelta bool            `json:"is_delta"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DeltaEvent - тело дельты комнаты
type DeltaEvent struct {
	Seq      int64     `json:"seq"`
	ClientID uuid.UUID `json:"client_id"`
}

// ErrorEvent - ошибка, отправленная сервером клиенту
type ErrorEvent struct {
	Message string `json:"message"`
}

// DirectEvent - тело личного сообщения. From проставляет сервер.
type DirectEvent struct {
	From        uuid.UUID                  `json:"from"`
	To          uuid.UUID                  `json:"to"`
	Seq         *int64                     `json:"seq,omitempty"`
	RandomValue *int64                     `json:"random_value,omitempty"`
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func NewDeltaMessage(delta models.Delta) (Message, error) {
	data, err := json.Marshal(DeltaEvent{Seq: delta.Seq, ClientID: delta.ClientID})
	if err != nil {
		return Message{}, fmt.Errorf("marshal delta event: %w", err)
	}

	return Message{IsDelta: true, Type: string(delta.Kind), Data: data}, nil
}

func NewErrorMessage(message string) Message {
	data, _ := json.Marshal(ErrorEvent{Message: message})

	return Message{Type: TypeError, Data: data}
}

// Delta разбирает дельту комнаты из сообщения.
func (m Message) Delta() (models.Delta, error) {
	if !m.IsDelta {
		return models.Delta{}, fmt.Errorf("message %q is not a delta", m.Type)
	}

	kind := models.DeltaKind(m.Type)
	if !kind.Valid() {
		return models.Delta{}, fmt.Errorf("%w: %q", models.ErrUnknownDelta, m.Type)
	}

	var ev DeltaEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return models.Delta{}, fmt.Errorf("unmarshal delta event: %w", err)
	}

	return models.Delta{Seq: ev.Seq, Kind: kind, ClientID: ev.ClientID}, nil
}

// Direct разбирает личное сообщение вместе с адресатами.
func (m Message) Direct() (DirectEvent, DirectMessage, error) {
	if m.IsDelta {
		return DirectEvent{}, DirectMessage{}, fmt.Errorf("message %q is a delta", m.Type)
	}

	kind := DirectKind(m.Type)
	if !kind.Valid() {
		return DirectEvent{}, DirectMessage{}, fmt.Errorf("unknown direct message type %q", m.Type)
	}

	var ev DirectEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return DirectEvent{}, DirectMessage{}, fmt.Errorf("unmarshal direct event: %w", err)
	}

	msg := DirectMessage{Kind: kind, Description: ev.Description, Candidate: ev.Candidate}

	if ev.Seq != nil {
		msg.Seq = *ev.Seq
	}

	if ev.RandomValue != nil {
		msg.RandomValue = *ev.RandomValue
	}

	if err := msg.Validate(); err != nil {
		return DirectEvent{}, DirectMessage{}, err
	}

	return ev, msg, nil
}
