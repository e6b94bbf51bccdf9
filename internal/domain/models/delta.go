package models

import (
	"time"

	"github.com/google/uuid"
)

type DeltaKind string

const (
	DeltaClientJoin DeltaKind = "client_join"
	DeltaClientLeft DeltaKind = "client_left"
)

func (k DeltaKind) Valid() bool {
	return k == DeltaClientJoin || k == DeltaClientLeft
}

// Delta - событие входа или выхода клиента. Seq назначается комнатой
// строго по возрастанию и без пропусков и после назначения не меняется.
type Delta struct {
	Seq       int64     `json:"seq" db:"seq"`
	Kind      DeltaKind `json:"type" db:"kind"`
	ClientID  uuid.UUID `json:"client_id" db:"client_id"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

func ClientJoin(seq int64, clientID uuid.UUID) Delta {
	return Delta{Seq: seq, Kind: DeltaClientJoin, ClientID: clientID}
}

func ClientLeft(seq int64, clientID uuid.UUID) Delta {
	return Delta{Seq: seq, Kind: DeltaClientLeft, ClientID: clientID}
}

// DeltaSeq используется как проекция номера для буфера переупорядочивания
func DeltaSeq(d Delta) int64 {
	return d.Seq
}
