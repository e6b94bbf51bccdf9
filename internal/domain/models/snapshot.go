package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// InitialSeq - номер снапшота пустой комнаты, в которой еще не было ни одной дельты
const InitialSeq int64 = -1

// Snapshot - авторитетный состав комнаты на момент дельты с номером Seq.
// Значение неизменяемое: Apply всегда возвращает новый снапшот.
// Для каждого участника хранится номер его входа: выход и повторный вход
// дают тот же состав, но другой номер.
type Snapshot struct {
	seq       int64
	clientIDs map[uuid.UUID]int64
}

// NewSnapshot создает снапшот; номером входа участников считается seq.
func NewSnapshot(seq int64, clientIDs ...uuid.UUID) Snapshot {
	ids := make(map[uuid.UUID]int64, len(clientIDs))
	for _, id := range clientIDs {
		ids[id] = seq
	}

	return Snapshot{seq: seq, clientIDs: ids}
}

// EmptySnapshot возвращает снапшот новой комнаты.
func EmptySnapshot() Snapshot {
	return NewSnapshot(InitialSeq)
}

func (s Snapshot) Seq() int64 {
	return s.seq
}

func (s Snapshot) Has(clientID uuid.UUID) bool {
	_, ok := s.clientIDs[clientID]
	return ok
}

// JoinSeq возвращает номер входа участника.
func (s Snapshot) JoinSeq(clientID uuid.UUID) (int64, bool) {
	seq, ok := s.clientIDs[clientID]
	return seq, ok
}

func (s Snapshot) Len() int {
	return len(s.clientIDs)
}

// ClientIDs возвращает участников, отсортированных по строковому представлению.
func (s Snapshot) ClientIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.clientIDs))
	for id := range s.clientIDs {
		ids = append(ids, id)
	}

	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	return ids
}

// SameMembers сравнивает только состав, без номера.
func (s Snapshot) SameMembers(other Snapshot) bool {
	if len(s.clientIDs) != len(other.clientIDs) {
		return false
	}

	for id := range s.clientIDs {
		if !other.Has(id) {
			return false
		}
	}

	return true
}

// Apply применяет дельту. Дельта применима только если delta.Seq == snapshot.Seq+1,
// иначе это нарушение протокола и исходный снапшот не меняется.
func (s Snapshot) Apply(delta Delta) (Snapshot, error) {
	if delta.Seq != s.seq+1 {
		return s, &InvariantError{SnapshotSeq: s.seq, DeltaSeq: delta.Seq}
	}

	ids := make(map[uuid.UUID]int64, len(s.clientIDs)+1)
	for id, joined := range s.clientIDs {
		ids[id] = joined
	}

	switch delta.Kind {
	case DeltaClientJoin:
		ids[delta.ClientID] = delta.Seq
	case DeltaClientLeft:
		delete(ids, delta.ClientID)
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownDelta, delta.Kind)
	}

	return Snapshot{seq: delta.Seq, clientIDs: ids}, nil
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Snapshot{seq: %d, clients: %v}", s.seq, s.ClientIDs())
}

type snapshotJSON struct {
	Seq       int64       `json:"seq"`
	ClientIDs []uuid.UUID `json:"client_ids"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Seq: s.seq, ClientIDs: s.ClientIDs()})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Seq < InitialSeq {
		return fmt.Errorf("snapshot seq %d below %d", raw.Seq, InitialSeq)
	}

	*s = NewSnapshot(raw.Seq, raw.ClientIDs...)

	return nil
}
