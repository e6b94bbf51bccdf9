package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvariantViolation = errors.New("protocol invariant violation")
	ErrUnknownDelta       = errors.New("unknown delta kind")
	ErrRoomNotFound       = errors.New("room not found")
	ErrInvalidRange       = errors.New("invalid seq range")
	ErrInvalidPasscode    = errors.New("invalid passcode")
)

// InvariantError - попытка применить дельту не к следующему номеру снапшота.
// Ошибка фатальна для подписки на комнату и не ретраится.
type InvariantError struct {
	SnapshotSeq int64
	DeltaSeq    int64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf(
		"%s: delta seq %d applied to snapshot seq %d",
		ErrInvariantViolation,
		e.DeltaSeq,
		e.SnapshotSeq,
	)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}
