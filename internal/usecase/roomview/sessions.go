package roomview

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/qrave1/RoomMesh/internal/usecase/negotiation"
)

// SessionOptions - общие настройки сессий согласования комнаты.
type SessionOptions struct {
	LocalID          uuid.UUID
	Factory          negotiation.ConnectionFactory
	Media            negotiation.MediaAttacher
	Clock            clockwork.Clock
	ElectionDelay    time.Duration
	ElectionInterval time.Duration
	Logger           *slog.Logger
}

// NegotiationSessions строит SessionFactory поверх negotiation.Session.
func NegotiationSessions(opts SessionOptions) SessionFactory {
	return func(remoteID uuid.UUID, onEvent func(negotiation.Event)) (Session, error) {
		return negotiation.New(negotiation.Config{
			LocalID:          opts.LocalID,
			RemoteID:         remoteID,
			Factory:          opts.Factory,
			Media:            opts.Media,
			OnEvent:          onEvent,
			Clock:            opts.Clock,
			ElectionDelay:    opts.ElectionDelay,
			ElectionInterval: opts.ElectionInterval,
			Logger:           opts.Logger,
		})
	}
}
