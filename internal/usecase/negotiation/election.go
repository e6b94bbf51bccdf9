package negotiation

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
)

// runElection шлет selecting_leader после задержки и дальше по тикеру,
// пока роль не определена. Сама отправка идет через очередь команд.
func (s *Session) runElection(ctx context.Context) {
	defer s.electionWG.Done()

	select {
	case <-s.clock.After(s.cfg.ElectionDelay):
	case <-ctx.Done():
		return
	}

	ticker := s.clock.NewTicker(s.cfg.ElectionInterval)
	defer ticker.Stop()

	for {
		s.enqueue("selecting leader", func(context.Context) {
			if s.Role() != RoleUnknown {
				return
			}

			s.send(events.NewSelectingLeader(s.localValue))
		})

		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return
		}
	}
}

// decideRole: меньшее значение становится polite. При равенстве
// сравниваются идентификаторы клиентов, чтобы обе стороны пришли к одному ответу.
func decideRole(localValue, remoteValue int64, localID, remoteID uuid.UUID) Role {
	switch {
	case localValue < remoteValue:
		return RolePolite
	case localValue > remoteValue:
		return RoleImpolite
	}

	if bytes.Compare(localID[:], remoteID[:]) < 0 {
		return RolePolite
	}

	return RoleImpolite
}

func (s *Session) handleElection(msg events.DirectMessage) {
	if msg.Kind == events.ConfirmingLeader {
		s.confirmReceived = true
	}

	// Роль решается первым сообщением выборов, остальные ее не меняют
	if s.Role() != RoleUnknown {
		s.maybeAttachMedia()
		return
	}

	role := decideRole(s.localValue, msg.RandomValue, s.cfg.LocalID, s.cfg.RemoteID)

	// Роль фиксируется только вместе с соединением: при ошибке выборы
	// продолжаются и следующий selecting_leader пробует снова
	conn, err := s.cfg.Factory.NewConnection(role)
	if err != nil {
		s.logger.Error("create peer connection", slog.String(constant.Role, role.String()), slog.Any(constant.Error, err))
		s.failStep("create_connection")
		return
	}

	s.role.Store(int32(role))
	s.electionCancel()

	if role == RolePolite {
		s.setState(StatePolite)
	} else {
		s.setState(StateImpolite)
	}

	s.logger.Info(
		"leader elected",
		slog.String(constant.Role, role.String()),
		slog.Int64("local_value", s.localValue),
		slog.Int64("remote_value", msg.RandomValue),
	)

	s.wireConnection(conn)

	s.send(events.NewConfirmingLeader(s.localValue))
	s.confirmSent = true

	// Описания и кандидаты, пришедшие до соединения, обрабатываются по порядку
	early := s.early
	s.early = nil

	for _, next := range early {
		s.handleSequenced(s.ctx, next)
	}

	s.maybeAttachMedia()
}

// maybeAttachMedia добавляет локальные треки, когда confirming_leader
// и отправлен, и получен.
func (s *Session) maybeAttachMedia() {
	if s.mediaAttached || s.conn == nil || !s.confirmSent || !s.confirmReceived {
		return
	}

	s.mediaAttached = true
	s.setState(StateNegotiating)

	if s.cfg.Media == nil {
		return
	}

	if err := s.cfg.Media.AttachMedia(s.conn); err != nil {
		s.logger.Error("attach local media", slog.Any(constant.Error, err))
		s.failStep("attach_media")
	}
}
