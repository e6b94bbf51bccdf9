package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/memory"
)

type SignalingUsecase interface {
	HandleConnect(ctx context.Context, roomID, clientID uuid.UUID, conn memory.Conn) error
	HandleDisconnect(ctx context.Context, roomID, clientID uuid.UUID, conn memory.Conn) error

	HandleDirect(ctx context.Context, roomID, from uuid.UUID, msg events.Message) error
	HandlePing(ctx context.Context, roomID, clientID uuid.UUID)
}

type signalingUsecase struct {
	roomUsecase RoomUsecase
	wsRepo      memory.WebsocketConnectionRepository
}

func NewSignalingUsecase(roomUsecase RoomUsecase, wsRepo memory.WebsocketConnectionRepository) SignalingUsecase {
	return &signalingUsecase{
		roomUsecase: roomUsecase,
		wsRepo:      wsRepo,
	}
}

// HandleConnect регистрирует сокет и рассылает client_join всей комнате, включая вошедшего.
// Повторное подключение того же клиента вытесняет старый сокет без новой дельты.
func (s *signalingUsecase) HandleConnect(ctx context.Context, roomID, clientID uuid.UUID, conn memory.Conn) error {
	replaced := s.wsRepo.Add(roomID, clientID, conn)
	if replaced != nil {
		slog.Info(
			"client reconnected, closing previous socket",
			slog.String(constant.RoomID, roomID.String()),
			slog.String(constant.ClientID, clientID.String()),
		)

		_ = replaced.Close()

		return nil
	}

	delta, err := s.roomUsecase.Join(ctx, roomID, clientID)
	if err != nil {
		s.wsRepo.Remove(roomID, clientID, conn)
		return fmt.Errorf("join room: %w", err)
	}

	return s.broadcastDelta(roomID, delta)
}

// HandleDisconnect ничего не делает, если сокет уже вытеснен более новым.
func (s *signalingUsecase) HandleDisconnect(ctx context.Context, roomID, clientID uuid.UUID, conn memory.Conn) error {
	if !s.wsRepo.Remove(roomID, clientID, conn) {
		return nil
	}

	delta, err := s.roomUsecase.Leave(ctx, roomID, clientID)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}

	return s.broadcastDelta(roomID, delta)
}

func (s *signalingUsecase) broadcastDelta(roomID uuid.UUID, delta models.Delta) error {
	msg, err := events.NewDeltaMessage(delta)
	if err != nil {
		return err
	}

	slog.Debug(
		"broadcast delta",
		slog.String(constant.RoomID, roomID.String()),
		slog.String(constant.Type, string(delta.Kind)),
		slog.Int64(constant.Seq, delta.Seq),
	)

	s.wsRepo.Broadcast(roomID, msg)

	return nil
}

// HandleDirect пересылает личное сообщение адресату в той же комнате.
// Отправитель всегда берется из аутентификации, а не из тела сообщения.
func (s *signalingUsecase) HandleDirect(ctx context.Context, roomID, from uuid.UUID, msg events.Message) error {
	ev, direct, err := msg.Direct()
	if err != nil {
		return fmt.Errorf("parse direct message: %w", err)
	}

	out, err := events.NewDirectMessage(from, ev.To, direct)
	if err != nil {
		return err
	}

	err = s.wsRepo.Write(roomID, ev.To, out)
	if errors.Is(err, memory.ErrNotConnected) {
		slog.Debug(
			"drop direct message to absent client",
			slog.String(constant.RoomID, roomID.String()),
			slog.String(constant.ClientID, from.String()),
			slog.String(constant.RemoteID, ev.To.String()),
			slog.String(constant.Type, msg.Type),
		)

		return nil
	}
	if err != nil {
		return fmt.Errorf("write direct message: %w", err)
	}

	return nil
}

func (s *signalingUsecase) HandlePing(ctx context.Context, roomID, clientID uuid.UUID) {
	if err := s.wsRepo.Write(roomID, clientID, events.Message{Type: events.TypePong}); err != nil {
		slog.Error("write pong", slog.String(constant.ClientID, clientID.String()), slog.Any(constant.Error, err))
	}
}
