package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/infra/appctx"
	"github.com/qrave1/RoomMesh/internal/usecase"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	roomUsecase      usecase.RoomUsecase
	signalingUsecase usecase.SignalingUsecase
}

func NewWebSocketHandler(
	cfg *config.Config,
	roomUsecase usecase.RoomUsecase,
	signalingUsecase usecase.SignalingUsecase,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				// headless клиенты Origin не шлют
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.Domain
			},
		},
		roomUsecase:      roomUsecase,
		signalingUsecase: signalingUsecase,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, ok := appctx.ClientID(ctx)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid client"})
	}

	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid room id"})
	}

	room, err := h.roomUsecase.GetRoom(ctx, roomID)
	if err != nil {
		return roomError(c, "get room", err)
	}

	if err = h.roomUsecase.VerifyPasscode(room, c.QueryParam("passcode")); err != nil {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid passcode"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("websocket upgrade", slog.Any(constant.Error, err))
		return nil
	}
	defer ws.Close()

	metric.IncrementWSActiveConnections()
	defer metric.DecrementWSActiveConnections()

	logger := slog.With(
		slog.String(constant.RoomID, roomID.String()),
		slog.String(constant.ClientID, clientID.String()),
	)

	if err = ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if err = h.signalingUsecase.HandleConnect(ctx, roomID, clientID, ws); err != nil {
		logger.Error("handle connect", slog.Any(constant.Error, err))
		return nil
	}

	defer func() {
		// запрос уже может быть отменен, а client_left должен дойти до остальных
		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()

		if err := h.signalingUsecase.HandleDisconnect(leaveCtx, roomID, clientID, ws); err != nil {
			logger.Error("handle disconnect", slog.Any(constant.Error, err))
		}
	}()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()

	go keepAlive(pingCtx, ws, logger)

	logger.Info("client connected")

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read", slog.Any(constant.Error, err))
			}

			logger.Info("client disconnected")

			return nil
		}

		var msg events.Message

		if err = json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("unmarshal websocket message", slog.Any(constant.Error, err))
			continue
		}

		if err = h.handleMessage(ctx, roomID, clientID, msg); err != nil {
			logger.Warn("handle message", slog.String(constant.Type, msg.Type), slog.Any(constant.Error, err))
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, roomID, clientID uuid.UUID, msg events.Message) error {
	if msg.IsDelta {
		return errors.New("deltas are issued by the server only")
	}

	if msg.Type == events.TypePing {
		h.signalingUsecase.HandlePing(ctx, roomID, clientID)
		return nil
	}

	if !events.DirectKind(msg.Type).Valid() {
		return errors.New("unknown message type")
	}

	return h.signalingUsecase.HandleDirect(ctx, roomID, clientID, msg)
}

// keepAlive шлет ping. WriteControl можно звать параллельно с остальными записями.
func keepAlive(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logger.Warn("ping failed", slog.Any(constant.Error, err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
