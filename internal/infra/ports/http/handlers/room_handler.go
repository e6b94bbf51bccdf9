package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/input"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/infra/appctx"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/dto"
	"github.com/qrave1/RoomMesh/internal/usecase"
)

type RoomHandler struct {
	roomUsecase usecase.RoomUsecase
}

func NewRoomHandler(roomUsecase usecase.RoomUsecase) *RoomHandler {
	return &RoomHandler{roomUsecase: roomUsecase}
}

func (h *RoomHandler) CreateRoomHandler(c echo.Context) error {
	var req dto.CreateRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	clientID, ok := appctx.ClientID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid client"})
	}

	room, err := h.roomUsecase.CreateRoom(c.Request().Context(), &input.CreateRoomInput{
		CreatorID: clientID,
		Name:      req.Name,
		Passcode:  req.Passcode,
	})
	if err != nil {
		slog.Error("create room", slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create room"})
	}

	slog.Info(
		"room created",
		slog.String(constant.RoomID, room.ID.String()),
		slog.String(constant.ClientID, clientID.String()),
	)

	return c.JSON(http.StatusCreated, dto.NewRoomResponseFromModel(room))
}

func (h *RoomHandler) GetRoomHandler(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid room id"})
	}

	room, err := h.roomUsecase.GetRoom(c.Request().Context(), roomID)
	if err != nil {
		return roomError(c, "get room", err)
	}

	return c.JSON(http.StatusOK, dto.NewRoomResponseFromModel(room))
}

func (h *RoomHandler) SnapshotHandler(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid room id"})
	}

	snap, err := h.roomUsecase.Snapshot(c.Request().Context(), roomID)
	if err != nil {
		return roomError(c, "get snapshot", err)
	}

	return c.JSON(http.StatusOK, snap)
}

func (h *RoomHandler) DeltasHandler(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid room id"})
	}

	var fromSeq, toSeq int64

	// обе границы обязательны
	err = echo.QueryParamsBinder(c).
		MustInt64("fromSeq", &fromSeq).
		MustInt64("toSeq", &toSeq).
		BindError()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "fromSeq and toSeq are required integers"})
	}

	deltas, err := h.roomUsecase.Deltas(c.Request().Context(), &input.DeltaRangeInput{
		RoomID:  roomID,
		FromSeq: fromSeq,
		ToSeq:   toSeq,
	})
	if err != nil {
		return roomError(c, "get deltas", err)
	}

	return c.JSON(http.StatusOK, deltas)
}

func roomError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrRoomNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
	case errors.Is(err, models.ErrInvalidRange):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	slog.Error(op, slog.Any(constant.Error, err))

	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to " + op})
}
