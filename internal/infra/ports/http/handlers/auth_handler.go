package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/dto"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/middleware"
	"github.com/qrave1/RoomMesh/internal/usecase"
)

type AuthHandler struct {
	cfg         *config.Config
	authUsecase usecase.AuthUsecase
}

func NewAuthHandler(cfg *config.Config, authUsecase usecase.AuthUsecase) *AuthHandler {
	return &AuthHandler{
		cfg:         cfg,
		authUsecase: authUsecase,
	}
}

// Guest выдает новый client_id. Токен возвращается в теле для headless клиентов и в cookie для браузера.
func (h *AuthHandler) Guest(c echo.Context) error {
	clientID, token, err := h.authUsecase.Guest()
	if err != nil {
		slog.Error("generate guest token", slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not create token"})
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.CookieName,
		Value:    token,
		Expires:  time.Now().Add(72 * time.Hour),
		Path:     "/",
		Secure:   !h.cfg.Debug,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("guest issued", slog.String(constant.ClientID, clientID.String()))

	return c.JSON(http.StatusCreated, dto.GuestResponse{ClientID: clientID, Token: token})
}
