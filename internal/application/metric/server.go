package metric

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthTimeout = 2 * time.Second

// HealthCheck проверяет хранилище комнат. nil - хранилище доступно.
type HealthCheck func(ctx context.Context) error

// NewServer - служебный сервер: /metrics и /health.
// /health отвечает 503, пока check возвращает ошибку.
func NewServer(check HealthCheck) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/health", func(c echo.Context) error {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
			defer cancel()

			if err := check(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			}
		}

		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return e
}
