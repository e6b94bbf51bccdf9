package server

import (
	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	roomHandler *handlers.RoomHandler,
	iceHandler *handlers.IceHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	api := e.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/guest", authHandler.Guest)
		}

		v1 := api.Group("/v1")
		v1.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
		{
			v1.GET("/ice", iceHandler.IceServers)

			v1.POST("/rooms", roomHandler.CreateRoomHandler)
			v1.GET("/rooms/:id", roomHandler.GetRoomHandler)
			v1.GET("/rooms/:id/snapshot", roomHandler.SnapshotHandler)
			v1.GET("/rooms/:id/deltas", roomHandler.DeltasHandler)
			v1.GET("/rooms/:id/ws", wsHandler.Handle)
		}
	}

	return e
}
