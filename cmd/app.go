package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/repository"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/memory"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/postgres"
	postgresrepo "github.com/qrave1/RoomMesh/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/server"
	"github.com/qrave1/RoomMesh/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room server",
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	setupLogger(cfg.Debug)

	slog.Info("Running app", slog.Bool("debug", cfg.Debug), slog.String("storage", cfg.Storage))

	roomRepo, health, closeRepo, err := newRoomRepository(ctx, cfg)
	if err != nil {
		slog.Error("init room storage", slog.Any(constant.Error, err))
		os.Exit(1)
	}
	defer closeRepo()

	wsConnRepo := memory.NewWSConnectionRepository()

	authUsecase := usecase.NewAuthUsecase([]byte(cfg.JWTSecret))
	roomUsecase := usecase.NewRoomUsecase(roomRepo)
	signalingUsecase := usecase.NewSignalingUsecase(roomUsecase, wsConnRepo)

	authHandler := handlers.NewAuthHandler(cfg, authUsecase)
	roomHandler := handlers.NewRoomHandler(roomUsecase)
	iceHandler := handlers.NewIceHandler(cfg)
	wsHandler := handlers.NewWebSocketHandler(cfg, roomUsecase, signalingUsecase)

	echoSrv := server.New(cfg, authHandler, roomHandler, iceHandler, wsHandler)
	metricSrv := metric.NewServer(health)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server started", slog.String("port", cfg.Port))

		if err := echoSrv.Start(":" + cfg.Port); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := metricSrv.Start(":" + cfg.MetricPort); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metric server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		slog.Info("Shutting down servers")

		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer timeoutCancel()

		if err := echoSrv.Shutdown(timeoutCtx); err != nil {
			slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
		}

		if err := metricSrv.Shutdown(timeoutCtx); err != nil {
			slog.Error("Failed to gracefully shutdown metric server", slog.Any(constant.Error, err))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	}
}

// newRoomRepository возвращает хранилище комнат, проверку его доступности для /health и закрытие.
func newRoomRepository(ctx context.Context, cfg *config.Config) (repository.RoomRepository, metric.HealthCheck, func(), error) {
	if cfg.Storage == config.StorageMemory {
		return memory.NewRoomRepository(), nil, func() {}, nil
	}

	dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return postgresrepo.NewRoomRepo(dbConn), dbConn.PingContext, func() { _ = dbConn.Close() }, nil
}
