package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/live"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/roomapi"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/rtc"
	"github.com/qrave1/RoomMesh/internal/usecase/negotiation"
	"github.com/qrave1/RoomMesh/internal/usecase/roomsync"
	"github.com/qrave1/RoomMesh/internal/usecase/roomview"
)

var clientFlags struct {
	server   string
	room     string
	passcode string
	token    string
	debug    bool
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room as a headless peer that sends silence to every member",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}

		setupLogger(cfg.Debug)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runJoin(ctx, cfg)
	},
}

func init() {
	addClientFlags(joinCmd)

	rootCmd.AddCommand(joinCmd)
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientFlags.server, "server", "", "room server url (ROOMMESH_SERVER_URL)")
	cmd.Flags().StringVar(&clientFlags.room, "room", "", "room id (ROOMMESH_ROOM_ID)")
	cmd.Flags().StringVar(&clientFlags.passcode, "passcode", "", "room passcode (ROOMMESH_PASSCODE)")
	cmd.Flags().StringVar(&clientFlags.token, "token", "", "client token, a guest token is issued when empty (ROOMMESH_TOKEN)")
	cmd.Flags().BoolVar(&clientFlags.debug, "debug", false, "debug logging (DEBUG)")
}

// loadClientConfig читает окружение, флаги имеют приоритет.
func loadClientConfig(cmd *cobra.Command) (*config.ClientConfig, error) {
	cfg, err := config.NewClient()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("server") {
		cfg.ServerURL = clientFlags.server
	}

	if flags.Changed("room") {
		cfg.RoomID = clientFlags.room
	}

	if flags.Changed("passcode") {
		cfg.Passcode = clientFlags.passcode
	}

	if flags.Changed("token") {
		cfg.Token = clientFlags.token
	}

	if flags.Changed("debug") {
		cfg.Debug = clientFlags.debug
	}

	return cfg, nil
}

// authenticate возвращает client_id и токен: свой или выданный сервером гостевой.
func authenticate(ctx context.Context, api *roomapi.Client, token string) (uuid.UUID, string, error) {
	if token != "" {
		clientID, err := api.UseToken(token)
		return clientID, token, err
	}

	guest, err := api.Guest(ctx)
	if err != nil {
		return uuid.Nil, "", err
	}

	return guest.ClientID, guest.Token, nil
}

func runJoin(ctx context.Context, cfg *config.ClientConfig) error {
	roomID, err := uuid.Parse(cfg.RoomID)
	if err != nil {
		return fmt.Errorf("parse room id %q: %w", cfg.RoomID, err)
	}

	api := roomapi.New(cfg.ServerURL)

	clientID, token, err := authenticate(ctx, api, cfg.Token)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	logger := slog.Default().With(
		slog.String(constant.ClientID, clientID.String()),
		slog.String(constant.RoomID, roomID.String()),
	)

	factory, err := rtc.NewFactory(rtc.FactoryOptions{ICEServers: cfg.ICEServers(), Logger: slog.Default()})
	if err != nil {
		return err
	}

	media, err := rtc.NewMedia(clientID.String())
	if err != nil {
		return err
	}

	var view *roomview.View

	liveClient, err := live.New(
		live.Config{
			ServerURL:      cfg.ServerURL,
			RoomID:         roomID,
			Passcode:       cfg.Passcode,
			Token:          token,
			ReconnectDelay: cfg.ReconnectDelay,
		},
		func(ctx context.Context, delta models.Delta) error {
			return view.HandleDelta(ctx, delta)
		},
		func(from uuid.UUID, msg events.DirectMessage) {
			view.HandleDirect(from, msg)
		},
	)
	if err != nil {
		return err
	}

	view = roomview.New(clientID, api, liveClient, roomview.NegotiationSessions(roomview.SessionOptions{
		LocalID:          clientID,
		Factory:          factory,
		Media:            media,
		ElectionDelay:    cfg.ElectionDelay,
		ElectionInterval: cfg.ElectionInterval,
		Logger:           logger,
	}))

	logger.Info("joining room", slog.String("server", cfg.ServerURL))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return liveClient.Run(gCtx)
	})

	// снапшот берем только после подключения, чтобы не пропустить дельты
	g.Go(func() error {
		select {
		case <-liveClient.Connected():
		case <-gCtx.Done():
			return nil
		}

		return view.Run(gCtx, roomID)
	})

	g.Go(func() error {
		return rtc.NewSilenceSource(media.Track(), nil).Run(gCtx)
	})

	g.Go(func() error {
		consumePeerEvents(gCtx, view.Events(), logger)
		return nil
	})

	g.Go(func() error {
		logRoster(gCtx, view.Feed(), logger)
		return nil
	})

	if err = g.Wait(); err != nil {
		return err
	}

	logger.Info("left room")

	return nil
}

func consumePeerEvents(ctx context.Context, peerEvents <-chan roomview.PeerEvent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-peerEvents:
			peerLogger := logger.With(slog.String(constant.RemoteID, ev.RemoteID.String()))

			switch e := ev.Event.(type) {
			case negotiation.RemoteStream:
				peerLogger.Info("remote stream", slog.String(constant.StreamID, e.StreamID))
			case negotiation.RemoteTrack:
				go rtc.Drain(e.Track, peerLogger)
			}
		}
	}
}

func logRoster(ctx context.Context, feed *roomsync.Feed, logger *slog.Logger) {
	snapshots, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}

			logger.Info("room members", slog.Int64(constant.Seq, snap.Seq()), slog.Int("count", snap.Len()))
		}
	}
}
