// Package rtc - соединения pion для сессий согласования.
package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/usecase/negotiation"
)

type FactoryOptions struct {
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger

	// IncludeLoopback разрешает loopback кандидатов, нужно для локальных прогонов
	IncludeLoopback bool
}

// Factory создает *webrtc.PeerConnection с общими кодеками и логгером.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *slog.Logger
}

func NewFactory(opts FactoryOptions) (*Factory, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: SlogLoggerFactory{Logger: opts.Logger},
	}
	settingEngine.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: webrtc.Configuration{ICEServers: opts.ICEServers},
		logger: opts.Logger,
	}, nil
}

func (f *Factory) NewConnection(role negotiation.Role) (negotiation.Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	logger := f.logger.With(slog.String(constant.Role, role.String()))

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateDisconnected {
			logger.Warn("peer connection bad state", slog.String(constant.State, state.String()))
			return
		}

		logger.Debug("peer connection state", slog.String(constant.State, state.String()))
	})

	return pc, nil
}
