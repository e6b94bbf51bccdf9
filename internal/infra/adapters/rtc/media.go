package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/usecase/negotiation"
)

const (
	opusPayloadType = 111
	opusClockRate   = 48000

	// FrameInterval - длительность одного opus кадра
	FrameInterval = 20 * time.Millisecond
	frameSamples  = opusClockRate / 1000 * 20
)

// opusSilence - кадр тишины opus (TOC 0xf8 и пустой кадр)
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Media - один локальный аудио трек, который добавляется во все соединения клиента.
type Media struct {
	track *webrtc.TrackLocalStaticRTP
}

func NewMedia(streamID string) (*Media, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	return &Media{track: track}, nil
}

// Track - локальный трек для источника пакетов.
func (m *Media) Track() *webrtc.TrackLocalStaticRTP {
	return m.track
}

func (m *Media) AttachMedia(conn negotiation.Connection) error {
	sender, err := conn.AddTrack(m.track)
	if err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}

	// RTCP надо вычитывать, иначе interceptors не работают
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

// RTPWriter - то, что нужно от *webrtc.TrackLocalStaticRTP
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// SilenceSource пишет кадр тишины каждые FrameInterval, пока жив контекст.
type SilenceSource struct {
	out   RTPWriter
	clock clockwork.Clock
	ssrc  uint32
}

func NewSilenceSource(out RTPWriter, clock clockwork.Clock) *SilenceSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &SilenceSource{out: out, clock: clock, ssrc: rand.Uint32()}
}

func (s *SilenceSource) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(FrameInterval)
	defer ticker.Stop()

	var (
		seq       = uint16(rand.Intn(1 << 16))
		timestamp = rand.Uint32()
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    opusPayloadType,
					SequenceNumber: seq,
					Timestamp:      timestamp,
					SSRC:           s.ssrc,
				},
				Payload: opusSilence,
			}

			if err := s.out.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				return fmt.Errorf("write rtp: %w", err)
			}

			seq++
			timestamp += frameSamples
		}
	}
}

// Drain вычитывает удаленный трек до его закрытия и возвращает число пакетов.
func Drain(track *webrtc.TrackRemote, logger *slog.Logger) int {
	return drain(func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}, logger.With(slog.String(constant.TrackID, track.ID())))
}

func drain(read func() (*rtp.Packet, error), logger *slog.Logger) int {
	var count int

	for {
		_, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("rtp read", slog.Any(constant.Error, err))
			}

			logger.Info("remote track ended", slog.Int("packets", count))

			return count
		}

		count++
		metric.RecordRTPReceived()
	}
}
