package negotiation

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/events"
)

// wireConnection подписывается на колбеки pion. Колбеки приходят из чужих
// горутин, поэтому все они только ставят команды в очередь.
func (s *Session) wireConnection(conn Connection) {
	s.conn = conn

	conn.OnNegotiationNeeded(func() {
		s.enqueue("create offer", s.createOffer)
	})

	conn.OnSignalingStateChange(func(state webrtc.SignalingState) {
		s.enqueue("signaling state "+state.String(), func(context.Context) {
			s.logger.Debug("signaling state changed", slog.String(constant.State, state.String()))
			s.flushCandidates()
		})
	})

	conn.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil - сбор кандидатов завершен
		if candidate == nil {
			return
		}

		candidateInit := candidate.ToJSON()

		s.enqueue("send ice candidate", func(context.Context) {
			s.send(events.NewIceCandidate(candidateInit))
		})
	})

	conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.enqueue("remote track", func(context.Context) {
			s.handleRemoteTrack(track, receiver)
		})
	})
}

func (s *Session) createOffer(ctx context.Context) {
	if s.conn == nil {
		return
	}

	offer, err := s.conn.CreateOffer(nil)
	if err != nil {
		s.logStepError("create offer", err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	if err := s.conn.SetLocalDescription(offer); err != nil {
		s.logStepError("set local offer", err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	s.send(events.NewDescription(offer))
}

func (s *Session) handleRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) {
	if desc.Type == webrtc.SDPTypeOffer && s.conn.SignalingState() != webrtc.SignalingStateStable {
		// glare: impolite игнорирует встречный оффер, polite откатывает свой
		if s.Role() == RoleImpolite {
			s.logger.Info("ignore colliding offer", slog.String(constant.State, s.conn.SignalingState().String()))
			metric.RecordGlareDropped()
			return
		}

		if err := s.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			s.logStepError("rollback local offer", err)
			return
		}

		s.logger.Info("local offer rolled back")
	}

	if err := s.conn.SetRemoteDescription(desc); err != nil {
		s.logStepError("set remote "+desc.Type.String(), err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	s.flushCandidates()

	if desc.Type != webrtc.SDPTypeOffer {
		return
	}

	answer, err := s.conn.CreateAnswer(nil)
	if err != nil {
		s.logStepError("create answer", err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	if err := s.conn.SetLocalDescription(answer); err != nil {
		s.logStepError("set local answer", err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	s.send(events.NewDescription(answer))
}

// canAddCandidates: pion не принимает кандидатов без удаленного описания.
func (s *Session) canAddCandidates() bool {
	if s.conn == nil || s.conn.RemoteDescription() == nil {
		return false
	}

	state := s.conn.SignalingState()

	return state == webrtc.SignalingStateStable || state == webrtc.SignalingStateHaveRemoteOffer
}

func (s *Session) addIceCandidate(candidate webrtc.ICECandidateInit) {
	if !s.canAddCandidates() {
		s.candidates = append(s.candidates, candidate)
		s.logger.Debug("ice candidate buffered", slog.Int(constant.Pending, len(s.candidates)))
		return
	}

	if err := s.conn.AddICECandidate(candidate); err != nil {
		s.logStepError("add ice candidate", err)
	}
}

func (s *Session) flushCandidates() {
	if len(s.candidates) == 0 || !s.canAddCandidates() {
		return
	}

	pending := s.candidates
	s.candidates = nil

	s.logger.Debug("flush buffered ice candidates", slog.Int(constant.Pending, len(pending)))

	for _, candidate := range pending {
		if err := s.conn.AddICECandidate(candidate); err != nil {
			s.logStepError("add ice candidate", err)
		}
	}
}

func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	streamID := track.StreamID()

	s.logger.Info(
		"remote track received",
		slog.String(constant.TrackID, track.ID()),
		slog.String(constant.StreamID, streamID),
	)

	if _, ok := s.streams[streamID]; !ok {
		s.streams[streamID] = struct{}{}
		s.emit(RemoteStream{StreamID: streamID, Track: track})
	}

	s.emit(RemoteTrack{Track: track, Receiver: receiver})
}

// logStepError - ошибки SDP и ICE не останавливают сессию.
func (s *Session) logStepError(step string, err error) {
	s.logger.Error("negotiation step failed", slog.String(constant.Step, step), slog.Any(constant.Error, err))
	s.failStep(step)
}

func (s *Session) failStep(step string) {
	metric.RecordNegotiationFailure(step)
}
