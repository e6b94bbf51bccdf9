package negotiation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/domain/events"
)

var errWrongState = errors.New("wrong signaling state")

// fakeConn повторяет машину состояний сигналинга RTCPeerConnection.
type fakeConn struct {
	mu sync.Mutex

	name      string
	role      Role
	state     webrtc.SignalingState
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	offers    int
	rollbacks int
	added     []webrtc.ICECandidateInit
	tracks    int
	closed    bool
	answerErr error

	onState func(webrtc.SignalingState)
	onNeg   func()
	onICE   func(*webrtc.ICECandidate)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *fakeConn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remote
}

func (c *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offers++

	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", c.name, c.offers)}, nil
}

func (c *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}

	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errWrongState
	}

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + c.name}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()

	var next webrtc.SignalingState

	switch {
	case desc.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		next = webrtc.SignalingStateHaveLocalOffer
		c.local = &desc
	case desc.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveRemoteOffer:
		next = webrtc.SignalingStateStable
		c.local = &desc
	case desc.Type == webrtc.SDPTypeRollback && c.state == webrtc.SignalingStateHaveLocalOffer:
		next = webrtc.SignalingStateStable
		c.local = nil
		c.rollbacks++
	default:
		c.mu.Unlock()
		return fmt.Errorf("set local %s in %s: %w", desc.Type, c.state, errWrongState)
	}

	return c.transition(next)
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()

	var next webrtc.SignalingState

	switch {
	case desc.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		next = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveLocalOffer:
		next = webrtc.SignalingStateStable
	default:
		c.mu.Unlock()
		return fmt.Errorf("set remote %s in %s: %w", desc.Type, c.state, errWrongState)
	}

	c.remote = &desc

	return c.transition(next)
}

// transition вызывается под c.mu и отпускает его.
func (c *fakeConn) transition(next webrtc.SignalingState) error {
	c.state = next
	handler := c.onState
	c.mu.Unlock()

	if handler != nil {
		go handler(next)
	}

	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remote == nil {
		return errors.New("remote description is not set")
	}

	c.added = append(c.added, candidate)

	return nil
}

func (c *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	c.tracks++
	handler := c.onNeg
	c.mu.Unlock()

	if handler != nil {
		go handler()
	}

	return nil, nil
}

func (c *fakeConn) OnSignalingStateChange(f func(webrtc.SignalingState)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onState = f
}

func (c *fakeConn) OnNegotiationNeeded(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onNeg = f
}

func (c *fakeConn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onICE = f
}

func (c *fakeConn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onTrack = f
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

type connSnapshot struct {
	state     webrtc.SignalingState
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	rollbacks int
	added     int
	tracks    int
	closed    bool
}

func (c *fakeConn) snapshot() connSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return connSnapshot{
		state:     c.state,
		local:     c.local,
		remote:    c.remote,
		rollbacks: c.rollbacks,
		added:     len(c.added),
		tracks:    c.tracks,
		closed:    c.closed,
	}
}

type fakeFactory struct {
	mu        sync.Mutex
	name      string
	conns     []*fakeConn
	answerErr error
	err       error
}

func (f *fakeFactory) NewConnection(role Role) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	conn := &fakeConn{
		name:      f.name,
		role:      role,
		state:     webrtc.SignalingStateStable,
		answerErr: f.answerErr,
	}
	f.conns = append(f.conns, conn)

	return conn, nil
}

func (f *fakeFactory) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
}

func (f *fakeFactory) created() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeConn(nil), f.conns...)
}

// fakeMedia добавляет один трек, как настоящий источник звука.
type fakeMedia struct {
	mu    sync.Mutex
	calls int
}

func (m *fakeMedia) AttachMedia(conn Connection) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	_, err := conn.AddTrack(nil)

	return err
}

func (m *fakeMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// recorder собирает исходящие сообщения сессии.
type recorder struct {
	mu      sync.Mutex
	msgs    []events.DirectMessage
	forward func(events.DirectMessage)
	seq     int64
}

func (r *recorder) onEvent(ev Event) {
	send, ok := ev.(SendMessageToRemote)
	if !ok {
		return
	}

	msg := send.Message

	r.mu.Lock()
	if msg.Kind.Sequenced() {
		msg.Seq = r.seq
		r.seq++
	}
	r.msgs = append(r.msgs, msg)
	forward := r.forward
	r.mu.Unlock()

	if forward != nil {
		forward(msg)
	}
}

func (r *recorder) ofKind(kind events.DirectKind) []events.DirectMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.DirectMessage
	for _, msg := range r.msgs {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}

	return out
}

func (r *recorder) descriptions(typ webrtc.SDPType) []webrtc.SessionDescription {
	var out []webrtc.SessionDescription
	for _, msg := range r.ofKind(events.Description) {
		if msg.Description.Type == typ {
			out = append(out, *msg.Description)
		}
	}

	return out
}

func remoteDescription(seq int64, typ webrtc.SDPType, sdp string) events.DirectMessage {
	msg := events.NewDescription(webrtc.SessionDescription{Type: typ, SDP: sdp})
	msg.Seq = seq

	return msg
}

func remoteCandidate(seq int64, candidate string) events.DirectMessage {
	msg := events.NewIceCandidate(webrtc.ICECandidateInit{Candidate: candidate})
	msg.Seq = seq

	return msg
}
