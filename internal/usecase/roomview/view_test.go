package roomview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/usecase/negotiation"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type stubRoomAPI struct {
	snapshot models.Snapshot
	err      error
}

func (a *stubRoomAPI) Snapshot(context.Context, uuid.UUID) (models.Snapshot, error) {
	return a.snapshot, a.err
}

func (a *stubRoomAPI) Deltas(context.Context, uuid.UUID, int64, int64) ([]models.Delta, error) {
	return nil, nil
}

type stubSession struct {
	mu        sync.Mutex
	started   bool
	destroyed bool
	msgs      []events.DirectMessage
	onEvent   func(negotiation.Event)
	gate      <-chan struct{}
}

func (s *stubSession) Start() {
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = true
}

func (s *stubSession) HandleMessage(msg events.DirectMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)
}

func (s *stubSession) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
}

func (s *stubSession) state() (started, destroyed bool, msgs int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started, s.destroyed, len(s.msgs)
}

type stubTransport struct {
	mu    sync.Mutex
	sent  map[uuid.UUID][]events.DirectMessage
	reset []uuid.UUID
}

func (t *stubTransport) SendDirect(_ context.Context, to uuid.UUID, msg events.DirectMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sent == nil {
		t.sent = make(map[uuid.UUID][]events.DirectMessage)
	}
	t.sent[to] = append(t.sent[to], msg)

	return nil
}

func (t *stubTransport) ResetPeer(to uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reset = append(t.reset, to)
}

func (t *stubTransport) resets() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]uuid.UUID(nil), t.reset...)
}

type sessionSet struct {
	mu       sync.Mutex
	sessions map[uuid.UUID][]*stubSession
	// Start новых сессий ждет закрытия gate
	gate chan struct{}
}

func (s *sessionSet) factory(remoteID uuid.UUID, onEvent func(negotiation.Event)) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions == nil {
		s.sessions = make(map[uuid.UUID][]*stubSession)
	}

	session := &stubSession{onEvent: onEvent, gate: s.gate}
	s.sessions[remoteID] = append(s.sessions[remoteID], session)

	return session, nil
}

func (s *sessionSet) of(id uuid.UUID) []*stubSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*stubSession(nil), s.sessions[id]...)
}

type viewHarness struct {
	view      *View
	sessions  *sessionSet
	transport *stubTransport
	cancel    context.CancelFunc
	errCh     chan error
}

func runView(t *testing.T, self uuid.UUID, api *stubRoomAPI) *viewHarness {
	t.Helper()

	return runViewWith(t, self, api, &sessionSet{})
}

func runViewWith(t *testing.T, self uuid.UUID, api *stubRoomAPI, sessions *sessionSet) *viewHarness {
	t.Helper()

	h := &viewHarness{
		sessions:  sessions,
		transport: &stubTransport{},
		errCh:     make(chan error, 1),
	}

	h.view = New(self, api, h.transport, h.sessions.factory)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	go func() {
		h.errCh <- h.view.Run(ctx, uuid.New())
	}()

	return h
}

func (h *viewHarness) waitSession(t *testing.T, id uuid.UUID) *stubSession {
	t.Helper()

	require.Eventually(t, func() bool { return len(h.sessions.of(id)) == 1 }, waitFor, tick)

	return h.sessions.of(id)[0]
}

func TestView_SessionsFollowSnapshots(t *testing.T) {
	self, a, b := uuid.New(), uuid.New(), uuid.New()

	h := runView(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self, a)})

	sessionA := h.waitSession(t, a)
	assert.Empty(t, h.sessions.of(self))

	started, _, _ := sessionA.state()
	assert.True(t, started)

	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientJoin(1, b), models.ClientLeft(2, a)))

	h.waitSession(t, b)

	require.Eventually(t, func() bool {
		_, destroyed, _ := sessionA.state()
		return destroyed
	}, waitFor, tick)

	assert.Equal(t, []uuid.UUID{a}, h.transport.resets())
	assert.Len(t, h.sessions.of(a), 1)
}

func (h *viewHarness) waitSeq(t *testing.T, seq int64) {
	t.Helper()

	require.Eventually(t, func() bool {
		snap, ok := h.view.Feed().Latest()
		return ok && snap.Seq() == seq
	}, waitFor, tick)
}

func TestView_PeerRejoinRecreatesSession(t *testing.T) {
	self, r := uuid.New(), uuid.New()

	gate := make(chan struct{})
	h := runViewWith(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self, r)}, &sessionSet{gate: gate})

	// первая сессия застряла в Start, снапшоты 1 и 2 схлопнутся в один
	require.Eventually(t, func() bool { return len(h.sessions.of(r)) == 1 }, waitFor, tick)

	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientLeft(1, r), models.ClientJoin(2, r)))
	h.waitSeq(t, 2)

	close(gate)

	require.Eventually(t, func() bool { return len(h.sessions.of(r)) == 2 }, waitFor, tick)

	sessions := h.sessions.of(r)

	_, destroyed, _ := sessions[0].state()
	assert.True(t, destroyed)

	require.Eventually(t, func() bool {
		started, destroyed, _ := sessions[1].state()
		return started && !destroyed
	}, waitFor, tick)

	assert.Equal(t, []uuid.UUID{r}, h.transport.resets())
}

func TestView_LocalRejoinResetsAllSessions(t *testing.T) {
	self, a, b := uuid.New(), uuid.New(), uuid.New()

	h := runView(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self, a, b)})

	oldA := h.waitSession(t, a)
	oldB := h.waitSession(t, b)

	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientLeft(1, self), models.ClientJoin(2, self)))

	require.Eventually(t, func() bool {
		return len(h.sessions.of(a)) == 2 && len(h.sessions.of(b)) == 2
	}, waitFor, tick)

	for _, old := range []*stubSession{oldA, oldB} {
		_, destroyed, _ := old.state()
		assert.True(t, destroyed)
	}

	assert.ElementsMatch(t, []uuid.UUID{a, b}, h.transport.resets())
}

func TestView_NoSessionsWhileLocalClientOutside(t *testing.T) {
	self, a, b := uuid.New(), uuid.New(), uuid.New()

	h := runView(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self, a)})
	oldA := h.waitSession(t, a)

	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientLeft(1, self), models.ClientJoin(2, b)))
	h.waitSeq(t, 2)

	require.Eventually(t, func() bool {
		_, destroyed, _ := oldA.state()
		return destroyed
	}, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.sessions.of(b))
	assert.Len(t, h.sessions.of(a), 1)

	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientJoin(3, self)))

	h.waitSession(t, b)
	require.Eventually(t, func() bool { return len(h.sessions.of(a)) == 2 }, waitFor, tick)
}

func TestView_HoldsMessagesUntilPeerAppears(t *testing.T) {
	self, a := uuid.New(), uuid.New()

	h := runView(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self)})

	require.Eventually(t, func() bool {
		snap, ok := h.view.Feed().Latest()
		return ok && snap.Seq() == 0
	}, waitFor, tick)

	h.view.HandleDirect(a, events.NewSelectingLeader(42))

	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientJoin(1, a)))

	session := h.waitSession(t, a)

	require.Eventually(t, func() bool {
		_, _, msgs := session.state()
		return msgs == 1
	}, waitFor, tick)
}

func TestView_DropsMessagesOfAbsentPeer(t *testing.T) {
	self, a, b := uuid.New(), uuid.New(), uuid.New()

	h := runView(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self)})

	require.Eventually(t, func() bool {
		snap, ok := h.view.Feed().Latest()
		return ok && snap.Seq() == 0
	}, waitFor, tick)

	h.view.HandleDirect(a, events.NewSelectingLeader(42))

	// снапшот без a выбрасывает придержанные сообщения
	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientJoin(1, b)))
	h.waitSession(t, b)

	require.NoError(t, h.view.HandleDelta(context.Background(), models.ClientJoin(2, a)))
	session := h.waitSession(t, a)

	time.Sleep(20 * time.Millisecond)

	_, _, msgs := session.state()
	assert.Equal(t, 0, msgs)
}

func TestView_RoutesSessionEvents(t *testing.T) {
	self, a := uuid.New(), uuid.New()

	h := runView(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self, a)})
	session := h.waitSession(t, a)

	session.onEvent(negotiation.SendMessageToRemote{Message: events.NewConfirmingLeader(7)})
	session.onEvent(negotiation.RemoteStream{StreamID: "stream"})

	h.transport.mu.Lock()
	sent := h.transport.sent[a]
	h.transport.mu.Unlock()

	require.Len(t, sent, 1)
	assert.Equal(t, events.ConfirmingLeader, sent[0].Kind)

	select {
	case ev := <-h.view.Events():
		assert.Equal(t, a, ev.RemoteID)
		assert.Equal(t, negotiation.RemoteStream{StreamID: "stream"}, ev.Event)
	case <-time.After(waitFor):
		t.Fatal("no peer event")
	}
}

func TestView_StopsOnFatalSyncError(t *testing.T) {
	h := runView(t, uuid.New(), &stubRoomAPI{err: models.ErrRoomNotFound})

	select {
	case err := <-h.errCh:
		require.ErrorIs(t, err, models.ErrRoomNotFound)
	case <-time.After(waitFor):
		t.Fatal("view did not stop")
	}
}

func TestView_CancelDestroysSessions(t *testing.T) {
	self, a := uuid.New(), uuid.New()

	h := runView(t, self, &stubRoomAPI{snapshot: models.NewSnapshot(0, self, a)})
	session := h.waitSession(t, a)

	h.cancel()

	select {
	case err := <-h.errCh:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("view did not stop")
	}

	_, destroyed, _ := session.state()
	assert.True(t, destroyed)
}
