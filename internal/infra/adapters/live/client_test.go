package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeServer - канал комнаты, который отдает сокеты тесту.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	conns    chan *websocket.Conn
	status   int
	mu       sync.Mutex
	lastAuth string
	lastPath string
	passcode string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{t: t, conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.lastAuth = r.Header.Get("Authorization")
		fs.lastPath = r.URL.Path
		fs.passcode = r.URL.Query().Get("passcode")
		status := fs.status
		fs.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		fs.conns <- conn
	}))
	t.Cleanup(fs.srv.Close)

	return fs
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("client did not connect")
		return nil
	}
}

type received struct {
	mu      sync.Mutex
	deltas  []models.Delta
	directs []events.DirectMessage
	from    []uuid.UUID
}

func (r *received) delta(_ context.Context, d models.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deltas = append(r.deltas, d)

	return nil
}

func (r *received) direct(from uuid.UUID, msg events.DirectMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.from = append(r.from, from)
	r.directs = append(r.directs, msg)
}

func (r *received) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.deltas), len(r.directs)
}

func startClient(t *testing.T, cfg Config, r *received) (*Client, chan error) {
	t.Helper()

	c, err := New(cfg, r.delta, r.direct)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	return c, errCh
}

func TestChannelURL(t *testing.T) {
	roomID := uuid.MustParse("6f1c1c52-2f43-4a5e-9d2e-0b9c8f0f4a11")

	got, err := channelURL("https://rooms.example.com/base/", roomID, "1234")
	require.NoError(t, err)
	assert.Equal(t, "wss://rooms.example.com/base/api/v1/rooms/"+roomID.String()+"/ws?passcode=1234", got)

	got, err = channelURL("http://localhost:3000", roomID, "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3000/api/v1/rooms/"+roomID.String()+"/ws", got)

	_, err = channelURL("ftp://localhost", roomID, "")
	require.Error(t, err)
}

func TestClient_Demultiplexes(t *testing.T) {
	fs := newFakeServer(t)
	r := &received{}
	roomID := uuid.New()

	startClient(t, Config{ServerURL: fs.srv.URL, RoomID: roomID, Token: "tok", Passcode: "1234"}, r)

	conn := fs.accept(t)

	fs.mu.Lock()
	assert.Equal(t, "Bearer tok", fs.lastAuth)
	assert.Equal(t, "/api/v1/rooms/"+roomID.String()+"/ws", fs.lastPath)
	assert.Equal(t, "1234", fs.passcode)
	fs.mu.Unlock()

	a, b := uuid.New(), uuid.New()

	join, err := events.NewDeltaMessage(models.ClientJoin(0, a))
	require.NoError(t, err)

	direct, err := events.NewDirectMessage(a, b, events.NewSelectingLeader(77))
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(join))
	require.NoError(t, conn.WriteJSON(events.Message{Type: events.TypePong}))
	require.NoError(t, conn.WriteJSON(events.Message{Type: "garbage"}))
	require.NoError(t, conn.WriteJSON(direct))

	require.Eventually(t, func() bool {
		deltas, directs := r.counts()
		return deltas == 1 && directs == 1
	}, waitFor, tick)

	r.mu.Lock()
	defer r.mu.Unlock()

	assert.Equal(t, models.ClientJoin(0, a), r.deltas[0])
	assert.Equal(t, a, r.from[0])
	assert.Equal(t, events.NewSelectingLeader(77), r.directs[0])
}

func readDirect(t *testing.T, conn *websocket.Conn) (events.DirectEvent, events.DirectMessage) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg events.Message
	require.NoError(t, json.Unmarshal(raw, &msg))

	ev, direct, err := msg.Direct()
	require.NoError(t, err)

	return ev, direct
}

func TestClient_StampsSeqPerPeer(t *testing.T) {
	fs := newFakeServer(t)

	c, _ := startClient(t, Config{ServerURL: fs.srv.URL, RoomID: uuid.New()}, &received{})
	conn := fs.accept(t)

	<-c.Connected()

	a, b := uuid.New(), uuid.New()
	ctx := context.Background()
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}

	require.NoError(t, c.SendDirect(ctx, a, events.NewSelectingLeader(5)))
	require.NoError(t, c.SendDirect(ctx, a, events.NewDescription(offer)))
	require.NoError(t, c.SendDirect(ctx, b, events.NewDescription(offer)))
	require.NoError(t, c.SendDirect(ctx, a, events.NewIceCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})))

	c.ResetPeer(a)
	require.NoError(t, c.SendDirect(ctx, a, events.NewDescription(offer)))

	want := []struct {
		to   uuid.UUID
		kind events.DirectKind
		seq  int64
	}{
		{a, events.SelectingLeader, 0},
		{a, events.Description, 0},
		{b, events.Description, 0},
		{a, events.IceCandidate, 1},
		{a, events.Description, 0},
	}

	for _, w := range want {
		ev, msg := readDirect(t, conn)
		assert.Equal(t, w.to, ev.To)
		assert.Equal(t, w.kind, msg.Kind)
		assert.Equal(t, w.seq, msg.Seq)
	}
}

func TestClient_SendWithoutConnection(t *testing.T) {
	c, err := New(Config{ServerURL: "http://localhost:1", RoomID: uuid.New()}, (&received{}).delta, (&received{}).direct)
	require.NoError(t, err)

	to := uuid.New()

	err = c.SendDirect(context.Background(), to, events.NewDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
	require.ErrorIs(t, err, ErrNotConnected)

	// номер не израсходован
	assert.Equal(t, int64(0), c.nextSeq(to))
}

func TestClient_ReconnectsAfterDelay(t *testing.T) {
	fs := newFakeServer(t)
	clock := clockwork.NewFakeClock()

	startClient(t, Config{ServerURL: fs.srv.URL, RoomID: uuid.New(), ReconnectDelay: time.Second, Clock: clock}, &received{})

	first := fs.accept(t)
	require.NoError(t, first.Close())

	clock.BlockUntil(1)

	select {
	case <-fs.conns:
		t.Fatal("reconnected before delay")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)

	fs.accept(t)
}

func TestClient_RejectedHandshakeIsFatal(t *testing.T) {
	fs := newFakeServer(t)
	fs.status = http.StatusForbidden

	_, errCh := startClient(t, Config{ServerURL: fs.srv.URL, RoomID: uuid.New()}, &received{})

	select {
	case err := <-errCh:
		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, http.StatusForbidden, rejected.StatusCode)
	case <-time.After(waitFor):
		t.Fatal("run did not stop")
	}
}
