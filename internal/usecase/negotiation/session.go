// Package negotiation ведет одно WebRTC соединение с удаленным пиром:
// выборы лидера, затем perfect negotiation через очередь команд.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/sequence"
)

type Role int32

const (
	RoleUnknown Role = iota
	RolePolite
	RoleImpolite
)

func (r Role) String() string {
	switch r {
	case RolePolite:
		return "polite"
	case RoleImpolite:
		return "impolite"
	}

	return "unknown"
}

type State int32

const (
	StateElectingLeader State = iota
	StatePolite
	StateImpolite
	StateNegotiating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateElectingLeader:
		return "electing_leader"
	case StatePolite:
		return "polite"
	case StateImpolite:
		return "impolite"
	case StateNegotiating:
		return "negotiating"
	case StateClosed:
		return "closed"
	}

	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	defaultElectionDelay    = 100 * time.Millisecond
	defaultElectionInterval = time.Second
)

type Config struct {
	LocalID  uuid.UUID
	RemoteID uuid.UUID

	Factory ConnectionFactory
	// Media может быть nil - тогда сессия только принимает медиа.
	Media MediaAttacher
	// OnEvent вызывается из горутины сессии строго в порядке событий.
	OnEvent func(Event)

	Clock            clockwork.Clock
	ElectionDelay    time.Duration
	ElectionInterval time.Duration
	// Random возвращает значение для выборов, по умолчанию 31-битное случайное.
	Random func() int64
	Logger *slog.Logger
}

// Session - движок согласования для одной пары пиров.
type Session struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	queue *commandQueue

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	electionCancel context.CancelFunc
	electionWG     sync.WaitGroup

	closed atomic.Bool
	state  atomic.Int32
	role   atomic.Int32

	startOnce   sync.Once
	destroyOnce sync.Once

	// Ниже - состояние горутины сессии.
	localValue      int64
	conn            Connection
	inbox           *sequence.Buffer[events.DirectMessage]
	early           []events.DirectMessage
	candidates      []webrtc.ICECandidateInit
	confirmSent     bool
	confirmReceived bool
	mediaAttached   bool
	streams         map[string]struct{}
}

func New(cfg Config) (*Session, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("new session: connection factory is required")
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.ElectionDelay <= 0 {
		cfg.ElectionDelay = defaultElectionDelay
	}

	if cfg.ElectionInterval <= 0 {
		cfg.ElectionInterval = defaultElectionInterval
	}

	if cfg.Random == nil {
		cfg.Random = func() int64 { return rand.Int63n(1 << 31) }
	}

	if cfg.OnEvent == nil {
		cfg.OnEvent = func(Event) {}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Номера описаний и кандидатов у каждого отправителя начинаются с 0
	inbox, err := sequence.New(events.DirectSeq, sequence.WithAnchor[events.DirectMessage](-1))
	if err != nil {
		return nil, fmt.Errorf("new session inbox: %w", err)
	}

	s := &Session{
		cfg:   cfg,
		clock: cfg.Clock,
		logger: logger.With(
			slog.String(constant.ClientID, cfg.LocalID.String()),
			slog.String(constant.RemoteID, cfg.RemoteID.String()),
		),
		queue:   newCommandQueue(),
		done:    make(chan struct{}),
		inbox:   inbox,
		streams: make(map[string]struct{}),
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// Start запускает горутину сессии и выборы лидера.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		if s.closed.Load() {
			return
		}

		s.localValue = s.cfg.Random()

		var electionCtx context.Context
		electionCtx, s.electionCancel = context.WithCancel(s.ctx)

		s.electionWG.Add(1)
		go s.runElection(electionCtx)

		go s.run()
	})
}

// HandleMessage принимает личное сообщение от удаленного пира.
func (s *Session) HandleMessage(msg events.DirectMessage) {
	if s.closed.Load() {
		return
	}

	if err := msg.Validate(); err != nil {
		s.logger.Warn("drop direct message", slog.Any(constant.Error, err))
		return
	}

	s.enqueue("handle "+string(msg.Kind), func(ctx context.Context) {
		s.dispatch(ctx, msg)
	})
}

func (s *Session) Role() Role {
	return Role(s.role.Load())
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done закрывается, когда горутина сессии вышла и соединение закрыто.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Destroy синхронно останавливает выборы. Текущая команда доработает,
// но ее результат никуда не попадет.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.closed.Store(true)
		s.setState(StateClosed)

		s.startOnce.Do(func() {
			close(s.done)
		})

		s.cancel()
		s.electionWG.Wait()

		s.logger.Debug("negotiation session destroyed")
	})
}

func (s *Session) enqueue(name string, run func(ctx context.Context)) {
	if s.closed.Load() {
		return
	}

	s.queue.push(command{name: name, run: run})
}

func (s *Session) run() {
	defer close(s.done)

	defer func() {
		if s.conn == nil {
			return
		}

		if err := s.conn.Close(); err != nil {
			s.logger.Warn("close peer connection", slog.Any(constant.Error, err))
		}
	}()

	for {
		cmd, ok := s.queue.pop(s.ctx)
		if !ok {
			return
		}

		if s.closed.Load() {
			return
		}

		s.logger.Debug("run command", slog.String(constant.Step, cmd.name))

		cmd.run(s.ctx)
	}
}

// emit отбрасывает события после Destroy.
func (s *Session) emit(ev Event) {
	if s.closed.Load() {
		return
	}

	s.cfg.OnEvent(ev)
}

func (s *Session) send(msg events.DirectMessage) {
	s.emit(SendMessageToRemote{Message: msg})
}

func (s *Session) setState(state State) {
	if state != StateClosed && s.closed.Load() {
		return
	}

	s.state.Store(int32(state))
}

func (s *Session) dispatch(ctx context.Context, msg events.DirectMessage) {
	switch msg.Kind {
	case events.SelectingLeader, events.ConfirmingLeader:
		s.handleElection(msg)
	case events.Description, events.IceCandidate:
		s.inbox.Add(msg)

		for _, next := range s.inbox.Evaluate() {
			if s.conn == nil {
				s.early = append(s.early, next)
				continue
			}

			s.handleSequenced(ctx, next)
		}
	}
}

func (s *Session) handleSequenced(ctx context.Context, msg events.DirectMessage) {
	switch msg.Kind {
	case events.Description:
		s.handleRemoteDescription(ctx, *msg.Description)
	case events.IceCandidate:
		s.addIceCandidate(*msg.Candidate)
	}
}
