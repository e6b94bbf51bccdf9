// Package roomview связывает состав комнаты с сессиями согласования:
// на каждого видимого удаленного клиента по одной сессии.
package roomview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/usecase/negotiation"
	"github.com/qrave1/RoomMesh/internal/usecase/roomsync"
)

// maxHeldPerPeer - сколько сообщений держим для пира, у которого еще нет сессии.
const maxHeldPerPeer = 64

// Transport отправляет личные сообщения и ведет счетчики номеров по пирам.
type Transport interface {
	SendDirect(ctx context.Context, to uuid.UUID, msg events.DirectMessage) error
	ResetPeer(to uuid.UUID)
}

type Session interface {
	Start()
	HandleMessage(msg events.DirectMessage)
	Destroy()
}

// SessionFactory создает сессию для удаленного клиента. onEvent вызывается сессией.
type SessionFactory func(remoteID uuid.UUID, onEvent func(negotiation.Event)) (Session, error)

// PeerEvent - событие сессии с указанием пира.
type PeerEvent struct {
	RemoteID uuid.UUID
	Event    negotiation.Event
}

// peer - сессия и номер входа пира, для которого она создана.
type peer struct {
	session Session
	joinSeq int64
}

type View struct {
	localID    uuid.UUID
	syncer     *roomsync.Synchronizer
	transport  Transport
	newSession SessionFactory
	logger     *slog.Logger

	events chan PeerEvent
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[uuid.UUID]peer
	held     map[uuid.UUID][]events.DirectMessage
	stopped  bool

	// вход локального клиента, по которому построены текущие сессии
	selfJoin    int64
	selfPresent bool
	selfSeen    bool
}

func New(localID uuid.UUID, api roomsync.RoomAPI, transport Transport, newSession SessionFactory) *View {
	ctx, cancel := context.WithCancel(context.Background())

	return &View{
		localID:    localID,
		syncer:     roomsync.New(api),
		transport:  transport,
		newSession: newSession,
		logger:     slog.Default().With(slog.String(constant.ClientID, localID.String())),
		events:     make(chan PeerEvent, 64),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[uuid.UUID]peer),
		held:       make(map[uuid.UUID][]events.DirectMessage),
	}
}

// Run синхронизирует комнату, пока не отменен контекст или не случилась фатальная ошибка.
func (v *View) Run(ctx context.Context, roomID uuid.UUID) error {
	defer v.stop()

	feed, err := v.syncer.Start(ctx, roomID)
	if err != nil {
		return fmt.Errorf("start room sync: %w", err)
	}

	snapshots, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				if err := feed.Err(); err != nil {
					return fmt.Errorf("room sync: %w", err)
				}

				return nil
			}

			v.reconcile(snap)
		}
	}
}

// Feed - поток снапшотов комнаты.
func (v *View) Feed() *roomsync.Feed {
	return v.syncer.Feed()
}

// Events - общий поток событий всех сессий, кроме исходящих сообщений.
func (v *View) Events() <-chan PeerEvent {
	return v.events
}

// HandleDelta передает дельты живого канала в синхронизатор.
func (v *View) HandleDelta(ctx context.Context, deltas ...models.Delta) error {
	return v.syncer.HandleDelta(ctx, deltas...)
}

// HandleDirect передает личное сообщение сессии пира или придерживает его.
func (v *View) HandleDirect(from uuid.UUID, msg events.DirectMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stopped {
		return
	}

	if p, ok := v.sessions[from]; ok {
		p.session.HandleMessage(msg)
		return
	}

	held := append(v.held[from], msg)
	if len(held) > maxHeldPerPeer {
		held = held[len(held)-maxHeldPerPeer:]
	}

	v.held[from] = held
}

// reconcile сверяет сессии со снапшотом. Снапшоты могут приходить через один,
// поэтому выход и повторный вход видны только по смене номера входа.
func (v *View) reconcile(snap models.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stopped {
		return
	}

	selfJoin, selfPresent := snap.JoinSeq(v.localID)

	// сервер зафиксировал наш выход: удаленные клиенты пересоздают сессии с нами,
	// значит и наши сессии к ним больше не годятся
	if v.selfPresent && (!selfPresent || selfJoin != v.selfJoin) {
		v.logger.Warn("local membership changed, resetting sessions", slog.Int64(constant.Seq, snap.Seq()))

		for id := range v.sessions {
			v.dropSession(id, snap.Seq())
		}
	}

	v.selfJoin, v.selfPresent = selfJoin, selfPresent
	v.selfSeen = v.selfSeen || selfPresent

	for id, p := range v.sessions {
		if joinSeq, ok := snap.JoinSeq(id); ok && joinSeq == p.joinSeq {
			continue
		}

		v.dropSession(id, snap.Seq())
	}

	// вне комнаты новые сессии не нужны, их все равно сбросит наш вход
	if v.selfSeen && !selfPresent {
		v.held = make(map[uuid.UUID][]events.DirectMessage)
		return
	}

	for _, id := range snap.ClientIDs() {
		if id == v.localID {
			continue
		}

		if _, ok := v.sessions[id]; ok {
			continue
		}

		session, err := v.newSession(id, v.sessionEvents(id))
		if err != nil {
			v.logger.Error("create peer session", slog.String(constant.RemoteID, id.String()), slog.Any(constant.Error, err))
			continue
		}

		joinSeq, _ := snap.JoinSeq(id)
		v.sessions[id] = peer{session: session, joinSeq: joinSeq}
		session.Start()

		for _, msg := range v.held[id] {
			session.HandleMessage(msg)
		}
		delete(v.held, id)

		v.logger.Info("peer joined", slog.String(constant.RemoteID, id.String()), slog.Int64(constant.Seq, snap.Seq()))
	}

	// пир так и не появился - его сообщения больше не нужны
	for id := range v.held {
		if !snap.Has(id) {
			delete(v.held, id)
		}
	}
}

func (v *View) dropSession(id uuid.UUID, seq int64) {
	v.sessions[id].session.Destroy()
	delete(v.sessions, id)
	v.transport.ResetPeer(id)

	v.logger.Info("peer session closed", slog.String(constant.RemoteID, id.String()), slog.Int64(constant.Seq, seq))
}

func (v *View) sessionEvents(remoteID uuid.UUID) func(negotiation.Event) {
	return func(ev negotiation.Event) {
		if send, ok := ev.(negotiation.SendMessageToRemote); ok {
			if err := v.transport.SendDirect(v.ctx, remoteID, send.Message); err != nil {
				v.logger.Warn(
					"send direct message",
					slog.String(constant.RemoteID, remoteID.String()),
					slog.String(constant.Type, string(send.Message.Kind)),
					slog.Any(constant.Error, err),
				)
			}

			return
		}

		select {
		case v.events <- PeerEvent{RemoteID: remoteID, Event: ev}:
		case <-v.ctx.Done():
		}
	}
}

func (v *View) stop() {
	v.mu.Lock()
	v.stopped = true
	sessions := v.sessions
	v.sessions = make(map[uuid.UUID]peer)
	v.held = make(map[uuid.UUID][]events.DirectMessage)
	v.mu.Unlock()

	v.cancel()

	for id, p := range sessions {
		p.session.Destroy()
		v.transport.ResetPeer(id)
	}

	v.syncer.Destroy()
}
