package memory

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/application/constant"
)

var ErrNotConnected = errors.New("client is not connected")

// Conn - то, что нужно от *websocket.Conn
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// WebsocketConnectionRepository хранит активные сокеты клиентов по комнатам
type WebsocketConnectionRepository interface {
	// Add регистрирует сокет и возвращает вытесненный, если клиент уже был подключен.
	Add(roomID, clientID uuid.UUID, conn Conn) (replaced Conn)
	// Remove удаляет сокет, только если он все еще зарегистрирован за клиентом.
	Remove(roomID, clientID uuid.UUID, conn Conn) bool

	Write(roomID, clientID uuid.UUID, payload any) error
	Broadcast(roomID uuid.UUID, payload any)

	Clients(roomID uuid.UUID) []uuid.UUID
}

type safeWS struct {
	conn Conn
	mu   sync.Mutex
}

func (s *safeWS) write(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteJSON(payload)
}

type wsConnectionRepository struct {
	// wsConns хранит map[room_id]map[client_id]*safeWS
	wsConns map[uuid.UUID]map[uuid.UUID]*safeWS

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return &wsConnectionRepository{
		wsConns: make(map[uuid.UUID]map[uuid.UUID]*safeWS, 10),
	}
}

func (w *wsConnectionRepository) Add(roomID, clientID uuid.UUID, conn Conn) Conn {
	w.mu.Lock()
	defer w.mu.Unlock()

	room, ok := w.wsConns[roomID]
	if !ok {
		room = make(map[uuid.UUID]*safeWS)
		w.wsConns[roomID] = room
	}

	var replaced Conn
	if prev, ok := room[clientID]; ok {
		replaced = prev.conn
	}

	room[clientID] = &safeWS{conn: conn}

	return replaced
}

func (w *wsConnectionRepository) Remove(roomID, clientID uuid.UUID, conn Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	room, ok := w.wsConns[roomID]
	if !ok {
		return false
	}

	current, ok := room[clientID]
	if !ok || current.conn != conn {
		return false
	}

	delete(room, clientID)

	if len(room) == 0 {
		delete(w.wsConns, roomID)
	}

	return true
}

func (w *wsConnectionRepository) Write(roomID, clientID uuid.UUID, payload any) error {
	safews, ok := w.getSafeWS(roomID, clientID)
	if !ok {
		return ErrNotConnected
	}

	return safews.write(payload)
}

func (w *wsConnectionRepository) Broadcast(roomID uuid.UUID, payload any) {
	w.mu.RLock()
	targets := make(map[uuid.UUID]*safeWS, len(w.wsConns[roomID]))
	for clientID, safews := range w.wsConns[roomID] {
		targets[clientID] = safews
	}
	w.mu.RUnlock()

	for clientID, safews := range targets {
		if err := safews.write(payload); err != nil {
			slog.Error(
				"write to websocket",
				slog.String(constant.RoomID, roomID.String()),
				slog.String(constant.ClientID, clientID.String()),
				slog.Any(constant.Error, err),
			)
		}
	}
}

func (w *wsConnectionRepository) Clients(roomID uuid.UUID) []uuid.UUID {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(w.wsConns[roomID]))
	for clientID := range w.wsConns[roomID] {
		ids = append(ids, clientID)
	}

	return ids
}

func (w *wsConnectionRepository) getSafeWS(roomID, clientID uuid.UUID) (*safeWS, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	conn, ok := w.wsConns[roomID][clientID]
	return conn, ok
}
