// Package live - клиент живого канала комнаты поверх WebSocket.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/models"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

var ErrNotConnected = errors.New("live channel is not connected")

// DeltaHandler получает дельты комнаты в порядке прихода.
type DeltaHandler func(ctx context.Context, delta models.Delta) error

// DirectHandler получает личные сообщения от другого клиента.
type DirectHandler func(from uuid.UUID, msg events.DirectMessage)

type Config struct {
	ServerURL string
	RoomID    uuid.UUID
	Passcode  string
	Token     string

	ReconnectDelay time.Duration
	Clock          clockwork.Clock
}

type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	reconnectDelay time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger

	onDelta  DeltaHandler
	onDirect DirectHandler

	// mu защищает conn и запись в него
	mu   sync.Mutex
	conn *websocket.Conn

	seqMu sync.Mutex
	seqs  map[uuid.UUID]int64

	connected chan struct{}
	once      sync.Once
}

func New(cfg Config, onDelta DeltaHandler, onDirect DirectHandler) (*Client, error) {
	wsURL, err := channelURL(cfg.ServerURL, cfg.RoomID, cfg.Passcode)
	if err != nil {
		return nil, err
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	return &Client{
		url:    wsURL,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		reconnectDelay: cfg.ReconnectDelay,
		clock:          cfg.Clock,
		logger:         slog.Default().With(slog.String(constant.Component, "live"), slog.String(constant.RoomID, cfg.RoomID.String())),
		onDelta:        onDelta,
		onDirect:       onDirect,
		seqs:           make(map[uuid.UUID]int64),
		connected:      make(chan struct{}),
	}, nil
}

// channelURL переводит http(s) адрес сервера в ws(s) адрес канала комнаты.
func channelURL(serverURL string, roomID uuid.UUID, passcode string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/rooms/" + roomID.String() + "/ws"

	q := url.Values{}
	if passcode != "" {
		q.Set("passcode", passcode)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connected закрывается после первого успешного подключения.
func (c *Client) Connected() <-chan struct{} {
	return c.connected
}

// Run держит соединение, пока жив контекст. После обрыва ждет задержку и
// подключается снова. Отказ сервера в рукопожатии (4xx) завершает Run с ошибкой.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return err
		}

		c.logger.Warn("live channel lost, reconnecting", slog.Any(constant.Error, err))

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.reconnectDelay):
		}
	}
}

// RejectedError - сервер отказал в подключении к каналу.
type RejectedError struct {
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("live channel rejected: status %d", e.StatusCode)
}

func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return &RejectedError{StatusCode: resp.StatusCode}
		}

		return fmt.Errorf("dial live channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.once.Do(func() { close(c.connected) })

	c.logger.Info("live channel connected")

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	defer func() {
		stop()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read live channel: %w", err)
		}

		var msg events.Message
		if err = json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("unmarshal live message", slog.Any(constant.Error, err))
			continue
		}

		c.dispatch(ctx, msg)
	}
}

func (c *Client) dispatch(ctx context.Context, msg events.Message) {
	if msg.IsDelta {
		delta, err := msg.Delta()
		if err != nil {
			c.logger.Warn("parse delta", slog.String(constant.Type, msg.Type), slog.Any(constant.Error, err))
			return
		}

		if err = c.onDelta(ctx, delta); err != nil {
			c.logger.Warn("handle delta", slog.Int64(constant.Seq, delta.Seq), slog.Any(constant.Error, err))
		}

		return
	}

	switch msg.Type {
	case events.TypePong:
		return
	case events.TypeError:
		var ev events.ErrorEvent
		_ = json.Unmarshal(msg.Data, &ev)
		c.logger.Warn("server error", slog.String(constant.Error, ev.Message))
		return
	}

	ev, direct, err := msg.Direct()
	if err != nil {
		c.logger.Warn("parse direct message", slog.String(constant.Type, msg.Type), slog.Any(constant.Error, err))
		return
	}

	c.onDirect(ev.From, direct)
}

// SendDirect отправляет личное сообщение. Description и ice_candidate получают
// следующий номер из счетчика этого адресата. Без соединения номер не расходуется.
func (c *Client) SendDirect(ctx context.Context, to uuid.UUID, msg events.DirectMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	if msg.Kind.Sequenced() {
		msg.Seq = c.nextSeq(to)
	}

	out, err := events.NewDirectMessage(uuid.Nil, to, msg)
	if err != nil {
		return err
	}

	return c.writeLocked(ctx, out)
}

// Ping просит сервер ответить pong.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	return c.writeLocked(ctx, events.Message{Type: events.TypePing})
}

// ResetPeer сбрасывает счетчик номеров для адресата.
func (c *Client) ResetPeer(to uuid.UUID) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	delete(c.seqs, to)
}

func (c *Client) nextSeq(to uuid.UUID) int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	seq := c.seqs[to]
	c.seqs[to] = seq + 1

	return seq
}

func (c *Client) writeLocked(ctx context.Context, msg events.Message) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write live message: %w", err)
	}

	return nil
}
