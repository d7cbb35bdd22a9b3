// Package session owns the bidirectional channel to the game server:
// connect, typed send, typed dispatch and bounded reconnection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultPath is the well-known socket path on the game server.
const DefaultPath = "/ws"

var (
	ErrNotConnected   = errors.New("session: not connected")
	ErrSendBufferFull = errors.New("session: send buffer full")
)

type Config struct {
	URL              string
	MaxReconnects    int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	SendBuffer       int
}

func DefaultConfig(wsURL string) Config {
	return Config{
		URL:              wsURL,
		MaxReconnects:    5,
		BaseDelay:        time.Second,
		MaxDelay:         10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		SendBuffer:       64,
	}
}

// WebSocketURL derives the socket URL from the page/API base URL; a secure
// base gets the secure socket scheme.
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("session: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("session: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("session: base url %q has no host", base)
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Backoff is min(base * 2^attempt, max).
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return limit
	}
	d := base << attempt
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

type Handler func(Inbound)

// Subscription identifies one registered handler for Off.
type Subscription struct {
	kind Kind
	id   uint64
}

type subscriber struct {
	id uint64
	h  Handler
}

// link is one open socket.
type link struct {
	ws          *websocket.Conn
	out         chan []byte
	intentional bool
}

type Conn struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	mu       sync.Mutex
	link     *link
	handlers map[Kind][]subscriber
	nextID   uint64
	attempts int
	stopped  bool
	retry    *time.Timer
}

func New(cfg Config, log *slog.Logger) *Conn {
	def := DefaultConfig(cfg.URL)
	if cfg.MaxReconnects < 0 {
		cfg.MaxReconnects = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:      log.With("session", uuid.NewString()),
		handlers: make(map[Kind][]subscriber),
	}
}

// Connect opens the channel unless one is already open. A failed dial counts
// as a closure: Disconnected is emitted and a reconnect is scheduled.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	c.stopped = false
	c.cancelRetryLocked()
	c.mu.Unlock()
	return c.dial(ctx)
}

// cancelRetryLocked drops a scheduled reconnect and refunds its attempt, so
// at most one reconnect chain is alive.
func (c *Conn) cancelRetryLocked() {
	if c.retry == nil {
		return
	}
	if c.retry.Stop() && c.attempts > 0 {
		c.attempts--
	}
	c.retry = nil
}

func (c *Conn) dial(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.log.Debug("dial failed", "url", c.cfg.URL, "err", err)
		c.closed(nil)
		return fmt.Errorf("session: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.stopped {
		// Disconnect won the race
		c.mu.Unlock()
		_ = ws.Close()
		return nil
	}
	if c.link != nil {
		// a concurrent reconnect already got through
		c.mu.Unlock()
		_ = ws.Close()
		return nil
	}
	l := &link{ws: ws, out: make(chan []byte, c.cfg.SendBuffer)}
	c.link = l
	c.attempts = 0
	c.mu.Unlock()

	c.log.Info("session connected", "url", c.cfg.URL)
	go c.writeLoop(l)
	go c.readLoop(l)
	return nil
}

// Disconnect is idempotent and stops any future reconnection.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	l := c.link
	c.link = nil
	if l != nil {
		l.intentional = true
		close(l.out)
	}
	c.mu.Unlock()

	if l == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = l.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = l.ws.Close()
}

// Send drops m with ErrNotConnected when no channel is open; nothing is queued
// for a later connection.
func (c *Conn) Send(m Outbound) error {
	b, err := Encode(m)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", m.Kind(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return ErrNotConnected
	}
	select {
	case c.link.out <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// On registers h for kind. Handlers of one kind run in registration order on
// the connection's reader goroutine.
func (c *Conn) On(kind Kind, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[kind] = append(c.handlers[kind], subscriber{id: c.nextID, h: h})
	return Subscription{kind: kind, id: c.nextID}
}

func (c *Conn) Off(s Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[s.kind] = slices.DeleteFunc(c.handlers[s.kind], func(sub subscriber) bool {
		return sub.id == s.id
	})
}

// Connected reports whether a channel is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

func (c *Conn) dispatch(m Inbound) {
	c.mu.Lock()
	subs := slices.Clone(c.handlers[m.Kind()])
	c.mu.Unlock()

	for _, s := range subs {
		s.h(m)
	}
}

func (c *Conn) readLoop(l *link) {
	c.dispatch(Connected{})

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			break
		}
		msg, err := Decode(data)
		if err != nil {
			if !errors.Is(err, ErrBadFrame) && !errors.Is(err, ErrUnknownKind) {
				c.log.Debug("dropping frame", "err", err)
			}
			continue
		}
		c.dispatch(msg)
	}

	c.mu.Lock()
	if c.link == l {
		c.link = nil
		close(l.out)
	}
	c.mu.Unlock()
	_ = l.ws.Close()

	c.closed(l)
}

func (c *Conn) writeLoop(l *link) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-l.out:
			if !ok {
				return
			}
			_ = l.ws.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
			if err := l.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", "err", err)
			}
		case <-ticker.C:
			_ = l.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.HandshakeTimeout))
		}
	}
}

// closed emits Disconnected and schedules the next attempt while the budget
// lasts. l is nil for a failed dial.
func (c *Conn) closed(l *link) {
	c.dispatch(Disconnected{})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || (l != nil && l.intentional) {
		return
	}
	if c.attempts >= c.cfg.MaxReconnects {
		c.log.Info("session reconnect budget exhausted", "attempts", c.attempts)
		return
	}
	c.cancelRetryLocked()
	d := Backoff(c.attempts, c.cfg.BaseDelay, c.cfg.MaxDelay)
	c.attempts++
	c.log.Info("session reconnect scheduled", "attempt", c.attempts, "delay", d)
	c.retry = time.AfterFunc(d, c.reconnect)
}

func (c *Conn) reconnect() {
	c.mu.Lock()
	if c.stopped || c.link != nil {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()
	_ = c.dial(ctx)
}
