// Package connection maintains the client's WebSocket session with the simulation server.
//
// A Manager owns at most one connection and at most one connection attempt at a time. When a
// session ends for any reason it waits according to a capped exponential backoff and dials
// again, until its context is cancelled. Intents sent while no session is open are dropped.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/bbernstein/combinedlights-go/pkg/protocol"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a Manager.
type State int

const (
	// Connecting means a dial attempt is in flight.
	Connecting State = iota
	// Open means a session is established and Send delivers.
	Open
	// ClosedRetrying means there is no session and the manager is waiting to redial.
	ClosedRetrying
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedRetrying:
		return "closed-retrying"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultInitialDelay     = 500 * time.Millisecond
	defaultMaxDelay         = 10 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
	defaultPingInterval     = 30 * time.Second
	writeWait               = 5 * time.Second
)

// Options configures a Manager.
type Options struct {
	// URL is the ws:// or wss:// endpoint. See WebSocketURL.
	URL string

	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Jitter is the backoff randomization factor in [0,1). Zero gives exact delays.
	Jitter float64

	HandshakeTimeout time.Duration
	// PingInterval is how often keepalive pings are sent. A negative value disables them.
	PingInterval time.Duration

	// OnState is called on every state transition.
	OnState func(State)
	// OnMessage is called for every decoded server message, in arrival order.
	OnMessage func(protocol.Message)

	Logger *slog.Logger
}

// Manager is a self-healing WebSocket client.
type Manager struct {
	url       string
	dialer    websocket.Dialer
	backoff   *backoff.ExponentialBackOff
	ping      time.Duration
	onState   func(State)
	onMessage func(protocol.Message)
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	// Serializes writes; gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

// New creates a Manager. Nothing is dialed until Run is called.
func New(opts Options) *Manager {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = opts.InitialDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialDelay
	b.MaxInterval = opts.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = opts.Jitter
	b.Reset()

	return &Manager{
		url: opts.URL,
		dialer: websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		backoff:   b,
		ping:      opts.PingInterval,
		onState:   opts.OnState,
		onMessage: opts.OnMessage,
		logger:    opts.Logger,
		state:     ClosedRetrying,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run connects and keeps reconnecting until ctx is cancelled. Callbacks are invoked from the
// calling goroutine. It returns ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.setState(Connecting)

		conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
		if err == nil {
			m.backoff.Reset()
			m.serve(ctx, conn)
		} else if ctx.Err() == nil {
			m.logger.Warn("connection failed", "url", m.url, "error", err)
		}

		m.setState(ClosedRetrying)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := m.backoff.NextBackOff()
		m.logger.Debug("reconnecting", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Send transmits an intent if a session is open. It reports whether the frame was written.
// Intents are never queued: a message sent while disconnected is dropped.
func (m *Manager) Send(msg protocol.Message) bool {
	m.mu.Lock()
	conn := m.conn
	open := m.state == Open
	m.mu.Unlock()

	if !open || conn == nil {
		m.logger.Debug("dropping intent while disconnected", "type", msg.MessageType())
		return false
	}

	payload, err := protocol.Encode(msg)
	if err != nil {
		m.logger.Error("failed to encode intent", "type", msg.MessageType(), "error", err)
		return false
	}

	if err := m.write(conn, websocket.TextMessage, payload); err != nil {
		// The read loop observes the closed socket and drives the reconnect.
		m.logger.Warn("send failed", "type", msg.MessageType(), "error", err)
		_ = conn.Close()
		return false
	}
	return true
}

// serve runs one session until the socket fails or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.url)
	m.setState(Open)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.keepalive(ctx, conn, done)
	}()

	m.readLoop(conn)

	close(done)
	wg.Wait()

	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	if m.ping > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * m.ping))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * m.ping))
		})
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("connection lost", "error", err)
			} else {
				m.logger.Info("connection closed", "error", err)
			}
			return
		}
		if m.ping > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * m.ping))
		}
		if kind != websocket.TextMessage {
			continue
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		m.logger.Warn("ignoring unknown message", "error", err)
		return
	case err != nil:
		m.logger.Warn("ignoring malformed message", "error", err)
		return
	}

	if m.onMessage != nil {
		m.onMessage(msg)
	}
}

// keepalive pings the server and closes the socket when ctx is cancelled, which unblocks
// the read loop.
func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	var tick <-chan time.Time
	if m.ping > 0 {
		ticker := time.NewTicker(m.ping)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = m.write(conn, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			return
		case <-tick:
			if err := m.write(conn, websocket.PingMessage, nil); err != nil {
				m.logger.Debug("ping failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, kind int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, data)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.logger.Debug("connection state", "state", s.String())
	if m.onState != nil {
		m.onState(s)
	}
}

// WebSocketURL derives the state endpoint from a server page URL: http maps to ws, https maps
// to wss, and the path is replaced with the well-known WebSocket path.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", base)
	}

	u.Path = protocol.Path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
