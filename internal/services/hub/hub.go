// Package hub serves the state WebSocket: it tracks connected clients, pushes snapshots of
// the simulation to them and turns their intents into coordinator calls.
//
// All snapshots are taken on the hub goroutine, so every client sees states in the order they
// were produced. Bursts of changes are coalesced: a client may skip intermediate states but
// always ends on the latest one.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bbernstein/combinedlights-go/internal/services/simulation"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultSendBuf      = 32
	defaultBroadcastBuf = 128
)

// Coordinator is the authoritative state the hub serves.
type Coordinator interface {
	TurnOn(ctx context.Context, brightness *int) error
	TurnOff(ctx context.Context) error
	SetBrightness(ctx context.Context, level int) error
	SetLight(ctx context.Context, entityID string, brightness int) error
	UpdateConfig(ctx context.Context, updates map[string]json.RawMessage) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (simulation.State, error)
	History(ctx context.Context) ([]simulation.HistoryEntry, error)
	AddListener(fn func()) (remove func())
}

// Config configures a Hub.
type Config struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int
	// BroadcastBuf is the queue size for pre-encoded broadcasts such as log lines.
	BroadcastBuf int
}

type direct struct {
	client *Client
	msg    []byte
}

// Hub fans state out to every connected client.
type Hub struct {
	coord  Coordinator
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	direct     chan direct
	// changed holds at most one pending "state changed" signal.
	changed chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

// New creates a hub serving coord. Call Run to start it.
func New(coord Coordinator, logger *slog.Logger, cfg Config) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaultSendBuf
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = defaultBroadcastBuf
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		coord:      coord,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		direct:     make(chan direct, 64),
		changed:    make(chan struct{}, 1),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes hub events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	remove := h.coord.AddListener(h.Notify)
	defer remove()
	defer close(h.done)

	h.logger.Info("ws hub starting")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping")
			h.closeAll()
			return

		case c := <-h.register:
			h.addClient(ctx, c)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case <-h.changed:
			msg, err := h.encodeState(ctx, protocol.TypeStateUpdate)
			if err != nil {
				h.logger.Error("failed to build state update", "error", err)
				continue
			}
			h.fanOut(msg)

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case d := <-h.direct:
			h.mu.Lock()
			_, ok := h.clients[d.client]
			h.mu.Unlock()
			if ok {
				h.enqueue(d.client, d.msg)
			}
		}
	}
}

// Notify signals that the coordinator state changed. It never blocks.
func (h *Hub) Notify() {
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

// Broadcast queues a pre-encoded frame for every client. It never blocks; the frame is
// dropped when the queue is full.
func (h *Hub) Broadcast(msg []byte) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}

// BroadcastMessage encodes and queues a message for every client.
func (h *Hub) BroadcastMessage(m protocol.Message) bool {
	msg, err := protocol.Encode(m)
	if err != nil {
		return false
	}
	return h.Broadcast(msg)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// addClient registers c and queues its init snapshot ahead of any later update.
func (h *Hub) addClient(ctx context.Context, c *Client) {
	msg, err := h.encodeState(ctx, protocol.TypeInit)
	if err != nil {
		h.logger.Error("failed to build init snapshot", "remote_addr", c.remoteAddr, "error", err)
		c.closeConn()
		safeClose(c.send)
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)
	h.enqueue(c, msg)
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.enqueue(c, msg)
	}
}

// enqueue hands msg to c's write pump, dropping c if it cannot keep up.
func (h *Hub) enqueue(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.removeClient(c, "slow_client")
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.closeConn()
		// Closing send tells the write pump to exit.
		safeClose(c.send)
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.closeConn()
		safeClose(c.send)
	}
}

func (h *Hub) encodeState(ctx context.Context, typ protocol.Type) ([]byte, error) {
	state, err := h.coord.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	var m protocol.Message
	switch typ {
	case protocol.TypeInit:
		m = protocol.Init{State: raw}
	default:
		m = protocol.StateUpdate{State: raw}
	}
	return protocol.Encode(m)
}

// join hands c to the Run loop. It reports false when the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func safeClose(ch chan []byte) {
	defer func() {
		_ = recover() // already closed
	}()
	close(ch)
}

// Client is one connected WebSocket peer.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	logger     *slog.Logger
}

func newClient(h *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: remoteAddr,
		logger:     h.logger.With("remote_addr", remoteAddr),
	}
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// reply queues a message for this client only.
func (c *Client) reply(m protocol.Message) {
	msg, err := protocol.Encode(m)
	if err != nil {
		c.logger.Error("failed to encode reply", "type", m.MessageType(), "error", err)
		return
	}
	select {
	case c.hub.direct <- direct{client: c, msg: msg}:
	default:
		c.logger.Debug("hub busy, dropping reply", "type", m.MessageType())
	}
}

// writePump writes queued frames and keepalive pings. It exits on write error or when send
// is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("ws writePump exiting", "error", err)
				}
				c.hub.leave(c)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ws ping failed", "error", err)
				c.hub.leave(c)
				return
			}
		}
	}
}

// readPump decodes intents until the connection fails, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	defer c.hub.leave(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("ws readPump exiting", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		c.handle(ctx, data)
	}
}

// handle dispatches one inbound frame. Bad frames are logged and ignored.
func (c *Client) handle(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.hub.logger.Warn("ignoring message", "remote_addr", c.remoteAddr, "error", err)
		return
	}

	coord := c.hub.coord
	switch m := msg.(type) {
	case *protocol.TurnOn:
		err = coord.TurnOn(ctx, m.Brightness)
	case *protocol.TurnOff:
		err = coord.TurnOff(ctx)
	case *protocol.SetBrightness:
		err = coord.SetBrightness(ctx, m.Brightness)
	case *protocol.SetLight:
		if m.EntityID == "" {
			err = fmt.Errorf("%w: set_light without entity_id", protocol.ErrMalformed)
			break
		}
		err = coord.SetLight(ctx, m.EntityID, m.Brightness)
	case *protocol.UpdateConfig:
		err = coord.UpdateConfig(ctx, m.Config)
	case *protocol.Reset:
		err = coord.Reset(ctx)
	case *protocol.GetHistory:
		var entries []simulation.HistoryEntry
		entries, err = coord.History(ctx)
		if err == nil {
			var raw []byte
			if raw, err = json.Marshal(entries); err == nil {
				c.reply(protocol.History{History: raw})
			}
		}
	case *protocol.Ping:
		c.reply(protocol.Pong{})
	default:
		c.hub.logger.Warn("ignoring message", "remote_addr", c.remoteAddr, "type", msg.MessageType())
	}

	if err != nil {
		c.hub.logger.Warn("intent failed", "type", msg.MessageType(), "error", err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer in front of the router.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	if !h.join(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump(r.Context())
}
