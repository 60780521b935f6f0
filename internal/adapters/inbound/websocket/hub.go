// Package websocket pushes trade events to connected users over websockets.
//
// A client connects to the hub's HTTP handler identifying itself the same way
// as on the REST API (X-User-ID header, or user_id query parameter for
// browsers that cannot set headers). The hub then forwards every broadcast
// envelope addressed to that user.
//
// The hub can be fed directly as an outbound.TradeNotifier (single replica),
// or through Deliver from a Redis subscription (many replicas).
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that Hub implements outbound.TradeNotifier
var _ outbound.TradeNotifier = (*Hub)(nil)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("websocket hub is closed")

// Config holds websocket hub configuration.
type Config struct {
	// WriteTimeout bounds a single write to a client.
	WriteTimeout time.Duration
	// PongTimeout is how long a client may stay silent before it is dropped.
	PongTimeout time.Duration
	// PingInterval must be shorter than PongTimeout.
	PingInterval time.Duration
	// SendBuffer is the number of messages queued per client before it is
	// considered too slow and disconnected.
	SendBuffer int
	// CheckOrigin validates the Origin header. Nil accepts all origins.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingInterval: 50 * time.Second,
		SendBuffer:   16,
		Logger:       slog.Default(),
	}
}

type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks connected clients per user.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[int64]map[*client]struct{}
	closed  bool
}

// NewHub creates a websocket hub.
func NewHub(config Config) *Hub {
	defaults := ConfigDefaults()
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = defaults.PongTimeout
	}
	if config.PingInterval == 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.SendBuffer == 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger:  config.Logger.With("component", "websocket-hub"),
		clients: make(map[int64]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection for its user.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		raw = r.URL.Query().Get("user_id")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "Unauthenticated.", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err, "userId", userID)
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, h.config.SendBuffer)}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.logger.Debug("client connected", "userId", c.userID)
	return true
}

// unregister removes c and closes its send channel exactly once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	h.logger.Debug("client disconnected", "userId", c.userID)
}

// readPump drains inbound frames so control frames are processed, and
// unregisters the client when the connection ends.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Deliver queues payload for every connection of userID. A client whose
// buffer is full is disconnected rather than blocking the caller.
func (h *Hub) Deliver(userID int64, payload []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "userId", userID)
		h.unregister(c)
	}
}

// Publish delivers the event to the buyer's and seller's connections on this replica.
func (h *Hub) Publish(ctx context.Context, event outbound.TradeSettledEvent) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	payload, err := outbound.EncodeBroadcast(event)
	if err != nil {
		return err
	}
	for _, userID := range event.Recipients() {
		h.Deliver(userID, payload)
	}
	return nil
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and rejects new connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.unregister(c)
	}
	h.logger.Info("websocket hub closed", "clients", len(all))
	return nil
}
