// internal/publisher/wshub/hub.go
// Package wshub broadcasts telemetry envelopes to WebSocket clients.
package wshub

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

const (
	DefaultQueue        = 16
	DefaultWriteTimeout = 100 * time.Millisecond

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type Config struct {
	// Queue is the per-client backlog; a client that falls further behind
	// is disconnected.
	Queue        int
	WriteTimeout time.Duration
	// AllowOrigin "*" accepts any Origin; empty keeps the same-origin check.
	AllowOrigin string
	// Snapshot, when set, supplies records sent to every new client.
	Snapshot func() []telemetry.Record
	Log      *logging.Log
}

type client struct {
	conn *websocket.Conn
	send chan *websocket.PreparedMessage
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub is a publisher.Publisher and an http.Handler for the upgrade.
type Hub struct {
	cfg      Config
	log      *logging.Log
	upgrader websocket.Upgrader
	alive    *alive.Alive

	mu      sync.Mutex
	clients map[*client]struct{}

	Sent    expvar.Int
	Dropped expvar.Int
}

func New(cfg Config) *Hub {
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	h := &Hub{
		cfg:     cfg,
		log:     cfg.Log,
		alive:   alive.NewAlive(),
		clients: make(map[*client]struct{}),
	}
	if cfg.AllowOrigin == "*" {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	} else if cfg.AllowOrigin != "" {
		origin := cfg.AllowOrigin
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return h
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.alive.IsRunning() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Debugf("wshub: upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	if !h.alive.Add(1) {
		conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan *websocket.PreparedMessage, h.cfg.Queue)}
	if h.cfg.Snapshot != nil {
		for _, rec := range h.cfg.Snapshot() {
			if pm, err := prepare(rec); err == nil {
				select {
				case c.send <- pm:
				default:
				}
			}
		}
	}

	n, ok := h.register(c)
	if !ok {
		conn.Close()
		h.alive.Done()
		return
	}
	h.log.Infof("wshub: client %s connected (%d total)", r.RemoteAddr, n)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// register adds c unless Close has begun. Close stops alive before taking
// mu, so a client added here is always seen by Close.
func (h *Hub) register(c *client) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.alive.IsRunning() {
		return len(h.clients), false
	}
	h.clients[c] = struct{}{}
	return len(h.clients), true
}

// Publish marshals rec once and queues it for every client.
func (h *Hub) Publish(recordType string, rec telemetry.Record) error {
	if rec.Type == "" {
		rec.Type = recordType
	}
	pm, err := prepare(rec)
	if err != nil {
		return errors.Annotatef(err, "wshub: marshal %s", recordType)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- pm:
		default:
			// slow consumer
			h.Dropped.Add(1)
			h.log.Infof("wshub: client %s too slow, disconnecting", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

func prepare(rec telemetry.Record) (*websocket.PreparedMessage, error) {
	b, err := telemetry.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return websocket.NewPreparedMessage(websocket.TextMessage, b)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	defer h.alive.Done()
	defer c.conn.Close()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case pm, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WritePreparedMessage(pm); err != nil {
				h.log.Debugf("wshub: write %s: %v", c.conn.RemoteAddr(), err)
				h.remove(c)
				return
			}
			h.Sent.Add(1)
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client messages and notices the close.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("wshub: read %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// Close disconnects every client and waits for their writers.
func (h *Hub) Close() {
	h.alive.Stop()
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	h.alive.Wait()
}
