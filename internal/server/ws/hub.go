// Package ws streams market events to WebSocket clients. Clients receive
// every event by default and may narrow to a set of market IDs.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	// maxReplay caps the backlog sent on connect; it fits in the send buffer.
	maxReplay = 200
)

// Config controls the hub.
type Config struct {
	// AllowedOrigins restricts browser upgrades; empty allows every origin.
	AllowedOrigins []string
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	markets map[string]bool // empty means all markets
}

// subscribeMsg narrows or widens a client's market filter.
//
//	{"action":"subscribe","markets":["<id>"]}
//	{"action":"unsubscribe","markets":["<id>"]}
type subscribeMsg struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
}

type broadcastMsg struct {
	marketID string
	data     []byte
}

// Hub fans out events read from the signal bus to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// Run subscribes to the event channel and serves the hub loop until ctx is
// done.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, events.ChannelAll)
	if err != nil {
		return err
	}
	go h.forward(ctx, msgs)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.marketID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) forward(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("event subscription closed")
				return
			}
			select {
			case h.broadcast <- broadcastMsg{marketID: marketOf(data), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// marketOf extracts market_id from an encoded domain.Event.
func marketOf(data []byte) string {
	var ev struct {
		MarketID string `json:"market_id"`
	}
	_ = json.Unmarshal(data, &ev)
	return ev.MarketID
}

// HandleWS upgrades the connection. ?market=<id> (repeatable) sets the
// initial filter; ?since=<stream id> replays the durable event stream after
// that entry ("0" for everything retained) before live events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		markets: make(map[string]bool),
	}
	for _, id := range r.URL.Query()["market"] {
		c.markets[id] = true
	}

	// Replay fills the send buffer before the hub can close it.
	if since := r.URL.Query().Get("since"); since != "" {
		h.replay(r.Context(), c, since)
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (h *Hub) replay(ctx context.Context, c *client, since string) {
	backlog, err := h.bus.StreamRead(ctx, events.StreamAll, since, maxReplay)
	if err != nil {
		h.logger.Warn("replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range backlog {
		if !c.wants(marketOf(m.Payload)) {
			continue
		}
		select {
		case c.send <- m.Payload:
		default:
			return
		}
	}
}

func (c *client) wants(marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets) == 0 || c.markets[marketID]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Markets {
			c.markets[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Markets {
			delete(c.markets, id)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.apply(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
