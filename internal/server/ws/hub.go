// Package ws bridges the Redis signal bus to WebSocket clients so UIs can
// watch scan job status transitions live.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avasile/sharescan/internal/domain"
	"github.com/avasile/sharescan/internal/jobs"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced by middleware; the hub accepts upgrades
		// from any origin that got this far.
		return true
	},
}

// client represents a single WebSocket connection with an optional wallet
// filter.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	wallets map[string]bool // empty means all wallets
	mu      sync.RWMutex
}

// filterMsg is the JSON message a client sends to narrow which wallets'
// job events it receives.
type filterMsg struct {
	Wallets []string `json:"wallets"`
}

// Hub manages connected WebSocket clients and forwards job events from the
// signal bus to each of them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub that forwards job events from the given bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run starts the hub's event loop: it subscribes to the job events channel
// and fans messages out to connected clients. It blocks until the context is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribeJobEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			wallet := eventWallet(msg)
			h.mu.RLock()
			for c := range h.clients {
				if !c.wantsWallet(wallet) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeJobEvents forwards payloads from the bus to the broadcast loop.
func (h *Hub) subscribeJobEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, jobs.EventsChannel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", jobs.EventsChannel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: job events subscription closed")
				return
			}
			h.broadcast <- data
		}
	}
}

// eventWallet extracts the wallet from a job event payload for filtering.
// Unparseable payloads are broadcast to everyone.
func eventWallet(data []byte) string {
	var ev jobs.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ""
	}
	return strings.ToLower(ev.Wallet)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. An optional wallet query parameter pre-filters
// events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		wallets: make(map[string]bool),
	}
	if wallet := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("wallet"))); wallet != "" {
		c.wallets[wallet] = true
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wantsWallet reports whether the client should receive events for the
// given wallet. An empty filter set means all wallets.
func (c *client) wantsWallet(wallet string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.wallets) == 0 || wallet == "" {
		return true
	}
	return c.wallets[wallet]
}

// readPump reads messages from the WebSocket connection, handling wallet
// filter updates from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var filter filterMsg
		if err := json.Unmarshal(message, &filter); err == nil && filter.Wallets != nil {
			c.setWallets(filter.Wallets)
		}
	}
}

func (c *client) setWallets(wallets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallets = make(map[string]bool, len(wallets))
	for _, w := range wallets {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			c.wallets[w] = true
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection as JSON
// text frames, with periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
