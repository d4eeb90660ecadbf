// Package ws bridges the Redis event bus to WebSocket clients. The hub
// subscribes to the event firehose once and fans each event out to the
// connections that asked for it, so Redis sees one subscriber no matter how
// many bidders are watching.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventSource is the slice of the event bus the hub consumes: a live feed
// of event payloads for one channel.
type EventSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

const (
	// writeWait bounds a single frame write; pongWait bounds the silence we
	// tolerate from a client before the read deadline kills the connection.
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// pingPeriod must stay under pongWait or healthy clients get dropped.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; clients only ever send small
	// subscription messages.
	maxMessageSize = 4096

	sendBufferSize   = 256
	maxSubscriptions = 64
)

// Channel names mirror the ones the cache layer publishes on. The hub reads
// only the firehose, which carries every event exactly once; the per-auction
// channels exist for clients to narrow their subscriptions and for external
// Redis subscribers.
const (
	firehoseChannel      = "gavel:events"
	auctionChannelPrefix = "gavel:auction:"
)

// Hub owns the registry of connected WebSocket clients and the single
// firehose subscription feeding them.
type Hub struct {
	bus       EventSource
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	version   string
	startedAt time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
}

// Config captures runtime metadata for the status snapshot sent on connect,
// plus the Origin allowlist enforced at upgrade time.
type Config struct {
	Mode      string
	Version   string
	StartedAt time.Time

	// AllowedOrigins restricts browser connections; empty allows all.
	// Requests without an Origin header (non-browser clients) always pass.
	AllowedOrigins []string
}

// NewHub creates a hub bridging the given event source to WebSocket clients.
func NewHub(bus EventSource, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		bus:       bus,
		logger:    logger,
		mode:      mode,
		version:   cfg.Version,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return originAllowed(cfg.AllowedOrigins, origin)
			},
		},
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run consumes the firehose until ctx is cancelled, then disconnects every
// client. Call it in a goroutine before accepting upgrades.
func (h *Hub) Run(ctx context.Context) error {
	go h.consumeEvents(ctx)
	<-ctx.Done()
	h.closeAll()
	return ctx.Err()
}

// fanOut delivers one event to every client subscribed to its channel. A
// client with a full send buffer has stopped reading; delivering around it
// would hand it a gapped event stream later, so it gets dropped instead.
func (h *Hub) fanOut(channel string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.wantsMessage(channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("ws: dropping slow client",
				slog.String("remote", c.remote),
			)
		}
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws: client connected",
		slog.String("remote", c.remote),
		slog.Int("total_clients", total),
	)
}

// removeClient is idempotent: the slow-client drop in fanOut and the read
// pump's deferred cleanup can both try to remove the same connection.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if present {
		h.logger.Info("ws: client disconnected",
			slog.String("remote", c.remote),
			slog.Int("total_clients", total),
		)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// consumeEvents subscribes to the firehose and fans each event out tagged
// with its per-auction channel.
func (h *Hub) consumeEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, firehoseChannel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to firehose",
			slog.String("channel", firehoseChannel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed", slog.String("channel", firehoseChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: firehose subscription closed")
				return
			}
			h.fanOut(eventChannel(data), data)
		}
	}
}

// eventChannel maps an event payload to its per-auction channel, empty when
// the event names no auction.
func eventChannel(data []byte) string {
	var evt struct {
		AuctionID string `json:"auction_id"`
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.AuctionID == "" {
		return ""
	}
	return auctionChannelPrefix + evt.AuctionID
}

// HandleWS upgrades the request and registers the connection.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, sendBufferSize),
		subs:   map[string]bool{firehoseChannel: true},
	}

	// New clients start on the firehose and narrow down to the auctions
	// they care about afterwards.
	h.addClient(c)
	c.sendStatusSnapshot()

	go c.writePump()
	go c.readPump()
}

// client is one WebSocket connection and its channel subscriptions.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte
	subs   map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its channel
// subscriptions, e.g. {"action":"subscribe","channels":["gavel:auction:x"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// readPump consumes inbound frames. The only thing clients send is
// subscription management; everything else is ignored.
func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
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
					slog.String("remote", c.remote),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var req subscribeMsg
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		if req.Action == "" && len(req.Channels) == 0 {
			continue
		}
		channels := c.applySubscription(req)
		c.enqueue(map[string]any{
			"type":    "subscriptions",
			"payload": map[string]any{"channels": channels},
		})
	}
}

// applySubscription updates the subscription set and returns its sorted
// contents for the acknowledgement frame. The set is capped so a client
// cannot balloon it indefinitely.
func (c *client) applySubscription(msg subscribeMsg) []string {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			if len(c.subs) >= maxSubscriptions {
				break
			}
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	sort.Strings(channels)
	return channels
}

// sendStatusSnapshot pushes a small JSON envelope so clients can mark the
// connection as healthy before any auction events flow.
func (c *client) sendStatusSnapshot() {
	c.mu.RLock()
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.RUnlock()
	sort.Strings(channels)

	c.enqueue(map[string]any{
		"type": "server_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"version":        c.hub.version,
			"uptime_seconds": max(int64(time.Since(c.hub.startedAt).Seconds()), 0),
			"channels":       channels,
		},
	})
}

// enqueue marshals v onto the send buffer, discarding it when full; the
// fan-out path will drop the connection shortly after anyway.
func (c *client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// wantsMessage reports whether the client should receive an event mapped to
// the given per-auction channel. Firehose subscribers receive everything,
// and a trailing "*" in a subscription matches by prefix, so
// "gavel:auction:*" covers every auction.
func (c *client) wantsMessage(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[firehoseChannel] {
		return true
	}
	if channel == "" {
		return false
	}
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if len(sub) > 0 && sub[len(sub)-1] == '*' && strings.HasPrefix(channel, sub[:len(sub)-1]) {
			return true
		}
	}
	return false
}

// writePump moves frames from the send buffer to the wire and keeps the
// connection alive with periodic pings.
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
				// The hub closed the buffer.
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
