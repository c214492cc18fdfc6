// Package ws streams ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/botledger/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	maxReplay      = 500
)

var errBroadcastFull = errors.New("ws: broadcast buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamTailer is implemented by buses that can return the newest stream
// entries for replay on connect.
type streamTailer interface {
	StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// Config names the bus channel and stream that carry ledger events.
type Config struct {
	Channel string
	Stream  string
}

// Hub fans ledger events out to connected clients. Events arrive either from
// the signal bus or directly through Emit when no bus is configured.
type Hub struct {
	cfg        Config
	bus        domain.SignalBus
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

var _ domain.EventSink = (*Hub)(nil)

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		bus:        bus,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// filter selects which events a client receives. Empty sets match all.
type filter struct {
	none   bool
	users  map[string]bool
	events map[string]bool
}

func (f filter) match(ev eventHeader) bool {
	if f.none {
		return false
	}
	if len(f.events) > 0 && !f.events[ev.Name] {
		return false
	}
	if len(f.users) > 0 && !f.users[strings.ToLower(ev.User)] {
		return false
	}
	return true
}

// eventHeader is the part of an event used for routing.
type eventHeader struct {
	Name string `json:"name"`
	User string `json:"user"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	f    filter
}

// subscribeMsg replaces the client's filter.
//
//	{"action":"subscribe","users":["0xabc..."],"events":["position_opened"]}
//	{"action":"unsubscribe"}
type subscribeMsg struct {
	Action string   `json:"action"`
	Users  []string `json:"users"`
	Events []string `json:"events"`
}

// Run drives the hub until ctx ends. Connections arriving after Run returns
// are closed immediately.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil && h.cfg.Channel != "" {
		go h.relay(ctx)
	}

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
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case data := <-h.broadcast:
			var hdr eventHeader
			if err := json.Unmarshal(data, &hdr); err != nil {
				h.logger.Warn("ws: dropping undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(hdr) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping event for slow client", slog.String("event", hdr.Name))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Emit forwards an event to clients without going through the bus. It never
// blocks; when the broadcast buffer is full the event is dropped.
func (h *Hub) Emit(_ context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: marshal event: %w", err)
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		return errBroadcastFull
	}
}

// relay copies bus messages into the broadcast loop.
func (h *Hub) relay(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", h.cfg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("channel", h.cfg.Channel))
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", h.cfg.Channel))
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the connection. Query parameters user and event seed the
// filter (comma separated). after=<stream id> sends up to maxReplay stream
// entries recorded after that id first, so a reconnecting client can catch
// up; a bare unix millisecond time, such as the "at" of the last event seen,
// is also accepted. Otherwise replay=N sends the newest N entries.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := newFilter(splitList(q.Get("user")), splitList(q.Get("event")))
	after, ok := streamCursor(q.Get("after"))
	if !ok {
		http.Error(w, "ws: after must be a stream id or unix milliseconds", http.StatusBadRequest)
		return
	}
	replay, _ := strconv.Atoi(q.Get("replay"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		f:    f,
	}
	switch {
	case after != "":
		h.catchUp(r.Context(), c, after)
	case replay > 0:
		h.replay(r.Context(), c, min(replay, maxReplay))
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) replay(ctx context.Context, c *client, n int) {
	tailer, ok := h.bus.(streamTailer)
	if !ok || h.cfg.Stream == "" {
		return
	}
	msgs, err := tailer.StreamTail(ctx, h.cfg.Stream, n)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	c.queue(msgs)
}

// catchUp sends the stream entries after id, up to maxReplay of them.
func (h *Hub) catchUp(ctx context.Context, c *client, id string) {
	if h.bus == nil || h.cfg.Stream == "" {
		return
	}
	msgs, err := h.bus.StreamRead(ctx, h.cfg.Stream, id, maxReplay)
	if err != nil {
		h.logger.Warn("ws: catch-up failed",
			slog.String("after", id),
			slog.String("error", err.Error()),
		)
		return
	}
	c.queue(msgs)
}

// queue buffers stored events the client wants, stopping when its send
// buffer is full.
func (c *client) queue(msgs []domain.StreamMessage) {
	for _, m := range msgs {
		var hdr eventHeader
		if json.Unmarshal(m.Payload, &hdr) != nil || !c.wants(hdr) {
			continue
		}
		select {
		case c.send <- m.Payload:
		default:
			return
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// streamCursor normalizes an after parameter to a stream id. Empty is valid
// and means no catch-up.
func streamCursor(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	ms, seq, hasSeq := strings.Cut(s, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return "", false
	}
	if !hasSeq {
		return ms + "-0", true
	}
	if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
		return "", false
	}
	return s, true
}

func newFilter(users, events []string) filter {
	f := filter{users: map[string]bool{}, events: map[string]bool{}}
	for _, u := range users {
		f.users[strings.ToLower(u)] = true
	}
	for _, e := range events {
		f.events[e] = true
	}
	return f
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *client) wants(ev eventHeader) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.f.match(ev)
}

// leave removes the client from a running hub. A stopped hub has already
// closed every send channel.
func (c *client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

func (c *client) readPump() {
	defer func() {
		c.leave()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.mu.Lock()
			c.f = newFilter(sub.Users, sub.Events)
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			c.f = filter{none: true}
			c.mu.Unlock()
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
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
