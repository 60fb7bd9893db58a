package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendBuffer     = 64

	// RequestTimeout bounds a request to the page when the caller's
	// context has no earlier deadline.
	RequestTimeout = 5 * time.Second
)

// Handler receives events from the pages. Calls come from the
// connection's read goroutine.
type Handler interface {
	HandleEvent(env Envelope)
	// ClientConnected is called after a page connects.
	ClientConnected()
	// ClientDisconnected is called after a page goes away.
	ClientDisconnected(remaining int)
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks connected pages. Broadcasts go to every page; device
// commands and requests go to the most recently connected one.
type Hub struct {
	upgrader websocket.Upgrader
	handler  Handler

	mu      sync.Mutex
	clients map[*client]struct{}
	primary *client
	pending map[string]chan Envelope
}

// NewHub creates a hub. Handle must be called before serving.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			// The page is served by this daemon on the kiosk itself.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		pending: make(map[string]chan Envelope),
	}
}

// Handle sets the event handler.
func (h *Hub) Handle(handler Handler) { h.handler = handler }

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the page until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.primary = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.BridgeClients.Set(float64(n))
	log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Int("clients", n).Msg("Kiosk page connected")

	go h.writePump(c)
	if h.handler != nil {
		h.handler.ClientConnected()
	}
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if h.primary == c {
		h.primary = nil
		for other := range h.clients {
			h.primary = other
			break
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	metrics.BridgeClients.Set(float64(n))
	log.Info().Str("client", c.id).Int("clients", n).Msg("Kiosk page disconnected")
	if h.handler != nil {
		h.handler.ClientDisconnected(n)
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("Error reading from kiosk page")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn().Err(err).Str("client", c.id).Msg("Malformed message from kiosk page")
			continue
		}
		if env.ID != "" && h.resolve(env) {
			continue
		}
		if h.handler != nil {
			h.handler.HandleEvent(env)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn().Err(err).Str("client", c.id).Msg("Write to kiosk page failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Ping failed")
				return
			}
		}
	}
}

// enqueue hands msg to c without blocking. A page that cannot keep up is
// disconnected.
func (h *Hub) enqueue(c *client, msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		log.Warn().Str("client", c.id).Msg("Kiosk page send buffer full; disconnecting")
		go h.remove(c)
		return false
	}
}

// Broadcast sends a message to every connected page.
func (h *Hub) Broadcast(typ string, payload any) error {
	msg, err := newEnvelope(typ, "", payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueue(c, msg)
	}
	return nil
}

// Send delivers a message to the primary page.
func (h *Hub) Send(typ string, payload any) error {
	return h.sendID(typ, "", payload)
}

func (h *Hub) sendID(typ, id string, payload any) error {
	msg, err := newEnvelope(typ, id, payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.primary == nil {
		return ErrNoClient
	}
	if !h.enqueue(h.primary, msg) {
		return fmt.Errorf("%s: %w", typ, ErrNoClient)
	}
	return nil
}

// Request sends a message to the primary page and waits for the reply
// carrying the same ID.
func (h *Hub) Request(ctx context.Context, typ string, payload any) (Envelope, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, RequestTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	ch := make(chan Envelope, 1)
	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	if err := h.sendID(typ, id, payload); err != nil {
		return Envelope{}, err
	}
	select {
	case env := <-ch:
		if env.Error != nil {
			return env, env.Error
		}
		return env, nil
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("%s: %w", typ, ctx.Err())
	}
}

// resolve delivers a reply to its waiting request.
func (h *Hub) resolve(env Envelope) bool {
	h.mu.Lock()
	ch, ok := h.pending[env.ID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
	}
	return true
}

// Close disconnects every page.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}
