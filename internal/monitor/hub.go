package monitor

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interviewer/internal/interview"
	"github.com/lexiqai/voice-interviewer/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     checkOrigin,
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// checkOrigin admits non-browser clients (no Origin header) and pages
// served from the monitor's own host. Any other page could drive the
// session through the command channel.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Controls are the session actions a feed subscriber may trigger
type Controls interface {
	Submit()
	EndInterview()
	ReplayQuestion()
	RetryMicrophone()
	Resubmit()
}

// Command is a message sent by a subscriber, e.g. {"action":"submit"}
type Command struct {
	Action string `json:"action"`
}

// Hub fans session snapshots out to websocket subscribers. Publish never
// blocks; a subscriber that falls behind is disconnected.
type Hub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		logger:  observability.GetLogger().With().Str("component", "monitor").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Publish sends a snapshot to every subscriber. New subscribers receive
// the latest snapshot on connect.
func (h *Hub) Publish(s interview.SessionState) {
	data, err := json.Marshal(s)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode session state")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Msg("Session feed subscriber too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// HandleWS upgrades the request and streams snapshots until the
// subscriber goes away. Commands it sends are passed to controls, which
// may be nil for a read-only feed.
func (h *Hub) HandleWS(controls Controls) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
		if !h.register(c) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Session feed subscriber connected")

		go h.writePump(c)
		h.readPump(c, controls)
	}
}

func (h *Hub) readPump(c *client, controls Controls) {
	defer func() {
		h.unregister(c)
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
				h.logger.Warn().Err(err).Msg("Session feed read error")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.logger.Warn().Err(err).Msg("Invalid session command")
			continue
		}
		h.dispatch(cmd, controls)
	}
}

func (h *Hub) dispatch(cmd Command, controls Controls) {
	if controls == nil {
		h.logger.Debug().Str("action", cmd.Action).Msg("Read-only feed, ignoring command")
		return
	}
	switch cmd.Action {
	case "submit":
		controls.Submit()
	case "end":
		controls.EndInterview()
	case "replay":
		controls.ReplayQuestion()
	case "retry_microphone":
		controls.RetryMicrophone()
	case "resubmit":
		controls.Resubmit()
	default:
		h.logger.Warn().Str("action", cmd.Action).Msg("Unknown session command")
		return
	}
	h.logger.Info().Str("action", cmd.Action).Msg("Session command received")
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Msg("Session feed write failed")
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
