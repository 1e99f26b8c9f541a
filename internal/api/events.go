package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"slowburn/pkg/audio"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 120 * time.Second
	wsPingPeriod = 50 * time.Second
)

// The server listens on localhost for the bundled view.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one message on the event stream.
type Event struct {
	Type    string `json:"type"` // "state", "audio", "pong", "error"
	Payload any    `json:"payload,omitempty"`
}

// AudioPayload announces a clip for the client to fetch and play.
type AudioPayload struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	DurationMs int64  `json:"duration_ms"`
}

type inboundMessage struct {
	Type string `json:"type"` // "ping"
}

// EventHub streams controller snapshots and clip announcements to
// websocket clients.
type EventHub struct {
	ctrl Controller

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	send chan Event
}

// NewEventHub creates a hub. Run must be started to forward snapshots.
func NewEventHub(ctrl Controller) *EventHub {
	return &EventHub{
		ctrl:    ctrl,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run forwards controller snapshots until ctx is done.
func (h *EventHub) Run(ctx context.Context) {
	ch := h.ctrl.Subscribe()
	defer h.ctrl.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			h.publish(Event{Type: "state", Payload: s})
		}
	}
}

// PublishAudio announces a clip published by the client sink. It has the
// signature audio.NewHandoff expects.
func (h *EventHub) PublishAudio(id string, clip *audio.Clip) {
	h.publish(Event{Type: "audio", Payload: AudioPayload{
		ID:         id,
		URL:        "/api/playback/current.wav",
		DurationMs: clip.Duration().Milliseconds(),
	}})
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventHub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			// Client is not keeping up, skip
		}
	}
}

func (h *EventHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP handles GET /api/events
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{send: make(chan Event, 16)}
	c.send <- Event{Type: "state", Payload: h.ctrl.Snapshot()}
	h.register(c)
	slog.Debug("Events: client connected", "remote", conn.RemoteAddr().String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(conn, c.send)
	}()

	h.readPump(conn, c)
	h.unregister(c)
	<-done
	_ = conn.Close()
	slog.Debug("Events: client disconnected", "remote", conn.RemoteAddr().String())
}

// readPump consumes client messages until the connection fails.
func (h *EventHub) readPump(conn *websocket.Conn, c *wsClient) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Events: read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var reply Event
		switch msg.Type {
		case "ping":
			reply = Event{Type: "pong"}
		default:
			reply = Event{Type: "error", Payload: map[string]string{
				"code":    "unknown_type",
				"message": "Unknown message type: " + msg.Type,
			}}
		}
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			select {
			case c.send <- reply:
			default:
			}
		}
		h.mu.Unlock()
	}
}

// writePump owns all writes to conn. It returns when send is closed or a
// write fails.
func writePump(conn *websocket.Conn, send <-chan Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				// Unblock readPump so the client is dropped.
				_ = conn.Close()
				drain(send)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(send)
				return
			}
		}
	}
}

func drain(send <-chan Event) {
	for range send {
	}
}
