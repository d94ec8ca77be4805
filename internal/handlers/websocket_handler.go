// -----------------------------------------------------------------------
// Last Modified: Tuesday, 18th August 2026 10:14:08 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 50 * time.Second
)

// WSMessage is the envelope streamed to WebSocket clients. ServerID lets
// clients detect a server restart and resync their job views.
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	ServerID  string      `json:"server_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketHandler bridges the event bus to WebSocket clients. Progress
// events from a busy crawl can fire hundreds of times a second, so each
// event type gets an optional rate limiter from configuration; events
// without a configured throttle pass through untouched.
type WebSocketHandler struct {
	logger   arbor.ILogger
	events   interfaces.EventService
	serverID string

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex // Per-connection write locks

	allowedEvents map[string]bool // Empty = allow all
	throttlers    map[interfaces.EventType]*rate.Limiter
}

// NewWebSocketHandler creates the handler and subscribes it to the
// progress, creation, and completion events
func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:        logger,
		events:        events,
		serverID:      uuid.New().String(),
		clients:       make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents: make(map[string]bool),
		throttlers:    make(map[interfaces.EventType]*rate.Limiter),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		for eventType, interval := range config.ThrottleIntervals {
			d, err := time.ParseDuration(interval)
			if err != nil || d <= 0 {
				logger.Warn().
					Str("event_type", eventType).
					Str("interval", interval).
					Msg("Invalid throttle interval, event unthrottled")
				continue
			}
			h.throttlers[interfaces.EventType(eventType)] = rate.NewLimiter(rate.Every(d), 1)
		}
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventScrapeProgress,
		interfaces.EventJobCreated,
		interfaces.EventJobCompleted,
	} {
		if err := events.Subscribe(eventType, h.handleEvent); err != nil {
			logger.Error().Str("event_type", string(eventType)).Err(err).Msg("WebSocket event subscription failed")
		}
	}

	logger.Debug().
		Str("server_id", h.serverID).
		Int("allowed_events", len(h.allowedEvents)).
		Int("throttled_events", len(h.throttlers)).
		Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket handles GET /ws: upgrades the connection and streams
// events until the client disconnects
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.register(conn)
	h.logger.Debug().
		Str("remote", conn.RemoteAddr().String()).
		Int("clients", h.clientCount()).
		Msg("WebSocket client connected")

	// Greet the client so it can detect server restarts immediately
	h.sendTo(conn, &WSMessage{
		Type:      "connected",
		Payload:   map[string]string{"version": common.GetVersion()},
		ServerID:  h.serverID,
		Timestamp: time.Now().UTC(),
	})

	go h.pingLoop(conn)
	h.readLoop(conn)
}

// handleEvent fans one bus event out to all connected clients
func (h *WebSocketHandler) handleEvent(ctx context.Context, event interfaces.Event) error {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[string(event.Type)] {
		return nil
	}
	if limiter, ok := h.throttlers[event.Type]; ok && !limiter.Allow() {
		return nil // Coalesced: the next allowed event carries newer counters
	}

	h.Broadcast(&WSMessage{
		Type:      string(event.Type),
		Payload:   event.Payload,
		ServerID:  h.serverID,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Broadcast sends a message to every connected client. Failed writes
// drop the client; the crawl never waits on a slow consumer.
func (h *WebSocketHandler) Broadcast(msg *WSMessage) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.sendTo(conn, msg)
	}
}

func (h *WebSocketHandler) sendTo(conn *websocket.Conn, msg *WSMessage) {
	h.mu.RLock()
	writeMu, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := conn.WriteJSON(msg)
	writeMu.Unlock()

	if err != nil {
		h.logger.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Err(err).
			Msg("WebSocket write failed, dropping client")
		h.unregister(conn)
	}
}

// readLoop drains client frames. Clients never send payloads we act on;
// the loop only services pong handling and detects disconnects.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn) {
	defer h.unregister(conn)

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug().
				Str("remote", conn.RemoteAddr().String()).
				Msg("WebSocket client disconnected")
			return
		}
	}
}

func (h *WebSocketHandler) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		writeMu, ok := h.clients[conn]
		h.mu.RUnlock()
		if !ok {
			return
		}

		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		writeMu.Unlock()
		if err != nil {
			h.unregister(conn)
			return
		}
	}
}

func (h *WebSocketHandler) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
}

func (h *WebSocketHandler) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (h *WebSocketHandler) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *WebSocketHandler) Close() error {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
