// -----------------------------------------------------------------------
// Last Modified: Wednesday, 22nd July 2026 10:02:51 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// streamedEvents is every event type the /ws endpoint relays. The config
// whitelist narrows this set; it never widens it.
var streamedEvents = []interfaces.EventType{
	interfaces.EventSearchStarted,
	interfaces.EventSearchProgress,
	interfaces.EventSearchCompleted,
	interfaces.EventSearchFailed,
	interfaces.EventRotationStarted,
	interfaces.EventRotationCompleted,
	interfaces.EventRotationDeferred,
	interfaces.EventProxyBlocked,
	interfaces.EventSessionWarmed,
}

// WSMessage is the wire envelope for every /ws frame
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// WebSocketHandler streams identity and search lifecycle events to
// connected clients. High-frequency event types are throttled via rate
// limiters so a tight poll loop cannot flood the stream.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	events           interfaces.EventService
	throttlers       map[interfaces.EventType]*rate.Limiter
	allowedEvents    map[string]bool
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to the
// event bus
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		events:           eventService,
		throttlers:       make(map[interfaces.EventType]*rate.Limiter),
		allowedEvents:    make(map[string]bool),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	// Empty whitelist means allow all streamed events
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	// Throttlers only exist for explicitly configured event types; an
	// absent entry means no throttling
	if config != nil {
		for eventName, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventName).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - throttler disabled")
				continue
			}
			h.throttlers[interfaces.EventType(eventName)] = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("event_type", eventName).
				Str("interval", intervalStr).
				Msg("Throttler initialized")
		}
	}

	if eventService != nil {
		h.subscribeToEvents()
	}

	return h
}

// subscribeToEvents wires every streamed event type into the broadcast
// path
func (h *WebSocketHandler) subscribeToEvents() {
	for _, eventType := range streamedEvents {
		et := eventType
		h.events.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			if len(h.allowedEvents) > 0 && !h.allowedEvents[string(et)] {
				return nil
			}
			if limiter, ok := h.throttlers[et]; ok && !limiter.Allow() {
				return nil
			}
			h.broadcast(WSMessage{
				Type:      string(et),
				Payload:   event.Payload,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return nil
		})
	}
}

// HandleWebSocket handles GET /ws connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	// Hello frame carries the instance id so clients detect restarts
	h.sendTo(conn, WSMessage{
		Type:      "hello",
		Payload:   map[string]string{"server_instance_id": h.serverInstanceID},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read loop keeps the connection alive; clients send nothing we act on
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// broadcast sends a message to every connected client. Writes are
// serialized per connection; gorilla/websocket allows one writer at a
// time.
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send event to client")
		}
	}
}

// sendTo sends a message to a single client
func (h *WebSocketHandler) sendTo(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// ClientCount reports the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
