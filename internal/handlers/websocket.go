package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
	"golang.org/x/time/rate"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope of every frame sent to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HelloPayload is sent once per connection
type HelloPayload struct {
	ServerInstanceID string      `json:"server_instance_id"`
	Status           interface{} `json:"status,omitempty"`
}

// MessageCycle frames carry the items of a completed collection pass
const MessageCycle = "cycle"

// CyclePayload is the payload of a MessageCycle frame
type CyclePayload struct {
	CycleID uint64        `json:"cycle_id"`
	Items   []models.Item `json:"items"`
}

// EventSource is the subscription side of events.Service
type EventSource interface {
	Subscribe(fn interfaces.EventSubscriber) string
	Unsubscribe(id string)
}

// WebSocketHandler streams domain events to connected clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	source           EventSource
	subscriptionID   string
	allowedEvents    map[string]bool          // Whitelist of events to broadcast (empty = allow all)
	throttlers       map[string]*rate.Limiter // Per event type, nil map = no throttling
	serverInstanceID string                   // Clients use it to detect a server restart
	statusFunc       func() interface{}
}

// NewWebSocketHandler creates the handler and subscribes it to source
func NewWebSocketHandler(source EventSource, logger arbor.ILogger, config *common.ServerConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		source:           source,
		allowedEvents:    make(map[string]bool),
		throttlers:       make(map[string]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil || duration <= 0 {
				logger.Warn().
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Invalid throttle interval - throttler disabled")
				continue
			}
			h.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
		}
	}

	if source != nil {
		h.subscriptionID = source.Subscribe(h.BroadcastEvent)
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Int("allowed_events", len(h.allowedEvents)).
		Int("throttled_events", len(h.throttlers)).
		Msg("WebSocket handler initialized")
	return h
}

// SetStatusFunc sets the snapshot sent to each client on connect
func (h *WebSocketHandler) SetStatusFunc(fn func() interface{}) {
	h.statusFunc = fn
}

// ServerInstanceID returns the id generated at startup
func (h *WebSocketHandler) ServerInstanceID() string {
	return h.serverInstanceID
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	hello := HelloPayload{ServerInstanceID: h.serverInstanceID}
	if h.statusFunc != nil {
		hello.Status = h.statusFunc()
	}
	if data, err := json.Marshal(WSMessage{Type: "hello", Payload: hello}); err == nil {
		h.write(conn, mutex, data)
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Clients only listen; reading keeps control frames flowing and detects close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// BroadcastEvent sends event to every client unless it is filtered or throttled
func (h *WebSocketHandler) BroadcastEvent(event models.Event) {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[event.Type] {
		return
	}
	if limiter, ok := h.throttlers[event.Type]; ok && !limiter.Allow() {
		return
	}

	data, err := json.Marshal(WSMessage{Type: "event", Payload: event})
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to marshal event message")
		return
	}
	h.broadcast(data)
}

// BroadcastCycle streams the items of a completed pass. It has the shape of a
// scheduler.CycleListener. A configured whitelist must name MessageCycle.
func (h *WebSocketHandler) BroadcastCycle(items []models.Item, cycleID uint64) {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[MessageCycle] {
		return
	}
	if items == nil {
		items = []models.Item{}
	}

	data, err := json.Marshal(WSMessage{Type: MessageCycle, Payload: CyclePayload{CycleID: cycleID, Items: items}})
	if err != nil {
		h.logger.Error().Err(err).Str("cycle_id", strconv.FormatUint(cycleID, 10)).Msg("Failed to marshal cycle message")
		return
	}
	h.broadcast(data)
}

func (h *WebSocketHandler) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		h.write(conn, mutexes[i], data)
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) {
	mutex.Lock()
	defer mutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send to WebSocket client")
	}
}

// Close unsubscribes from the event source and closes every connection
func (h *WebSocketHandler) Close() {
	if h.source != nil && h.subscriptionID != "" {
		h.source.Unsubscribe(h.subscriptionID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, mutex := range h.clients {
		mutex.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		mutex.Unlock()
		conn.Close()
	}
}
