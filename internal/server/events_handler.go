package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/drs"
)

// EventSubscribed is the first message a new event stream client receives.
const EventSubscribed = "stream.subscribed"

const eventWriteWait = 5 * time.Second

// PlanEvent is one message on the plan event stream.
type PlanEvent struct {
	Type       string             `json:"type"`
	ResourceID string             `json:"resource_id,omitempty"`
	Data       *domain.PlanRecord `json:"data,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// PlanEventsHandler streams plan lifecycle events to WebSocket clients.
// The engine publishes into it as an event sink.
type PlanEventsHandler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

var _ drs.EventSink = (*PlanEventsHandler)(nil)

// NewPlanEventsHandler creates an event stream accepting browser origins from
// allowedOrigins ("*" allows any).
func NewPlanEventsHandler(allowedOrigins []string, logger *zap.Logger) *PlanEventsHandler {
	return &PlanEventsHandler{
		logger: logger.With(zap.String("component", "plan-events")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP handles GET /api/v1/plans/events.
func (h *PlanEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.mu.Lock()
	err = h.write(conn, PlanEvent{Type: EventSubscribed, Timestamp: time.Now()})
	if err == nil {
		h.clients[conn] = true
	}
	count := len(h.clients)
	h.mu.Unlock()
	if err != nil {
		h.logger.Debug("Failed to greet event stream client", zap.Error(err))
		return
	}

	h.logger.Info("Event stream client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("clients", count),
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		h.logger.Info("Event stream client disconnected", zap.String("remote_addr", r.RemoteAddr))
	}()

	// Clients only listen; reading surfaces close frames and dead peers.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Event stream read ended", zap.Error(err))
			}
			return
		}
	}
}

// PublishPlanEvent sends a plan event to every connected client. Clients that
// cannot take the write are dropped.
func (h *PlanEventsHandler) PublishPlanEvent(ctx context.Context, eventType string, rec *domain.PlanRecord) error {
	event := PlanEvent{
		Type:       eventType,
		ResourceID: rec.ID,
		Data:       rec,
		Timestamp:  time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := h.write(conn, event); err != nil {
			h.logger.Debug("Dropping event stream client", zap.Error(err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *PlanEventsHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client with a going-away frame.
func (h *PlanEventsHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	deadline := time.Now().Add(eventWriteWait)
	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		conn.Close()
		delete(h.clients, conn)
	}
}

// write sends one event. Callers hold h.mu, which serializes writers per connection.
func (h *PlanEventsHandler) write(conn *websocket.Conn, event PlanEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(eventWriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
