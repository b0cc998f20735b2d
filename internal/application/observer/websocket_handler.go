package observer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/theuselessai/pipelit/internal/infrastructure/logger"
)

// upgrader configures the HTTP->WebSocket upgrade. Origin checks are left
// open here (development posture); a reverse proxy or the auth token check
// in WebSocketHandler.ServeHTTP is the real access gate.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler is the HTTP entry point for the stream upgrade
// route.
type WebSocketHandler struct {
	hub       *WebSocketHub
	logger    *logger.Logger
	validator TokenValidator
}

// WebSocketHandlerOption configures a WebSocketHandler.
type WebSocketHandlerOption func(*WebSocketHandler)

// WithTokenValidator enables connect-time auth: the handler upgrades
// the connection, then immediately closes with code 1008 if the `token`
// query parameter does not validate.
func WithTokenValidator(v TokenValidator) WebSocketHandlerOption {
	return func(h *WebSocketHandler) { h.validator = v }
}

// NewWebSocketHandler wires a handler onto hub.
func NewWebSocketHandler(hub *WebSocketHub, log *logger.Logger, opts ...WebSocketHandlerOption) *WebSocketHandler {
	h := &WebSocketHandler{hub: hub, logger: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the connection, authenticates it if a
// TokenValidator is configured, registers a client scoped to the optional
// execution_id query parameter, and sends a welcome control frame before
// handing off to the client's read/write pumps.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if h.validator != nil && !h.validator(r.URL.Query().Get("token")) {
		closeMsg := websocket.FormatCloseMessage(1008, "unauthorized")
		_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = conn.Close()
		return
	}

	executionID := r.URL.Query().Get("execution_id")
	clientID := uuid.NewString()
	client := NewWebSocketClient(clientID, conn, h.hub, executionID)

	h.hub.Register(client)

	welcome := map[string]any{
		"type":         "control",
		"message":      "Connected to Pipelit WebSocket",
		"client_id":    clientID,
		"execution_id": executionID,
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	if err := conn.WriteJSON(welcome); err != nil {
		h.hub.Unregister(client)
		return
	}

	go client.writePump()
	go client.readPump()
}

// HandleHealthCheck reports the hub's current connection count.
func (h *WebSocketHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":            "healthy",
		"connected_clients": h.hub.ClientCount(),
		"timestamp":         time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
