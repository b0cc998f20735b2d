package observer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/theuselessai/pipelit/internal/infrastructure/logger"
)

// WebSocketMessage is the envelope for every frame sent to a subscriber,
// either a live event or a control/welcome message.
type WebSocketMessage struct {
	Type      string                 `json:"type"` // "event" or "control"
	Event     *EventPayload          `json:"event,omitempty"`
	Control   map[string]interface{} `json:"control,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventPayload is the wire shape of an Event, flattened for JSON transport.
type EventPayload struct {
	EventType     string         `json:"event_type"`
	ExecutionID   string         `json:"execution_id"`
	WorkflowID    string         `json:"workflow_id"`
	WorkflowSlug  string         `json:"workflow_slug,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	NodeID        *string        `json:"node_id,omitempty"`
	ComponentType *string        `json:"component_type,omitempty"`
	Status        string         `json:"status"`
	Error         *string        `json:"error,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	DurationMs    *int64         `json:"duration_ms,omitempty"`
}

// WebSocketHub fans an event stream out to every connected subscriber:
// a register/unregister/broadcast channel loop with per-channel filtering
// for the three channel families (workflow, execution, epic).
type WebSocketHub struct {
	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	broadcast  chan []byte
	register   chan *WebSocketClient
	unregister chan *WebSocketClient

	logger *logger.Logger
}

// NewWebSocketHub creates a hub and starts its run loop in the background.
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	h := &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		logger:     log,
	}
	go h.run()
	return h
}

func (h *WebSocketHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it rather than block the hub or
					// the rest of the subscribers. Delivery is bounded and
					// non-blocking; a full buffer evicts the subscriber.
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client *WebSocketClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client *WebSocketClient) {
	h.unregister <- client
}

// Broadcast sends message to every connected client. No per-client filter
// is applied: neither event-type subscriptions nor channel subscriptions
// are consulted on this path.
func (h *WebSocketHub) Broadcast(message []byte) {
	h.broadcast <- message
}

// BroadcastToExecution sends message only to clients subscribed to
// executionID (or subscribed to everything, i.e. executionID == "").
func (h *WebSocketHub) BroadcastToExecution(executionID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.executionID != "" && client.executionID != executionID {
			continue
		}
		select {
		case client.send <- message:
		default:
			go h.Unregister(client)
		}
	}
}

// BroadcastToChannel delivers message to every client subscribed to channel
// via the subscribe/unsubscribe control protocol. A client with no
// channel subscriptions receives nothing from this path (it must opt in by
// channel; the legacy executionID/event-type filters above are unaffected
// and remain the default "receive everything" behavior for old clients).
func (h *WebSocketHub) BroadcastToChannel(channel Channel, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.IsSubscribedToChannel(channel) {
			continue
		}
		select {
		case client.send <- message:
		default:
			go h.Unregister(client)
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WebSocketClient wraps a single subscriber connection.
type WebSocketClient struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *WebSocketHub

	// executionID, when set, scopes BroadcastToExecution delivery to this
	// one execution; empty means "receive every execution" (the
	// ?execution_id= query parameter).
	executionID string

	mu            sync.RWMutex
	subscriptions map[EventType]bool
	channels      map[Channel]bool
}

// NewWebSocketClient creates a client bound to conn (conn may be nil in
// tests that exercise hub routing without a live socket).
func NewWebSocketClient(id string, conn *websocket.Conn, hub *WebSocketHub, executionID string) *WebSocketClient {
	return &WebSocketClient{
		ID:            id,
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		executionID:   executionID,
		subscriptions: make(map[EventType]bool),
		channels:      make(map[Channel]bool),
	}
}

// IsSubscribedToChannel reports whether the client subscribed to channel
// via a {type:"subscribe", channel} control frame.
func (c *WebSocketClient) IsSubscribedToChannel(channel Channel) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// SubscribedChannels returns a snapshot of the client's channel set, the
// set a reconnecting client re-issues subscriptions for.
func (c *WebSocketClient) SubscribedChannels() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Channel, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// IsSubscribed reports whether the client should receive events of type t.
// A client with no explicit subscriptions receives every event type.
func (c *WebSocketClient) IsSubscribed(t EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[t]
}

type subscriptionCommand struct {
	// Command/EventTypes is the original event-type filter protocol,
	// kept for back-compat.
	Command    string   `json:"command"`
	EventTypes []string `json:"event_types"`

	// Type/Channel is the channel protocol: {type:"subscribe",
	// channel:"workflow:w1"} / {type:"unsubscribe", channel:"..."}.
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// handleMessage processes a subscribe/unsubscribe control frame from the
// client. Malformed JSON or an unknown command is silently ignored —
// inbound control is best-effort, never a reason to drop the connection.
func (c *WebSocketClient) handleMessage(message []byte) {
	var cmd subscriptionCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		return
	}

	switch cmd.Command {
	case "subscribe":
		c.mu.Lock()
		for _, et := range cmd.EventTypes {
			c.subscriptions[EventType(et)] = true
		}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		for _, et := range cmd.EventTypes {
			delete(c.subscriptions, EventType(et))
		}
		c.mu.Unlock()
	}

	switch cmd.Type {
	case "subscribe":
		if cmd.Channel == "" {
			return
		}
		c.mu.Lock()
		c.channels[Channel(cmd.Channel)] = true
		c.mu.Unlock()
		c.sendControl(map[string]any{"type": "subscribed", "channel": cmd.Channel})
	case "unsubscribe":
		if cmd.Channel == "" {
			return
		}
		c.mu.Lock()
		delete(c.channels, Channel(cmd.Channel))
		c.mu.Unlock()
		c.sendControl(map[string]any{"type": "unsubscribed", "channel": cmd.Channel})
	case "pong":
		// Liveness reply to our ping; nothing to do, the read
		// deadline was already reset by the pong handler for real
		// protocol-level pongs. Accepted here too for clients that echo
		// a JSON pong instead of a control-frame pong.
	}
}

// sendControl marshals and enqueues a control frame on the client's send
// channel, dropping it (never blocking the caller) if the buffer is full.
func (c *WebSocketClient) sendControl(control map[string]any) {
	data, err := json.Marshal(control)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = pingPeriod + 10*time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
)

// readPump pumps inbound control frames from the connection to handleMessage
// until the connection closes, then unregisters the client. A ping goes out
// every pingPeriod; each pong resets the read deadline to pongWait, so a
// client that does not answer within 10s of the next ping is disconnected.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(message)
	}
}

// writePump drains c.send to the socket and pings on pingPeriod.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketObserver adapts Observer.OnEvent onto a WebSocketHub broadcast,
// making the execution engine's event stream visible to any number of
// live subscribers without coupling the engine to transport concerns.
type WebSocketObserver struct {
	hub    *WebSocketHub
	filter EventFilter
	logger *logger.Logger
}

// WebSocketObserverOption configures a WebSocketObserver.
type WebSocketObserverOption func(*WebSocketObserver)

// WithWebSocketFilter sets the observer's event filter.
func WithWebSocketFilter(filter EventFilter) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.filter = filter }
}

// WithWebSocketLogger overrides the observer's logger.
func WithWebSocketLogger(log *logger.Logger) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.logger = log }
}

// NewWebSocketObserver wraps hub as an Observer.
func NewWebSocketObserver(hub *WebSocketHub, opts ...WebSocketObserverOption) *WebSocketObserver {
	o := &WebSocketObserver{hub: hub}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements Observer.
func (o *WebSocketObserver) Name() string { return "websocket" }

// Filter implements Observer.
func (o *WebSocketObserver) Filter() EventFilter { return o.filter }

// GetHub returns the underlying hub.
func (o *WebSocketObserver) GetHub() *WebSocketHub { return o.hub }

// OnEvent converts event to wire format and broadcasts it. Clients scoped
// by the legacy ?execution_id= query parameter receive it via
// BroadcastToExecution; clients that subscribed to one of the channel
// families (workflow:<slug>, execution:<id>, epic:<id>) via the control
// protocol receive it once per matching channel.
func (o *WebSocketObserver) OnEvent(ctx context.Context, event Event) error {
	msg := o.eventToMessage(event)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	o.hub.BroadcastToExecution(event.ExecutionID, data)
	for _, ch := range event.Channels() {
		o.hub.BroadcastToChannel(ch, data)
	}
	return nil
}

func (o *WebSocketObserver) eventToMessage(event Event) *WebSocketMessage {
	payload := &EventPayload{
		EventType:     string(event.Type),
		ExecutionID:   event.ExecutionID,
		WorkflowID:    event.WorkflowID,
		WorkflowSlug:  event.WorkflowSlug,
		Timestamp:     event.Timestamp,
		NodeID:        event.NodeID,
		ComponentType: event.ComponentType,
		Status:        event.Status,
		Input:         event.Input,
		Output:        event.Output,
		Metadata:      event.Metadata,
		DurationMs:    event.DurationMs,
	}
	if event.Error != nil {
		msg := event.Error.Error()
		payload.Error = &msg
	}

	return &WebSocketMessage{
		Type:      "event",
		Event:     payload,
		Timestamp: time.Now(),
	}
}
