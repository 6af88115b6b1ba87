package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second

	// EventRecordingStatus is sent when a recording reaches a terminal status.
	EventRecordingStatus = "recording_status"
)

// StatusEvent is the payload of EventRecordingStatus.
type StatusEvent struct {
	RecordingID uuid.UUID `json:"recordingId"`
	Status      string    `json:"status"`
}

// Publisher publishes user events for cross-instance delivery.
type Publisher interface {
	PublishUserEvent(userID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a user's channel and invokes handler for incoming events.
type Subscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains user_id -> set of connections.
// With Redis configured, events go through pub/sub so every instance holding a connection for the user delivers them.
type Hub struct {
	users  map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func() // cancel Redis subscription per user
	mu     sync.RWMutex
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a client. Starts the Redis subscription for the user on their first connection.
// The subscription is made outside the hub lock so a slow Redis does not stall other users.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := h.users[c.UserID] == nil
	if first {
		h.users[c.UserID] = make(map[string]*Client)
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))

	if first && h.sub != nil {
		h.subscribe(c.UserID)
	}
}

func (h *Hub) subscribe(userID uuid.UUID) {
	cancel, err := h.sub.SubscribeUser(userID, func(event string, payload []byte) {
		h.Broadcast(userID, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("subscribe user channel failed", zap.Error(err), zap.String("user_id", userID.String()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// The user may have left, or a newer first connection may have subscribed meanwhile.
	if _, connected := h.users[userID]; !connected {
		cancel()
		return
	}
	if _, ok := h.subs[userID]; ok {
		cancel()
		return
	}
	h.subs[userID] = cancel
}

// Unregister removes a client. Cancels the Redis subscription when the user's last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.users[c.UserID]
	if !ok {
		return
	}
	if _, ok := m[c.ID]; !ok {
		return
	}
	delete(m, c.ID)
	close(c.send)
	if len(m) == 0 {
		delete(h.users, c.UserID)
		if cancel, ok := h.subs[c.UserID]; ok {
			cancel()
			delete(h.subs, c.UserID)
		}
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Broadcast sends a message to all of the user's local connections.
func (h *Hub) Broadcast(userID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal event failed", zap.Error(err), zap.String("event", event))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers an event to the user on every instance. Without Redis, or when publishing fails,
// it falls back to local delivery.
func (h *Hub) Publish(userID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal event failed", zap.Error(err), zap.String("event", event))
		return
	}
	if h.pub != nil {
		err := h.pub.PublishUserEvent(userID, event, data)
		if err == nil {
			return
		}
		h.logger.Warn("publish user event failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
	h.Broadcast(userID, event, json.RawMessage(data))
}

// NotifyStatus tells the owner's connections that a recording changed status.
func (h *Hub) NotifyStatus(userID, recordingID uuid.UUID, status string) {
	h.Publish(userID, EventRecordingStatus, StatusEvent{RecordingID: recordingID, Status: status})
}

// Connections returns the number of local connections for a user.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Close cancels all Redis subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
}
