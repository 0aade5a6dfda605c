package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type Entity string

const (
	EntityJob    Entity = "job"
	EntityPoints Entity = "points"
	EntityReward Entity = "reward"
	EntityUser   Entity = "user"
)

type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionClaimed   Action = "claimed"
	ActionSubmitted Action = "submitted"
	ActionApproved  Action = "approved"
	ActionExpired   Action = "expired"
	ActionGenerated Action = "generated"
	ActionRedeemed  Action = "redeemed"
)

// Message is a change notification. Clients refetch the entity on receipt.
type Message struct {
	Type   string         `json:"type"`
	Entity Entity         `json:"entity"`
	Action Action         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity Entity, action Action, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub maintains the set of active WebSocket clients and fans messages out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", "user_id", c.userID)
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every connected client.
func (h *Hub) Broadcast(msg Message) {
	h.deliver(msg, func(*Client) bool { return true })
}

// SendToUsers sends msg only to the sessions of the given users, e.g. a
// balance change that concerns one child.
func (h *Hub) SendToUsers(msg Message, userIDs ...int64) {
	h.deliver(msg, func(c *Client) bool { return slices.Contains(userIDs, c.userID) })
}

func (h *Hub) deliver(msg Message, match func(*Client) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client buffer full, message dropped", "user_id", c.userID, "type", msg.Type)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
