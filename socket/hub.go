package socket

import (
	"context"
	"encoding/json"
	"sync"

	"docgraph/pkg/logger"
	"docgraph/pkg/metrics"
)

const (
	ReadyType           = "READY"            // Sent once the connection joined its room
	DocumentsUpdateType = "DOCUMENTS_UPDATE" // Documents were created or changed
	DocumentDeleteType  = "DOCUMENT_DELETE"  // A document was removed
	UserStateType       = "USER_STATE"       // Session state was overwritten
)

const (
	sendBufferSize      = 256
	broadcastBufferSize = 256
)

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type DocumentsPayload struct {
	UIDs []int64 `json:"uids"`
}

type envelope struct {
	userEmail string
	msg       WSMessage
}

// Hub fans change events out to every open connection of the same user.
// Rooms is owned by the Run goroutine; mu guards reads from other goroutines.
type Hub struct {
	Rooms      map[string]map[*Client]bool // userEmail -> clients
	Broadcast  chan envelope
	Register   chan *Client
	Unregister chan *Client

	// AllowedOrigin is matched against the Origin header on upgrade; "*" or
	// empty accepts any origin.
	AllowedOrigin string

	mu      sync.Mutex
	metrics *metrics.Metrics
	done    chan struct{}
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan envelope, broadcastBufferSize),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		metrics:    m,
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.Rooms {
				for client := range clients {
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.UserEmail] == nil {
				h.Rooms[client.UserEmail] = make(map[*Client]bool)
			}
			h.Rooms[client.UserEmail][client] = true
			h.mu.Unlock()
			h.metrics.FeedClientAdded()

			ready, _ := json.Marshal(WSMessage{Type: ReadyType})
			client.Send <- ready

		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case env := <-h.Broadcast:
			payload, err := json.Marshal(env.msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.Rooms[env.userEmail] {
				select {
				case client.Send <- payload:
				default:
					// The client is lagging; drop it rather than block the hub.
					logger.Sugar.Warnf("Client for %s has a full send buffer. Dropping it.", client.UserEmail)
					h.metrics.FeedClientDropped()
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// removeLocked detaches a client and closes its send channel. Safe to call
// for a client that is already gone. Caller holds mu.
func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.Rooms[client.UserEmail]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.Rooms, client.UserEmail)
	}
	h.metrics.FeedClientRemoved()
}

// Publish queues an event for the user's connections. It never blocks: when
// the hub is stopped or saturated the event is dropped.
func (h *Hub) Publish(userEmail, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s payload: %v", eventType, err)
		return
	}
	env := envelope{userEmail: userEmail, msg: WSMessage{Type: eventType, Payload: raw}}
	select {
	case h.Broadcast <- env:
	case <-h.done:
	default:
		logger.Sugar.Warnf("Change feed saturated, dropping %s event for %s", eventType, userEmail)
	}
}

// ClientCount reports how many connections the user currently has.
func (h *Hub) ClientCount(userEmail string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[userEmail])
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
