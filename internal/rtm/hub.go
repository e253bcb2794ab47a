// Package rtm is the real-time messaging layer: WebSocket clients send typed
// operation messages, handlers invoke the domain services, and resulting
// courseware events fan out to every other client subscribed to the affected
// topic.
package rtm

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"courseware/api/internal/util"
)

// Event is the broadcast envelope addressed to a subscription topic. The
// originating client never receives its own event back.
type Event struct {
	Topic          string `json:"topic"`
	Type           string `json:"type"`
	OriginClientID string `json:"originClientId,omitempty"`
	ElementID      string `json:"elementId,omitempty"`
	ElementType    string `json:"elementType,omitempty"`
	ParentID       string `json:"parentId,omitempty"`
	AccountID      string `json:"accountId,omitempty"`
	Action         string `json:"action"`
	Payload        any    `json:"payload,omitempty"`
}

// Frame is a single outbound message to one client: either an operation reply
// correlated by ReplyTo, or a broadcast event.
type Frame struct {
	Type     string `json:"type"`
	ReplyTo  string `json:"replyTo,omitempty"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Response any    `json:"response,omitempty"`
	Event    *Event `json:"event,omitempty"`
}

type Client struct {
	ID        string
	AccountID string
	Topics    map[string]bool
	Outbound  chan Frame
	done      chan struct{}
}

// Done is closed when the client is shut down; the write pump selects on it.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub tracks topic subscriptions and fans events out to subscribers. All maps
// are guarded by one RWMutex; broadcasts take the read lock only.
type Hub struct {
	mu            sync.RWMutex
	log           zerolog.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:           log.With().Str("component", "rtm.hub").Logger(),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) NewClient(accountID string) *Client {
	return &Client{
		ID:        util.NewTimeID(),
		AccountID: accountID,
		Topics:    make(map[string]bool),
		Outbound:  make(chan Frame, 16),
		done:      make(chan struct{}),
	}
}

func (h *Hub) Subscribe(client *Client, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client.Topics[topic] = true
	clients, ok := h.subscriptions[topic]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[topic] = clients
	}
	clients[client] = true

	h.log.Debug().Str("clientId", client.ID).Str("topic", topic).Msg("client subscribed")
}

func (h *Hub) Unsubscribe(client *Client, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Topics, topic)
	if clients, ok := h.subscriptions[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, topic)
		}
	}
}

// RemoveClient drops the client from every topic it subscribed to.
func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range client.Topics {
		if clients, ok := h.subscriptions[topic]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, topic)
			}
		}
	}
	client.Topics = make(map[string]bool)
}

// CloseClient removes the client and closes its channels. Safe to call once.
func (h *Hub) CloseClient(client *Client) {
	close(client.done)
	h.RemoveClient(client)
	close(client.Outbound)
}

// Broadcast delivers the event to every subscriber of its topic except the
// client that originated it. Slow consumers with a full outbound buffer are
// skipped with a warning, never blocked on.
func (h *Hub) Broadcast(event Event) {
	if event.Topic == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscriptions[event.Topic]
	if !ok {
		return
	}
	frame := Frame{Type: event.Type, Event: &event}
	for client := range clients {
		if client.ID == event.OriginClientID {
			continue
		}
		select {
		case client.Outbound <- frame:
		default:
			h.log.Warn().Str("clientId", client.ID).Str("topic", event.Topic).Msg("dropping event, outbound buffer full")
		}
	}
}
