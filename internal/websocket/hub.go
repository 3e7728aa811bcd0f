package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Topic scopes shared with the notification fanout. A client is always
// subscribed to its own user and role topics; route and vehicle topics are
// subscribed per view over the wire.
func UserTopic(userID string) string   { return "user:" + userID }
func RoleTopic(role string) string     { return "role:" + role }
func RouteTopic(routeID string) string { return "route:" + routeID }
func VehicleTopic(vehID string) string { return "vehicle:" + vehID }

// Hub maintains active WebSocket connections and routes messages to topic
// subscribers. Subscriptions are reference-counted per client so two views
// of the same vehicle share one underlying subscription.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Topic -> subscribed clients
	topics map[string]map[*Client]bool

	// Outbound messages to a topic
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe map access
	mu sync.RWMutex
}

// Message represents a message to broadcast to a topic's subscribers
type Message struct {
	Topic string
	Data  interface{}
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			// Every session listens on its own user and role scopes
			h.Subscribe(client, UserTopic(client.UserID))
			h.Subscribe(client, RoleTopic(client.UserRole))
			log.Printf("✅ [WEBSOCKET] Client connected: %s (%s), total=%d", client.UserID, client.UserRole, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for topic := range client.subscriptions {
					h.dropLocked(client, topic)
				}
				close(client.send)
				log.Printf("🔴 [WEBSOCKET] Client disconnected: %s, remaining=%d", client.UserID, len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.deliver(message.Topic, message.Data)
		}
	}
}

// Subscribe adds the client to a topic. Repeated subscriptions from the same
// client stack: the topic stays live until every one is released.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subscriptions[topic]++
	if client.subscriptions[topic] > 1 {
		return // already subscribed, just bump the refcount
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Client]bool)
		h.topics[topic] = set
	}
	set[client] = true
}

// Unsubscribe releases one reference to a topic. Unsubscribing a topic the
// client never subscribed to is a no-op.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	count, ok := client.subscriptions[topic]
	if !ok {
		return
	}
	if count > 1 {
		client.subscriptions[topic] = count - 1
		return
	}
	h.dropLocked(client, topic)
}

// dropLocked removes the client from a topic set entirely. Caller holds mu.
func (h *Hub) dropLocked(client *Client, topic string) {
	delete(client.subscriptions, topic)
	if set, ok := h.topics[topic]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

// deliver marshals once and pushes to every subscriber. Delivery is
// best-effort: a client with a full buffer misses the message and recovers
// by re-querying on reconnect.
func (h *Hub) deliver(topic string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("❌ Failed to marshal broadcast message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[topic] {
		select {
		case client.send <- dataBytes:
		default:
			log.Printf("⚠️ Client buffer full, skipping: %s", client.UserID)
		}
	}
}

// BroadcastToTopic queues a message for all subscribers of a topic
func (h *Hub) BroadcastToTopic(topic string, data interface{}) {
	h.broadcast <- &Message{Topic: topic, Data: data}
}

// BroadcastToUser sends a message to a specific user's sessions
func (h *Hub) BroadcastToUser(userID string, data interface{}) {
	h.BroadcastToTopic(UserTopic(userID), data)
}

// BroadcastToRole sends a message to all users with a specific role
func (h *Hub) BroadcastToRole(role string, data interface{}) {
	h.BroadcastToTopic(RoleTopic(role), data)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns how many clients hold a live subscription to topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
