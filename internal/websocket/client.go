package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048 // location_update and chat payloads
)

// LocationSink receives device fixes and device-reported positioning errors
// arriving over the socket. Implemented by the tracking manager.
type LocationSink interface {
	PushFix(driverID string, lat, lon float64, speed, heading *float64, capturedAt int64)
	PushError(driverID string, code string)
}

// ChatRelay forwards chat messages into the notification fanout.
type ChatRelay interface {
	RelayChat(senderID, senderRole, scope, text string)
}

// Client represents a WebSocket client connection
type Client struct {
	UserID   string
	UserRole string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte

	// Topic -> refcount of live subscriptions held by this socket
	subscriptions map[string]int

	locations LocationSink
	chat      ChatRelay
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type  string                 `json:"type"`
	Topic string                 `json:"topic,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(userID, userRole string, conn *websocket.Conn, hub *Hub, locations LocationSink, chat ChatRelay) *Client {
	return &Client{
		UserID:        userID,
		UserRole:      userRole,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]int),
		locations:     locations,
		chat:          chat,
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Invalid message format: %v", err)
			continue
		}

		switch msg.Type {
		case "ping":
			response := map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Format(time.RFC3339),
			}
			responseData, _ := json.Marshal(response)
			c.send <- responseData

		case "subscribe":
			if msg.Topic != "" {
				c.hub.Subscribe(c, msg.Topic)
			}

		case "unsubscribe":
			if msg.Topic != "" {
				c.hub.Unsubscribe(c, msg.Topic)
			}

		case "location_update":
			c.handleLocationUpdate(msg.Data)

		case "location_error":
			c.handleLocationError(msg.Data)

		case "chat_message":
			c.handleChatMessage(msg.Data)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleLocationUpdate forwards a device fix to the tracking layer. Only
// driver sessions produce fixes.
func (c *Client) handleLocationUpdate(data map[string]interface{}) {
	if c.UserRole != "driver" || c.locations == nil {
		return
	}

	latitude, ok := data["latitude"].(float64)
	if !ok {
		log.Printf("❌ Invalid latitude in location update from %s", c.UserID)
		return
	}

	longitude, ok := data["longitude"].(float64)
	if !ok {
		log.Printf("❌ Invalid longitude in location update from %s", c.UserID)
		return
	}

	var heading, speed *float64
	if h, ok := data["heading"].(float64); ok {
		heading = &h
	}
	if s, ok := data["speed"].(float64); ok {
		speed = &s
	}

	capturedAt := time.Now().Unix()
	if ts, ok := data["timestamp"].(float64); ok {
		capturedAt = int64(ts)
	}

	c.locations.PushFix(c.UserID, latitude, longitude, speed, heading, capturedAt)
}

// handleLocationError forwards a device-reported positioning failure
// ("permission_denied", "timeout", "position_unavailable") to the tracking
// layer, which classifies and applies its retry policy.
func (c *Client) handleLocationError(data map[string]interface{}) {
	if c.UserRole != "driver" || c.locations == nil {
		return
	}

	code, ok := data["code"].(string)
	if !ok || code == "" {
		log.Printf("❌ location_error without code from %s", c.UserID)
		return
	}

	c.locations.PushError(c.UserID, code)
}

// handleChatMessage relays a chat message into the fanout, which persists it
// and pushes it to the scope's subscribers.
func (c *Client) handleChatMessage(data map[string]interface{}) {
	if c.chat == nil {
		return
	}

	scope, _ := data["scope"].(string)
	text, _ := data["text"].(string)
	if scope == "" || text == "" {
		return
	}

	c.chat.RelayChat(c.UserID, c.UserRole, scope, text)
}
