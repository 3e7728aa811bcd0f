package models

import "encoding/json"

// Notification kinds
const (
	NotificationStopArrival   = "stop_arrival"
	NotificationStopDeparture = "stop_departure"
	NotificationTripStarted   = "trip_started"
	NotificationTripEnded     = "trip_ended"
	NotificationBoarded       = "student_boarded"
	NotificationChatMessage   = "chat_message"
)

// Notification is a durable, per-scope event copy. Live delivery goes over the
// websocket hub; this row is what a reconnecting session re-queries.
type Notification struct {
	ID             string          `json:"id" db:"id"`
	RecipientScope string          `json:"recipient_scope" db:"recipient_scope"` // "user:<id>", "route:<id>", "role:<role>"
	Kind           string          `json:"kind" db:"kind"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	CreatedAt      int64           `json:"created_at" db:"created_at"`
	Read           bool            `json:"read" db:"read"`
}

// FCMToken represents a Firebase Cloud Messaging token for a user
type FCMToken struct {
	ID         int    `json:"id" db:"id"`
	UserID     string `json:"user_id" db:"user_id"`
	Token      string `json:"token" db:"token"`
	DeviceType string `json:"device_type" db:"device_type"` // "ios" or "android"
	CreatedAt  int64  `json:"created_at" db:"created_at"`
	UpdatedAt  int64  `json:"updated_at" db:"updated_at"`
}
