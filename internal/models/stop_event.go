package models

// StopEventStatus marks whether the vehicle arrived at or departed from a stop
type StopEventStatus string

const (
	StopEventArrived  StopEventStatus = "arrived"
	StopEventDeparted StopEventStatus = "departed"
)

// StopEvent is a time-bounded arrival/departure marker. Readers only ever see
// events with expires_at in the future; the sweep removes the rest.
type StopEvent struct {
	ID         string          `json:"id" db:"id"`
	StopID     string          `json:"stop_id" db:"stop_id"`
	VehicleID  string          `json:"vehicle_id" db:"vehicle_id"`
	RouteID    string          `json:"route_id" db:"route_id"`
	Status     StopEventStatus `json:"status" db:"status"`
	OccurredAt int64           `json:"occurred_at" db:"occurred_at"`
	ExpiresAt  int64           `json:"expires_at" db:"expires_at"`
}

// Visible reports whether the event may still be served to readers.
func (e *StopEvent) Visible(now int64) bool {
	return now < e.ExpiresAt
}
