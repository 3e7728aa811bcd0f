package models

import "time"

// TripState represents the lifecycle state of a vehicle's run for a service date
type TripState string

const (
	TripStateIdle       TripState = "idle"        // No run in progress, route may be bound
	TripStateInProgress TripState = "in_progress" // Vehicle is out on the run
	TripStateCompleted  TripState = "completed"   // Run finished, waiting for idle reset
)

// Trip represents one vehicle's transport run for one service date.
// There is exactly one trips row per (vehicle_id, service_date).
type Trip struct {
	ID          string    `json:"id" db:"id"`
	VehicleID   string    `json:"vehicle_id" db:"vehicle_id"`
	RouteID     *string   `json:"route_id" db:"route_id"`
	DriverID    string    `json:"driver_id" db:"driver_id"`
	ServiceDate string    `json:"service_date" db:"service_date"`
	State       TripState `json:"state" db:"state"`
	StartedAt   *int64    `json:"started_at" db:"started_at"`
	EndedAt     *int64    `json:"ended_at" db:"ended_at"`
	CreatedAt   int64     `json:"created_at" db:"created_at"`
	UpdatedAt   int64     `json:"updated_at" db:"updated_at"`
}

// PermitsTracking reports whether position samples may be emitted in this state.
func (s TripState) PermitsTracking() bool {
	return s == TripStateInProgress
}

// TripHistory is the immutable record written when a trip ends.
type TripHistory struct {
	ID              string  `json:"id" db:"id"`
	VehicleID       string  `json:"vehicle_id" db:"vehicle_id"`
	RouteID         *string `json:"route_id" db:"route_id"`
	DriverID        string  `json:"driver_id" db:"driver_id"`
	ServiceDate     string  `json:"service_date" db:"service_date"`
	StartedAt       *int64  `json:"started_at" db:"started_at"`
	EndedAt         int64   `json:"ended_at" db:"ended_at"`
	BoardedStudents int     `json:"boarded_students" db:"boarded_students"`
	AbsentStudents  int     `json:"absent_students" db:"absent_students"`
	EndedBy         string  `json:"ended_by" db:"ended_by"`
	CreatedAt       int64   `json:"created_at" db:"created_at"`
}

// ServiceDate formats t as the canonical service-date key.
func ServiceDate(t time.Time) string {
	return t.Format("2006-01-02")
}
