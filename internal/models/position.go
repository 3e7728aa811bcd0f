package models

// PositionSample is one timestamped device location fix, append-only history
type PositionSample struct {
	ID         int64    `json:"id" db:"id"`
	VehicleID  string   `json:"vehicle_id" db:"vehicle_id"`
	DriverID   string   `json:"driver_id" db:"driver_id"`
	Latitude   float64  `json:"latitude" db:"latitude"`
	Longitude  float64  `json:"longitude" db:"longitude"`
	Speed      *float64 `json:"speed,omitempty" db:"speed"`     // m/s
	Heading    *float64 `json:"heading,omitempty" db:"heading"` // degrees 0-360
	CapturedAt int64    `json:"captured_at" db:"captured_at"`   // Client-side timestamp
	CreatedAt  int64    `json:"created_at" db:"created_at"`     // Server-side timestamp
}

// VehicleLastPosition is the read-optimized latest-sample projection,
// exactly one row per vehicle, maintained in the same transaction as the
// sample append.
type VehicleLastPosition struct {
	VehicleID string   `json:"vehicle_id" db:"vehicle_id"`
	Latitude  float64  `json:"latitude" db:"latitude"`
	Longitude float64  `json:"longitude" db:"longitude"`
	Speed     *float64 `json:"speed,omitempty" db:"speed"`
	Heading   *float64 `json:"heading,omitempty" db:"heading"`
	UpdatedAt int64    `json:"updated_at" db:"updated_at"`
}
