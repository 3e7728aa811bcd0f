package models

// Vehicle represents a registered transport vehicle bound to one driver
type Vehicle struct {
	ID              string `json:"id" db:"id"`
	PlateNumber     string `json:"plate_number" db:"plate_number"`
	DriverID        string `json:"driver_id" db:"driver_id"`
	TrackingEnabled bool   `json:"tracking_enabled" db:"tracking_enabled"`
	CreatedAt       int64  `json:"created_at" db:"created_at"`
	UpdatedAt       int64  `json:"updated_at" db:"updated_at"`
}

// Route is a named sequence of stops served by one vehicle
type Route struct {
	ID        string  `json:"id" db:"id"`
	Name      string  `json:"name" db:"name"`
	VehicleID *string `json:"vehicle_id" db:"vehicle_id"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
	UpdatedAt int64   `json:"updated_at" db:"updated_at"`
}

// Stop is one pickup/dropoff point on a route
type Stop struct {
	ID        string  `json:"id" db:"id"`
	RouteID   string  `json:"route_id" db:"route_id"`
	Name      string  `json:"name" db:"name"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Sequence  int     `json:"sequence" db:"sequence"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
}
