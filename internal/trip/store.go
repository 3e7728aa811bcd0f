package trip

import (
	"database/sql"
	"errors"

	"schoolrun-backend/internal/models"

	"github.com/jmoiron/sqlx"
)

// SQLStore is the Postgres-backed trip store.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) TripForDate(vehicleID, serviceDate string) (*models.Trip, error) {
	var t models.Trip
	err := s.db.Get(&t, `SELECT * FROM trips WHERE vehicle_id = $1 AND service_date = $2`,
		vehicleID, serviceDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) ActiveTripForVehicle(vehicleID string) (*models.Trip, error) {
	var t models.Trip
	err := s.db.Get(&t, `
		SELECT * FROM trips
		WHERE vehicle_id = $1 AND state = 'in_progress'
		ORDER BY service_date DESC
		LIMIT 1
	`, vehicleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) CreateTrip(t *models.Trip) error {
	_, err := s.db.Exec(`
		INSERT INTO trips (id, vehicle_id, route_id, driver_id, service_date, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.VehicleID, t.RouteID, t.DriverID, t.ServiceDate, t.State, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *SQLStore) UpdateTrip(t *models.Trip) error {
	_, err := s.db.Exec(`
		UPDATE trips
		SET route_id = $1, state = $2, started_at = $3, ended_at = $4, updated_at = $5
		WHERE id = $6
	`, t.RouteID, t.State, t.StartedAt, t.EndedAt, t.UpdatedAt, t.ID)
	return err
}

func (s *SQLStore) VehicleByDriver(driverID string) (*models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.Get(&v, `SELECT * FROM vehicles WHERE driver_id = $1`, driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLStore) RouteByID(routeID string) (*models.Route, error) {
	var r models.Route
	err := s.db.Get(&r, `SELECT * FROM routes WHERE id = $1`, routeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) ActiveTrips() ([]models.Trip, error) {
	trips := []models.Trip{}
	err := s.db.Select(&trips, `SELECT * FROM trips WHERE state = 'in_progress' ORDER BY started_at DESC`)
	return trips, err
}

func (s *SQLStore) InsertHistory(h *models.TripHistory) error {
	_, err := s.db.Exec(`
		INSERT INTO trip_history (id, vehicle_id, route_id, driver_id, service_date, started_at, ended_at, boarded_students, absent_students, ended_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, h.ID, h.VehicleID, h.RouteID, h.DriverID, h.ServiceDate, h.StartedAt, h.EndedAt, h.BoardedStudents, h.AbsentStudents, h.EndedBy)
	return err
}

func (s *SQLStore) AttendanceCounts(routeID, serviceDate string) (int, int, error) {
	var counts struct {
		Boarded int `db:"boarded"`
		Absent  int `db:"absent"`
	}
	err := s.db.Get(&counts, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'boarded') AS boarded,
			COUNT(*) FILTER (WHERE status = 'absent') AS absent
		FROM attendance_records
		WHERE route_id = $1 AND service_date = $2
	`, routeID, serviceDate)
	return counts.Boarded, counts.Absent, err
}
