package tracking

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"schoolrun-backend/internal/models"
)

// SQLStore backs the streamer with Postgres.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) VehicleByDriver(driverID string) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	err := s.db.Get(&vehicle, "SELECT * FROM vehicles WHERE driver_id = $1", driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

func (s *SQLStore) TripStateForVehicle(vehicleID, serviceDate string) (models.TripState, error) {
	var state models.TripState
	err := s.db.Get(&state,
		"SELECT state FROM trips WHERE vehicle_id = $1 AND service_date = $2",
		vehicleID, serviceDate)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TripStateIdle, nil
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// AppendSample writes the history row and overwrites the projection in one
// transaction. If either write fails the other is rolled back, so the
// projection can never reflect a sample that is not in the history.
func (s *SQLStore) AppendSample(sample *models.PositionSample) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	err = tx.QueryRow(`
		INSERT INTO position_samples (vehicle_id, driver_id, latitude, longitude, speed, heading, captured_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		sample.VehicleID, sample.DriverID, sample.Latitude, sample.Longitude,
		sample.Speed, sample.Heading, sample.CapturedAt, now,
	).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("appending position sample: %w", err)
	}
	sample.CreatedAt = now

	_, err = tx.Exec(`
		INSERT INTO vehicle_last_position (vehicle_id, latitude, longitude, speed, heading, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			speed = EXCLUDED.speed,
			heading = EXCLUDED.heading,
			updated_at = EXCLUDED.updated_at`,
		sample.VehicleID, sample.Latitude, sample.Longitude,
		sample.Speed, sample.Heading, sample.CapturedAt)
	if err != nil {
		return fmt.Errorf("updating last position: %w", err)
	}

	return tx.Commit()
}

// LastPosition returns the vehicle's latest projected position, or nil when
// the vehicle has never reported one.
func (s *SQLStore) LastPosition(vehicleID string) (*models.VehicleLastPosition, error) {
	var pos models.VehicleLastPosition
	err := s.db.Get(&pos, "SELECT * FROM vehicle_last_position WHERE vehicle_id = $1", vehicleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// SamplesForVehicle returns the newest history samples for a vehicle.
func (s *SQLStore) SamplesForVehicle(vehicleID string, limit int) ([]models.PositionSample, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	samples := []models.PositionSample{}
	err := s.db.Select(&samples,
		"SELECT * FROM position_samples WHERE vehicle_id = $1 ORDER BY captured_at DESC LIMIT $2",
		vehicleID, limit)
	if err != nil {
		return nil, err
	}
	return samples, nil
}
