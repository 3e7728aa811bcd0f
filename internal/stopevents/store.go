package stopevents

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"schoolrun-backend/internal/models"
)

// SQLStore backs the broker with Postgres.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) StopByID(stopID string) (*models.Stop, error) {
	var stop models.Stop
	err := s.db.Get(&stop, "SELECT * FROM stops WHERE id = $1", stopID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stop, nil
}

func (s *SQLStore) Insert(event *models.StopEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO stop_events (id, stop_id, vehicle_id, route_id, status, occurred_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.StopID, event.VehicleID, event.RouteID,
		event.Status, event.OccurredAt, event.ExpiresAt)
	return err
}

func (s *SQLStore) ByStop(stopID string, now int64, limit int) ([]models.StopEvent, error) {
	events := []models.StopEvent{}
	err := s.db.Select(&events, `
		SELECT * FROM stop_events
		WHERE stop_id = $1 AND expires_at > $2
		ORDER BY occurred_at DESC
		LIMIT $3`,
		stopID, now, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *SQLStore) ByVehicle(vehicleID string, now int64, limit int) ([]models.StopEvent, error) {
	events := []models.StopEvent{}
	err := s.db.Select(&events, `
		SELECT * FROM stop_events
		WHERE vehicle_id = $1 AND expires_at > $2
		ORDER BY occurred_at DESC
		LIMIT $3`,
		vehicleID, now, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *SQLStore) DeleteExpired(now int64) (int64, error) {
	result, err := s.db.Exec("DELETE FROM stop_events WHERE expires_at <= $1", now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
