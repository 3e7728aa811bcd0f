package attendance

import (
	"database/sql"
	"errors"

	"schoolrun-backend/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLStore is the Postgres-backed ledger store.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Record(studentID, serviceDate string) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := s.db.Get(&rec, `SELECT * FROM attendance_records WHERE student_id = $1 AND service_date = $2`,
		studentID, serviceDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) Insert(rec *models.AttendanceRecord) error {
	return s.db.QueryRow(`
		INSERT INTO attendance_records (student_id, route_id, stop_id, service_date, status, marked_by, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, rec.StudentID, rec.RouteID, rec.StopID, rec.ServiceDate, rec.Status, rec.MarkedBy, rec.MarkedAt).
		Scan(&rec.ID, &rec.CreatedAt)
}

func (s *SQLStore) Transition(studentID, serviceDate string, from []models.AttendanceStatus, to models.AttendanceStatus, markedBy string, markedAt int64) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}

	res, err := s.db.Exec(`
		UPDATE attendance_records
		SET status = $1, marked_by = $2, marked_at = $3
		WHERE student_id = $4 AND service_date = $5 AND status = ANY($6)
	`, to, markedBy, markedAt, studentID, serviceDate, pq.Array(fromStrs))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) Assignment(studentID string) (*models.RouteAssignment, error) {
	var a models.RouteAssignment
	err := s.db.Get(&a, `SELECT * FROM route_students WHERE student_id = $1`, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) TripState(routeID, serviceDate string) (models.TripState, error) {
	var state models.TripState
	err := s.db.Get(&state, `SELECT state FROM trips WHERE route_id = $1 AND service_date = $2`,
		routeID, serviceDate)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TripStateIdle, nil
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// SeedWaiting inserts a waiting row per assigned student in one statement;
// ON CONFLICT DO NOTHING keeps re-runs from duplicating rows, and the single
// statement means a midway failure leaves no partial seeding behind.
func (s *SQLStore) SeedWaiting(routeID, serviceDate string, now int64) (int, error) {
	res, err := s.db.Exec(`
		INSERT INTO attendance_records (student_id, route_id, stop_id, service_date, status, created_at)
		SELECT rs.student_id, rs.route_id, rs.stop_id, $2, 'waiting', $3
		FROM route_students rs
		WHERE rs.route_id = $1
		ON CONFLICT (student_id, service_date) DO NOTHING
	`, routeID, serviceDate, now)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) FinalizeAbsent(routeID, serviceDate, markedBy string, now int64) (int, error) {
	res, err := s.db.Exec(`
		UPDATE attendance_records
		SET status = 'absent', marked_by = $1, marked_at = $2
		WHERE route_id = $3 AND service_date = $4 AND status = 'waiting'
	`, markedBy, now, routeID, serviceDate)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) ListByRoute(routeID, serviceDate string) ([]models.AttendanceRecord, error) {
	recs := []models.AttendanceRecord{}
	err := s.db.Select(&recs, `
		SELECT * FROM attendance_records
		WHERE route_id = $1 AND service_date = $2
		ORDER BY stop_id, student_id
	`, routeID, serviceDate)
	return recs, err
}
