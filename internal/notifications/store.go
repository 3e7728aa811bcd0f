package notifications

import (
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"schoolrun-backend/internal/models"
	"schoolrun-backend/internal/websocket"
)

// SQLStore backs the fanout with Postgres.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(n *models.Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, recipient_scope, kind, payload, created_at, read)
		VALUES ($1, $2, $3, $4, $5, FALSE)`,
		n.ID, n.RecipientScope, n.Kind, n.Payload, n.CreatedAt)
	return err
}

func (s *SQLStore) ListByScopes(scopes []string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list := []models.Notification{}
	err := s.db.Select(&list, `
		SELECT * FROM notifications
		WHERE recipient_scope = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2`,
		pq.Array(scopes), limit)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *SQLStore) MarkRead(id string, scopes []string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND recipient_scope = ANY($2)`,
		id, pq.Array(scopes))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// TokensForScope resolves a scope string to the FCM tokens it covers.
func (s *SQLStore) TokensForScope(scope string) ([]string, error) {
	tokens := []string{}
	var err error
	switch {
	case strings.HasPrefix(scope, "user:"):
		err = s.db.Select(&tokens,
			"SELECT token FROM fcm_tokens WHERE user_id = $1",
			strings.TrimPrefix(scope, "user:"))
	case strings.HasPrefix(scope, "role:"):
		err = s.db.Select(&tokens, `
			SELECT t.token FROM fcm_tokens t
			JOIN users u ON u.id = t.user_id
			WHERE u.role = $1`,
			strings.TrimPrefix(scope, "role:"))
	case strings.HasPrefix(scope, "route:"):
		err = s.db.Select(&tokens, `
			SELECT t.token FROM fcm_tokens t
			JOIN route_students rs ON rs.student_id = t.user_id
			WHERE rs.route_id = $1`,
			strings.TrimPrefix(scope, "route:"))
	}
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// RouteScopesForUser returns the route topics a user's feed includes:
// assigned routes for students, today's routes for drivers.
func (s *SQLStore) RouteScopesForUser(userID, role string) ([]string, error) {
	routeIDs := []string{}
	var err error
	switch role {
	case models.RoleStudent:
		err = s.db.Select(&routeIDs,
			"SELECT route_id FROM route_students WHERE student_id = $1", userID)
	case models.RoleDriver:
		err = s.db.Select(&routeIDs, `
			SELECT route_id FROM trips
			WHERE driver_id = $1 AND route_id IS NOT NULL`, userID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	scopes := make([]string, 0, len(routeIDs))
	for _, id := range routeIDs {
		scopes = append(scopes, websocket.RouteTopic(id))
	}
	return scopes, nil
}

func (s *SQLStore) StopName(stopID string) string {
	var name string
	if err := s.db.Get(&name, "SELECT name FROM stops WHERE id = $1", stopID); err != nil {
		return stopID
	}
	return name
}

func (s *SQLStore) VehicleLabel(vehicleID string) string {
	var label string
	if err := s.db.Get(&label, "SELECT plate_number FROM vehicles WHERE id = $1", vehicleID); err != nil {
		return vehicleID
	}
	return label
}
