// Package notifications fans significant events out to interested sessions:
// a durable per-scope row for reconnect re-query, a live websocket broadcast,
// and a best-effort FCM push. Delivery failures never propagate back into the
// operation that raised the event.
package notifications

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"schoolrun-backend/internal/models"
	"schoolrun-backend/internal/websocket"
)

// Store is the fanout's persistence surface.
type Store interface {
	Insert(n *models.Notification) error
	ListByScopes(scopes []string, limit int) ([]models.Notification, error)
	MarkRead(id string, scopes []string) (bool, error)
	// TokensForScope resolves the FCM tokens of every user the scope covers.
	TokensForScope(scope string) ([]string, error)
	// RouteScopesForUser returns the route topics a user's sessions follow.
	RouteScopesForUser(userID, role string) ([]string, error)
	// StopName returns a display name for a stop, or the id when unknown.
	StopName(stopID string) string
	// VehicleLabel returns a display label for a vehicle, or the id.
	VehicleLabel(vehicleID string) string
}

// Pusher is the FCM surface the fanout uses. Nil disables push delivery.
type Pusher interface {
	SendMulticast(tokens []string, title, body string, data map[string]string) error
}

// Fanout receives events from the trip controller, the attendance ledger,
// the stop event broker and the chat relay, and delivers them per scope.
type Fanout struct {
	store Store
	hub   *websocket.Hub
	fcm   Pusher
	now   func() time.Time
}

func NewFanout(store Store, hub *websocket.Hub, fcm Pusher) *Fanout {
	return &Fanout{store: store, hub: hub, fcm: fcm, now: time.Now}
}

// SetClock overrides the fanout's time source, used in tests.
func (f *Fanout) SetClock(now func() time.Time) { f.now = now }

// publish is the single delivery path: durable row first, then live
// broadcast, then push. Each leg is independent; a failed leg logs and the
// rest still run.
func (f *Fanout) publish(scope, kind, title, body string, payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ Failed to encode %s payload: %v", kind, err)
		raw = []byte("{}")
	}

	n := &models.Notification{
		ID:             uuid.New().String(),
		RecipientScope: scope,
		Kind:           kind,
		Payload:        raw,
		CreatedAt:      f.now().Unix(),
	}
	if err := f.store.Insert(n); err != nil {
		log.Printf("❌ Failed to persist %s notification for %s: %v", kind, scope, err)
	}

	if f.hub != nil {
		f.hub.BroadcastToTopic(scope, map[string]interface{}{
			"type": kind,
			"data": n,
		})
	}

	if f.fcm != nil && title != "" {
		go f.push(scope, kind, title, body, payload)
	}
}

func (f *Fanout) push(scope, kind, title, body string, payload map[string]interface{}) {
	tokens, err := f.store.TokensForScope(scope)
	if err != nil {
		log.Printf("❌ Failed to resolve FCM tokens for %s: %v", scope, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	data := map[string]string{"type": kind, "scope": scope}
	for k, v := range payload {
		data[k] = fmt.Sprint(v)
	}
	if err := f.fcm.SendMulticast(tokens, title, body, data); err != nil {
		log.Printf("❌ FCM delivery failed for %s: %v", scope, err)
	}
}

// TripStarted notifies the route's riders that the trip began.
func (f *Fanout) TripStarted(t *models.Trip) {
	if t.RouteID == nil {
		return
	}
	f.publish(websocket.RouteTopic(*t.RouteID), models.NotificationTripStarted,
		"Trip Started", "Your bus is on its way.",
		map[string]interface{}{
			"trip_id":    t.ID,
			"vehicle_id": t.VehicleID,
			"route_id":   *t.RouteID,
		})
}

// TripEnded notifies the route's riders and dispatch with the ride totals.
func (f *Fanout) TripEnded(t *models.Trip, boarded, absent int) {
	payload := map[string]interface{}{
		"trip_id":    t.ID,
		"vehicle_id": t.VehicleID,
		"boarded":    boarded,
		"absent":     absent,
	}
	if t.RouteID != nil {
		payload["route_id"] = *t.RouteID
		f.publish(websocket.RouteTopic(*t.RouteID), models.NotificationTripEnded,
			"Trip Completed", "Today's trip has ended.", payload)
	}
	f.publish(websocket.RoleTopic(models.RoleDispatcher), models.NotificationTripEnded,
		"", "", payload)
}

// StudentBoarded notifies the student's own sessions and the route feed.
func (f *Fanout) StudentBoarded(rec *models.AttendanceRecord) {
	payload := map[string]interface{}{
		"student_id":   rec.StudentID,
		"route_id":     rec.RouteID,
		"service_date": rec.ServiceDate,
	}
	f.publish(websocket.UserTopic(rec.StudentID), models.NotificationBoarded,
		"Boarded", "Boarding confirmed for today's trip.", payload)
	f.publish(websocket.RouteTopic(rec.RouteID), models.NotificationBoarded, "", "", payload)
}

// StopEventRegistered notifies the route's riders of an arrival or departure.
func (f *Fanout) StopEventRegistered(event *models.StopEvent) {
	kind := models.NotificationStopArrival
	title := "Bus Arrived"
	stopName := f.store.StopName(event.StopID)
	body := fmt.Sprintf("%s has arrived at %s.", f.store.VehicleLabel(event.VehicleID), stopName)
	if event.Status == models.StopEventDeparted {
		kind = models.NotificationStopDeparture
		title = "Bus Departed"
		body = fmt.Sprintf("%s has left %s.", f.store.VehicleLabel(event.VehicleID), stopName)
	}
	f.publish(websocket.RouteTopic(event.RouteID), kind, title, body,
		map[string]interface{}{
			"stop_id":     event.StopID,
			"vehicle_id":  event.VehicleID,
			"route_id":    event.RouteID,
			"status":      string(event.Status),
			"occurred_at": event.OccurredAt,
		})
}

// RelayChat delivers a chat message into a scope. No push title, so chat
// stays off FCM and only reaches live and reconnecting sessions.
func (f *Fanout) RelayChat(senderID, senderRole, scope, text string) {
	f.publish(scope, models.NotificationChatMessage, "", "",
		map[string]interface{}{
			"sender_id":   senderID,
			"sender_role": senderRole,
			"text":        text,
		})
}

// ListForUser returns the user's notification feed across every scope their
// sessions follow.
func (f *Fanout) ListForUser(sess models.Session, limit int) ([]models.Notification, error) {
	scopes, err := f.scopesFor(sess)
	if err != nil {
		return nil, err
	}
	return f.store.ListByScopes(scopes, limit)
}

// MarkRead marks one notification read, scoped so users can only touch
// notifications addressed to them.
func (f *Fanout) MarkRead(sess models.Session, id string) (bool, error) {
	scopes, err := f.scopesFor(sess)
	if err != nil {
		return false, err
	}
	return f.store.MarkRead(id, scopes)
}

func (f *Fanout) scopesFor(sess models.Session) ([]string, error) {
	scopes := []string{websocket.UserTopic(sess.UserID), websocket.RoleTopic(sess.Role)}
	routes, err := f.store.RouteScopesForUser(sess.UserID, sess.Role)
	if err != nil {
		return nil, err
	}
	return append(scopes, routes...), nil
}
