package notifications

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolrun-backend/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     []models.Notification
	tokens   map[string][]string // scope -> tokens
	routes   map[string][]string // userID -> route scopes
	failNext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: make(map[string][]string),
		routes: make(map[string][]string),
	}
}

func (f *fakeStore) Insert(n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errStoreDown
	}
	f.rows = append(f.rows, *n)
	return nil
}

func (f *fakeStore) ListByScopes(scopes []string, limit int) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		match[s] = true
	}
	var out []models.Notification
	for i := len(f.rows) - 1; i >= 0; i-- {
		if match[f.rows[i].RecipientScope] {
			out = append(out, f.rows[i])
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRead(id string, scopes []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		match[s] = true
	}
	for i := range f.rows {
		if f.rows[i].ID == id && match[f.rows[i].RecipientScope] {
			f.rows[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) TokensForScope(scope string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[scope], nil
}

func (f *fakeStore) RouteScopesForUser(userID, role string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.routes[userID], nil
}

func (f *fakeStore) StopName(stopID string) string     { return "Oak Street" }
func (f *fakeStore) VehicleLabel(vehicleID string) string { return "B-SR 2041" }

func (f *fakeStore) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeStore) lastRow() models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[len(f.rows)-1]
}

var errStoreDown = &storeDownError{}

type storeDownError struct{}

func (*storeDownError) Error() string { return "store down" }

type fakePusher struct {
	mu    sync.Mutex
	sends []pushedMessage
}

type pushedMessage struct {
	tokens []string
	title  string
	body   string
	data   map[string]string
}

func (f *fakePusher) SendMulticast(tokens []string, title, body string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, pushedMessage{tokens: tokens, title: title, body: body, data: data})
	return nil
}

func (f *fakePusher) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func routeID(id string) *string { return &id }

func TestTripStartedWritesDurableRow(t *testing.T) {
	store := newFakeStore()
	fanout := NewFanout(store, nil, nil)

	fanout.TripStarted(&models.Trip{ID: "trip-1", VehicleID: "vehicle-1", RouteID: routeID("route-1")})

	require.Equal(t, 1, store.rowCount())
	row := store.lastRow()
	assert.Equal(t, "route:route-1", row.RecipientScope)
	assert.Equal(t, models.NotificationTripStarted, row.Kind)
	assert.False(t, row.Read)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(row.Payload, &payload))
	assert.Equal(t, "trip-1", payload["trip_id"])
}

func TestTripStartedWithoutRouteIsDropped(t *testing.T) {
	store := newFakeStore()
	fanout := NewFanout(store, nil, nil)

	fanout.TripStarted(&models.Trip{ID: "trip-1", VehicleID: "vehicle-1"})
	assert.Equal(t, 0, store.rowCount())
}

func TestTripEndedNotifiesRouteAndDispatch(t *testing.T) {
	store := newFakeStore()
	fanout := NewFanout(store, nil, nil)

	fanout.TripEnded(&models.Trip{ID: "trip-1", VehicleID: "vehicle-1", RouteID: routeID("route-1")}, 2, 1)

	require.Equal(t, 2, store.rowCount())
	scopes := []string{store.rows[0].RecipientScope, store.rows[1].RecipientScope}
	assert.Contains(t, scopes, "route:route-1")
	assert.Contains(t, scopes, "role:dispatcher")
}

func TestStudentBoardedNotifiesStudentAndRoute(t *testing.T) {
	store := newFakeStore()
	fanout := NewFanout(store, nil, nil)

	fanout.StudentBoarded(&models.AttendanceRecord{
		StudentID: "student-1", RouteID: "route-1", ServiceDate: "2026-03-10",
	})

	require.Equal(t, 2, store.rowCount())
	assert.Equal(t, "user:student-1", store.rows[0].RecipientScope)
	assert.Equal(t, "route:route-1", store.rows[1].RecipientScope)
}

func TestStopEventNotificationKinds(t *testing.T) {
	tests := []struct {
		status models.StopEventStatus
		kind   string
	}{
		{models.StopEventArrived, models.NotificationStopArrival},
		{models.StopEventDeparted, models.NotificationStopDeparture},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			store := newFakeStore()
			fanout := NewFanout(store, nil, nil)

			fanout.StopEventRegistered(&models.StopEvent{
				ID: "event-1", StopID: "stop-1", VehicleID: "vehicle-1",
				RouteID: "route-1", Status: tc.status, OccurredAt: 100,
			})

			require.Equal(t, 1, store.rowCount())
			assert.Equal(t, tc.kind, store.lastRow().Kind)
			assert.Equal(t, "route:route-1", store.lastRow().RecipientScope)
		})
	}
}

func TestStopEventPushesToRouteTokens(t *testing.T) {
	store := newFakeStore()
	store.tokens["route:route-1"] = []string{"tok-1", "tok-2"}
	pusher := &fakePusher{}
	fanout := NewFanout(store, nil, pusher)

	fanout.StopEventRegistered(&models.StopEvent{
		ID: "event-1", StopID: "stop-1", VehicleID: "vehicle-1",
		RouteID: "route-1", Status: models.StopEventArrived, OccurredAt: 100,
	})

	require.Eventually(t, func() bool { return pusher.sendCount() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, []string{"tok-1", "tok-2"}, pusher.sends[0].tokens)
	assert.Equal(t, "Bus Arrived", pusher.sends[0].title)
	assert.Contains(t, pusher.sends[0].body, "Oak Street")
}

func TestChatStaysOffPush(t *testing.T) {
	store := newFakeStore()
	store.tokens["route:route-1"] = []string{"tok-1"}
	pusher := &fakePusher{}
	fanout := NewFanout(store, nil, pusher)

	fanout.RelayChat("driver-1", "driver", "route:route-1", "running 5 minutes late")

	require.Equal(t, 1, store.rowCount())
	assert.Equal(t, models.NotificationChatMessage, store.lastRow().Kind)

	// Chat is live/durable only, never an FCM push
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, pusher.sendCount())
}

func TestInsertFailureDoesNotPropagate(t *testing.T) {
	store := newFakeStore()
	store.failNext = true
	fanout := NewFanout(store, nil, nil)

	// Must not panic or error; delivery is best effort
	fanout.TripStarted(&models.Trip{ID: "trip-1", VehicleID: "vehicle-1", RouteID: routeID("route-1")})
	assert.Equal(t, 0, store.rowCount())
}

func TestListForUserMergesScopes(t *testing.T) {
	store := newFakeStore()
	store.routes["student-1"] = []string{"route:route-1"}
	fanout := NewFanout(store, nil, nil)

	fanout.StudentBoarded(&models.AttendanceRecord{StudentID: "student-1", RouteID: "route-1", ServiceDate: "2026-03-10"})
	fanout.RelayChat("driver-1", "driver", "route:route-1", "hello")
	fanout.RelayChat("driver-1", "driver", "route:route-2", "not yours")

	sess := models.Session{UserID: "student-1", Role: models.RoleStudent}
	list, err := fanout.ListForUser(sess, 50)
	require.NoError(t, err)
	// user:student-1 boarding row + route:route-1 boarding row + route chat
	assert.Len(t, list, 3)
}

func TestMarkReadScopedToOwnNotifications(t *testing.T) {
	store := newFakeStore()
	fanout := NewFanout(store, nil, nil)

	fanout.StudentBoarded(&models.AttendanceRecord{StudentID: "student-1", RouteID: "route-1", ServiceDate: "2026-03-10"})
	ownID := store.rows[0].ID // user:student-1 row

	sess := models.Session{UserID: "student-1", Role: models.RoleStudent}
	found, err := fanout.MarkRead(sess, ownID)
	require.NoError(t, err)
	assert.True(t, found)

	// A different student cannot mark it
	other := models.Session{UserID: "student-2", Role: models.RoleStudent}
	found, err = fanout.MarkRead(other, ownID)
	require.NoError(t, err)
	assert.False(t, found)
}
