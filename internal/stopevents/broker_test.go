package stopevents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolrun-backend/internal/faults"
	"schoolrun-backend/internal/models"
)

type fakeStore struct {
	stops  map[string]*models.Stop
	events []models.StopEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{stops: make(map[string]*models.Stop)}
}

func (f *fakeStore) StopByID(stopID string) (*models.Stop, error) {
	return f.stops[stopID], nil
}

func (f *fakeStore) Insert(event *models.StopEvent) error {
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStore) ByStop(stopID string, now int64, limit int) ([]models.StopEvent, error) {
	var out []models.StopEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.events[i]
		if e.StopID == stopID && e.Visible(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ByVehicle(vehicleID string, now int64, limit int) ([]models.StopEvent, error) {
	var out []models.StopEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.events[i]
		if e.VehicleID == vehicleID && e.Visible(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteExpired(now int64) (int64, error) {
	var kept []models.StopEvent
	var removed int64
	for _, e := range f.events {
		if e.ExpiresAt <= now {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.events = kept
	return removed, nil
}

type recordedNotifier struct {
	events []models.StopEvent
}

func (r *recordedNotifier) StopEventRegistered(event *models.StopEvent) {
	r.events = append(r.events, *event)
}

var (
	stopDriverSess  = models.Session{UserID: "driver-1", Role: models.RoleDriver}
	stopStudentSess = models.Session{UserID: "student-1", Role: models.RoleStudent}
)

type clock struct {
	now time.Time
}

func (c *clock) fn() time.Time          { return c.now }
func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBroker() (*Broker, *fakeStore, *recordedNotifier, *clock) {
	store := newFakeStore()
	store.stops["stop-1"] = &models.Stop{ID: "stop-1", RouteID: "route-1", Name: "Oak Street"}
	notifier := &recordedNotifier{}
	clk := &clock{now: time.Date(2026, 3, 10, 7, 45, 0, 0, time.UTC)}
	b := NewBroker(store, notifier)
	b.SetClock(clk.fn)
	return b, store, notifier, clk
}

func TestRegisterArrival(t *testing.T) {
	b, _, notifier, clk := newTestBroker()

	event, err := b.RegisterArrival(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)
	assert.Equal(t, models.StopEventArrived, event.Status)
	assert.Equal(t, "route-1", event.RouteID, "route resolved from the stop")
	assert.Equal(t, clk.now.Unix(), event.OccurredAt)
	assert.Equal(t, clk.now.Unix()+600, event.ExpiresAt)
	require.Len(t, notifier.events, 1)
}

func TestRegisterDeparture(t *testing.T) {
	b, _, _, _ := newTestBroker()

	event, err := b.RegisterDeparture(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)
	assert.Equal(t, models.StopEventDeparted, event.Status)
}

func TestRegisterRejectsStudents(t *testing.T) {
	b, _, _, _ := newTestBroker()

	_, err := b.RegisterArrival(stopStudentSess, "stop-1", "vehicle-1")
	require.Error(t, err)
	assert.Equal(t, faults.InvalidStateTransition, faults.KindOf(err))
}

func TestRegisterUnknownStop(t *testing.T) {
	b, _, _, _ := newTestBroker()

	_, err := b.RegisterArrival(stopDriverSess, "stop-404", "vehicle-1")
	require.Error(t, err)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestEventVisibleJustBeforeExpiry(t *testing.T) {
	b, _, _, clk := newTestBroker()

	_, err := b.RegisterArrival(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)

	clk.advance(9*time.Minute + 59*time.Second)
	events, err := b.EventsForStop("stop-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventHiddenAfterExpiry(t *testing.T) {
	b, _, _, clk := newTestBroker()

	_, err := b.RegisterArrival(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)

	// Query-time filtering hides the event even though the sweep has not run
	clk.advance(10*time.Minute + 1*time.Second)
	events, err := b.EventsForStop("stop-1")
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = b.EventsForVehicle("vehicle-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDuplicateRegistrationsAllFanOut(t *testing.T) {
	b, _, notifier, _ := newTestBroker()

	_, err := b.RegisterArrival(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)
	_, err = b.RegisterArrival(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)

	events, err := b.EventsForStop("stop-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Len(t, notifier.events, 2)
}

func TestQueryNewestFirstCapped(t *testing.T) {
	b, _, _, clk := newTestBroker()

	for i := 0; i < 12; i++ {
		_, err := b.RegisterArrival(stopDriverSess, "stop-1", "vehicle-1")
		require.NoError(t, err)
		clk.advance(time.Second)
	}

	events, err := b.EventsForStop("stop-1")
	require.NoError(t, err)
	require.Len(t, events, DefaultQueryLimit)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i-1].OccurredAt, events[i].OccurredAt)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	b, store, _, clk := newTestBroker()

	_, err := b.RegisterArrival(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)
	clk.advance(8 * time.Minute)
	_, err = b.RegisterDeparture(stopDriverSess, "stop-1", "vehicle-1")
	require.NoError(t, err)

	// First event is now 11 minutes old, second 3 minutes
	clk.advance(3 * time.Minute)
	b.Sweep()

	require.Len(t, store.events, 1)
	assert.Equal(t, models.StopEventDeparted, store.events[0].Status)
}
