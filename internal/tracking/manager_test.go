package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolrun-backend/internal/models"
)

func newTestManager() (*Manager, *fakeTrackStore) {
	store := &fakeTrackStore{
		vehicle:   &models.Vehicle{ID: "vehicle-1", DriverID: "driver-1", TrackingEnabled: true},
		tripState: models.TripStateInProgress,
	}
	return NewManager(store, nil), store
}

func TestManagerStartAndStatus(t *testing.T) {
	m, _ := newTestManager()

	running, denied := m.Status("driver-1")
	assert.False(t, running)
	assert.False(t, denied)

	require.NoError(t, m.StartFor(trackDriverSess))
	defer m.StopFor("driver-1")

	running, denied = m.Status("driver-1")
	assert.True(t, running)
	assert.False(t, denied)
}

func TestManagerStartRejectsNonDriver(t *testing.T) {
	m, _ := newTestManager()

	err := m.StartFor(models.Session{UserID: "student-1", Role: models.RoleStudent})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestManagerStartWithoutVehicle(t *testing.T) {
	m := NewManager(&fakeTrackStore{}, nil)

	err := m.StartFor(trackDriverSess)
	assert.ErrorIs(t, err, ErrNoVehicle)
}

func TestManagerRoutesFixesToRunningStream(t *testing.T) {
	m, store := newTestManager()
	require.NoError(t, m.StartFor(trackDriverSess))
	defer m.StopFor("driver-1")

	m.PushFix("driver-1", 52.52, 13.405, nil, nil, 1700000000)
	assert.Equal(t, 1, store.sampleCount())

	// Fixes from drivers without a stream are dropped
	m.PushFix("driver-2", 1, 2, nil, nil, 3)
	assert.Equal(t, 1, store.sampleCount())
}

func TestManagerPushErrorCodes(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.StartFor(trackDriverSess))

	m.PushError("driver-1", "permission_denied")

	require.Eventually(t, func() bool {
		running, denied := m.Status("driver-1")
		return !running && denied
	}, time.Second, time.Millisecond)
}

func TestManagerDisableVehicleStopsStream(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.StartFor(trackDriverSess))

	m.DisableVehicle("vehicle-1")

	running, _ := m.Status("driver-1")
	assert.False(t, running)

	// Unknown vehicles are a no-op
	m.DisableVehicle("vehicle-404")
}

func TestManagerStopForIsIdempotent(t *testing.T) {
	m, _ := newTestManager()

	m.StopFor("driver-1") // never started
	require.NoError(t, m.StartFor(trackDriverSess))
	m.StopFor("driver-1")
	m.StopFor("driver-1")

	running, _ := m.Status("driver-1")
	assert.False(t, running)
}
