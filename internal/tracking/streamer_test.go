package tracking

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolrun-backend/internal/faults"
	"schoolrun-backend/internal/models"
)

type fakeSource struct {
	mu         sync.Mutex
	watchCount int
	onFix      func(Fix)
	onErr      func(error)
}

type fakeHandle struct{}

func (fakeHandle) Cancel() {}

func (s *fakeSource) Watch(opts WatchOptions, onFix func(Fix), onErr func(error)) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCount++
	s.onFix = onFix
	s.onErr = onErr
	return fakeHandle{}, nil
}

func (s *fakeSource) watches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCount
}

func (s *fakeSource) emit(fix Fix) {
	s.mu.Lock()
	cb := s.onFix
	s.mu.Unlock()
	if cb != nil {
		cb(fix)
	}
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	cb := s.onErr
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

type fakeTrackStore struct {
	mu        sync.Mutex
	vehicle   *models.Vehicle
	tripState models.TripState
	samples   []models.PositionSample
}

func (f *fakeTrackStore) VehicleByDriver(driverID string) (*models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vehicle == nil {
		return nil, nil
	}
	cp := *f.vehicle
	return &cp, nil
}

func (f *fakeTrackStore) TripStateForVehicle(vehicleID, serviceDate string) (models.TripState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tripState, nil
}

func (f *fakeTrackStore) AppendSample(sample *models.PositionSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, *sample)
	return nil
}

func (f *fakeTrackStore) sampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeBroadcaster) BroadcastToTopic(topic string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
}

type terminalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (t *terminalRecorder) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, err)
}

func (t *terminalRecorder) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.errs)
}

func (t *terminalRecorder) last() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errs) == 0 {
		return nil
	}
	return t.errs[len(t.errs)-1]
}

var trackDriverSess = models.Session{UserID: "driver-1", Role: models.RoleDriver}

func newTestStreamer(t *testing.T) (*Streamer, *fakeTrackStore, *fakeSource, *terminalRecorder) {
	t.Helper()
	store := &fakeTrackStore{
		vehicle:   &models.Vehicle{ID: "vehicle-1", DriverID: "driver-1", TrackingEnabled: true},
		tripState: models.TripStateInProgress,
	}
	source := &fakeSource{}
	term := &terminalRecorder{}
	s := NewStreamer(store, source, nil, "driver-1", "vehicle-1")
	s.SetRetryPolicy(3, time.Millisecond)
	s.OnTerminal(term.record)
	return s, store, source, term
}

func TestStartPreconditionsAreDistinguishable(t *testing.T) {
	store := &fakeTrackStore{}
	source := &fakeSource{}

	tests := []struct {
		name    string
		setup   func() *Streamer
		sess    models.Session
		wantErr error
	}{
		{
			name:    "not a driver",
			setup:   func() *Streamer { return NewStreamer(store, source, nil, "u", "v") },
			sess:    models.Session{UserID: "student-1", Role: models.RoleStudent},
			wantErr: ErrNotAuthenticated,
		},
		{
			name:    "empty session",
			setup:   func() *Streamer { return NewStreamer(store, source, nil, "u", "v") },
			sess:    models.Session{},
			wantErr: ErrNotAuthenticated,
		},
		{
			name:    "no positioning source",
			setup:   func() *Streamer { return NewStreamer(store, nil, nil, "driver-1", "v") },
			sess:    trackDriverSess,
			wantErr: ErrNoSource,
		},
		{
			name:    "no vehicle",
			setup:   func() *Streamer { return NewStreamer(&fakeTrackStore{}, source, nil, "driver-1", "v") },
			sess:    trackDriverSess,
			wantErr: ErrNoVehicle,
		},
		{
			name: "tracking disabled",
			setup: func() *Streamer {
				st := &fakeTrackStore{vehicle: &models.Vehicle{ID: "v", DriverID: "driver-1", TrackingEnabled: false}}
				return NewStreamer(st, source, nil, "driver-1", "v")
			},
			sess:    trackDriverSess,
			wantErr: ErrTrackingDisabled,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.setup().Start(tc.sess)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestFixPersistedWhileTripInProgress(t *testing.T) {
	store := &fakeTrackStore{
		vehicle:   &models.Vehicle{ID: "vehicle-1", DriverID: "driver-1", TrackingEnabled: true},
		tripState: models.TripStateInProgress,
	}
	source := &fakeSource{}
	broadcast := &fakeBroadcaster{}
	s := NewStreamer(store, source, broadcast, "driver-1", "vehicle-1")
	require.NoError(t, s.Start(trackDriverSess))
	defer s.Stop()

	source.emit(Fix{Latitude: 52.52, Longitude: 13.405, CapturedAt: 1700000000})

	require.Equal(t, 1, store.sampleCount())
	assert.Equal(t, "vehicle-1", store.samples[0].VehicleID)
	assert.Equal(t, 52.52, store.samples[0].Latitude)
	assert.Equal(t, []string{"vehicle:vehicle-1"}, broadcast.topics)
}

func TestFixDroppedWhenTripNotInProgress(t *testing.T) {
	s, store, source, _ := newTestStreamer(t)
	store.mu.Lock()
	store.tripState = models.TripStateIdle
	store.mu.Unlock()

	require.NoError(t, s.Start(trackDriverSess))
	defer s.Stop()

	source.emit(Fix{Latitude: 1, Longitude: 2, CapturedAt: 1})
	assert.Equal(t, 0, store.sampleCount())
}

func TestFixDroppedWhenTrackingDisabledMidTrip(t *testing.T) {
	s, store, source, _ := newTestStreamer(t)
	require.NoError(t, s.Start(trackDriverSess))
	defer s.Stop()

	store.mu.Lock()
	store.vehicle.TrackingEnabled = false
	store.mu.Unlock()

	source.emit(Fix{Latitude: 1, Longitude: 2, CapturedAt: 1})
	assert.Equal(t, 0, store.sampleCount())
}

func TestTransientErrorsRetryExactlyThreeTimes(t *testing.T) {
	s, _, source, term := newTestStreamer(t)
	require.NoError(t, s.Start(trackDriverSess))
	require.Equal(t, 1, source.watches())

	// Each transient error re-arms the watch after the retry delay
	for i := 0; i < 3; i++ {
		source.fail(ErrPositionUnavailable)
		want := i + 2
		require.Eventually(t, func() bool { return source.watches() == want },
			time.Second, time.Millisecond)
	}

	// Budget exhausted: the fourth error is terminal
	source.fail(ErrPositionUnavailable)
	require.Eventually(t, func() bool { return term.count() == 1 },
		time.Second, time.Millisecond)

	assert.False(t, s.Running())
	assert.False(t, s.PermissionDenied())
	assert.Equal(t, faults.TransientIO, faults.KindOf(term.last()))
	assert.Equal(t, 4, source.watches(), "no re-watch after terminal failure")
}

func TestGoodFixRestoresRetryBudget(t *testing.T) {
	s, _, source, term := newTestStreamer(t)
	require.NoError(t, s.Start(trackDriverSess))

	for i := 0; i < 3; i++ {
		source.fail(ErrFixTimeout)
		want := i + 2
		require.Eventually(t, func() bool { return source.watches() == want },
			time.Second, time.Millisecond)
	}

	// A good fix arrives before the budget runs out
	source.emit(Fix{Latitude: 1, Longitude: 2, CapturedAt: 1})

	// Three more transient errors are tolerated again
	for i := 0; i < 3; i++ {
		source.fail(ErrFixTimeout)
		want := i + 5
		require.Eventually(t, func() bool { return source.watches() == want },
			time.Second, time.Millisecond)
	}

	assert.True(t, s.Running())
	assert.Equal(t, 0, term.count())
}

func TestPermissionDeniedStopsWithZeroRetries(t *testing.T) {
	s, _, source, term := newTestStreamer(t)
	require.NoError(t, s.Start(trackDriverSess))

	source.fail(ErrPermissionDenied)

	assert.False(t, s.Running())
	assert.True(t, s.PermissionDenied(), "permission flag is sticky")
	assert.Equal(t, 1, source.watches(), "no retry on permission denial")
	require.Equal(t, 1, term.count())
	assert.Equal(t, faults.PermissionDenied, faults.KindOf(term.last()))
}

func TestUnclassifiedErrorStopsWithoutRetry(t *testing.T) {
	s, _, source, term := newTestStreamer(t)
	require.NoError(t, s.Start(trackDriverSess))

	source.fail(errors.New("source exploded"))

	assert.False(t, s.Running())
	assert.False(t, s.PermissionDenied())
	assert.Equal(t, 1, source.watches(), "no retry for an unclassifiable error")
	require.Equal(t, 1, term.count())
}

func TestPermissionFlagClearsOnRestart(t *testing.T) {
	s, _, source, _ := newTestStreamer(t)
	require.NoError(t, s.Start(trackDriverSess))
	source.fail(ErrPermissionDenied)
	require.True(t, s.PermissionDenied())

	// The flag survives explicit stops too
	s.Stop()
	require.True(t, s.PermissionDenied())

	require.NoError(t, s.Start(trackDriverSess))
	defer s.Stop()
	assert.False(t, s.PermissionDenied())
	assert.True(t, s.Running())
}

func TestStopIsIdempotent(t *testing.T) {
	s, _, _, _ := newTestStreamer(t)

	s.Stop() // never started
	require.NoError(t, s.Start(trackDriverSess))
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestErrorsAfterStopAreIgnored(t *testing.T) {
	s, _, source, term := newTestStreamer(t)
	require.NoError(t, s.Start(trackDriverSess))
	s.Stop()

	source.fail(ErrPositionUnavailable)
	source.fail(ErrPermissionDenied)

	assert.Equal(t, 0, term.count())
	assert.False(t, s.PermissionDenied())
}
