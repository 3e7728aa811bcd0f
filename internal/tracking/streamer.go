// Package tracking owns the continuous device-location stream for a driver's
// vehicle: precondition-checked start, bounded retry on transient positioning
// failures, an immediate stop on permission loss, and the atomic
// sample-append + last-position projection write.
package tracking

import (
	"fmt"
	"log"
	"sync"
	"time"

	"schoolrun-backend/internal/faults"
	"schoolrun-backend/internal/models"
)

const (
	// DefaultMaxRetries bounds consecutive transient-failure retries.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the fixed wait between retries.
	DefaultRetryDelay = 2 * time.Second
	// DefaultFixTimeout is how long to wait for a fix before the watch is
	// considered stalled.
	DefaultFixTimeout = 8 * time.Second
)

// Distinguishable start preconditions. Each maps to its own remediation in
// the UI, so none of them share an error value.
var (
	ErrNotAuthenticated = faults.New(faults.PreconditionFailed, "tracking requires an authenticated driver session")
	ErrNoVehicle        = faults.New(faults.PreconditionFailed, "no vehicle registered for this driver")
	ErrTrackingDisabled = faults.New(faults.PreconditionFailed, "tracking is disabled for this vehicle")
	ErrNoSource         = faults.New(faults.PreconditionFailed, "device has no positioning capability")
)

// Errors a positioning source emits.
var (
	ErrPermissionDenied    = faults.New(faults.PermissionDenied, "positioning permission denied")
	ErrFixTimeout          = faults.New(faults.TransientIO, "timed out waiting for a position fix")
	ErrPositionUnavailable = faults.New(faults.TransientIO, "position unavailable")
)

// Fix is one raw device location reading.
type Fix struct {
	Latitude   float64
	Longitude  float64
	Speed      *float64
	Heading    *float64
	CapturedAt int64
}

// WatchOptions mirror the device positioning contract.
type WatchOptions struct {
	HighAccuracy bool
	MaxAge       time.Duration
	Timeout      time.Duration
}

// Handle cancels an active watch registration.
type Handle interface {
	Cancel()
}

// Source is the device positioning capability: a continuous watch that
// invokes onFix per reading and onErr per failure.
type Source interface {
	Watch(opts WatchOptions, onFix func(Fix), onErr func(error)) (Handle, error)
}

// Store is the persistence surface of the streamer.
type Store interface {
	// VehicleByDriver returns the driver's registered vehicle, or nil.
	VehicleByDriver(driverID string) (*models.Vehicle, error)
	// TripStateForVehicle reports the vehicle's trip state for the date.
	TripStateForVehicle(vehicleID, serviceDate string) (models.TripState, error)
	// AppendSample appends one history row and overwrites the last-position
	// projection as a single transaction. Neither write lands without the other.
	AppendSample(sample *models.PositionSample) error
}

// Broadcaster pushes live positions to subscribed sessions. May be nil.
type Broadcaster interface {
	BroadcastToTopic(topic string, data interface{})
}

// VehicleTopic names the live-position scope for a vehicle. Kept in sync
// with the websocket hub's topic naming.
func VehicleTopic(vehicleID string) string { return "vehicle:" + vehicleID }

// Streamer runs one driver device's location stream.
type Streamer struct {
	store      Store
	source     Source
	broadcast  Broadcaster
	driverID   string
	vehicleID  string
	maxRetries int
	retryDelay time.Duration
	opts       WatchOptions
	now        func() time.Time

	// onTerminal is invoked once when the stream dies for good. May be nil.
	onTerminal func(error)

	mu               sync.Mutex
	running          bool
	permissionDenied bool
	failures         int
	handle           Handle
	retryTimer       *time.Timer
}

func NewStreamer(store Store, source Source, broadcast Broadcaster, driverID, vehicleID string) *Streamer {
	return &Streamer{
		store:      store,
		source:     source,
		broadcast:  broadcast,
		driverID:   driverID,
		vehicleID:  vehicleID,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		opts:       WatchOptions{HighAccuracy: true, MaxAge: 0, Timeout: DefaultFixTimeout},
		now:        time.Now,
	}
}

// SetRetryPolicy overrides the retry bound and delay, used in tests.
func (s *Streamer) SetRetryPolicy(maxRetries int, delay time.Duration) {
	s.maxRetries = maxRetries
	s.retryDelay = delay
}

// SetClock overrides the streamer's time source, used in tests.
func (s *Streamer) SetClock(now func() time.Time) { s.now = now }

// OnTerminal registers the terminal-failure callback.
func (s *Streamer) OnTerminal(fn func(error)) { s.onTerminal = fn }

// Start checks every precondition and begins the watch. Each failing
// precondition has its own error value so the UI can guide remediation.
// Starting an already-running streamer is a no-op.
func (s *Streamer) Start(sess models.Session) error {
	if sess.UserID == "" || !sess.IsDriver() {
		return ErrNotAuthenticated
	}
	if s.source == nil {
		return ErrNoSource
	}

	vehicle, err := s.store.VehicleByDriver(s.driverID)
	if err != nil {
		return fmt.Errorf("loading vehicle: %w", err)
	}
	if vehicle == nil {
		return ErrNoVehicle
	}
	if !vehicle.TrackingEnabled {
		return ErrTrackingDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	handle, err := s.source.Watch(s.opts, s.handleFix, s.handleError)
	if err != nil {
		return fmt.Errorf("starting position watch: %w", err)
	}

	s.handle = handle
	s.running = true
	s.failures = 0
	s.permissionDenied = false
	log.Printf("📍 Tracking started for vehicle %s (driver %s)", s.vehicleID, s.driverID)
	return nil
}

// Stop cancels the watch and clears the local tracking state. Safe to call
// any number of times, including when never started; callers tie it to
// session teardown so the watch registration is always released.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Streamer) stopLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
	if s.running {
		log.Printf("📍 Tracking stopped for vehicle %s", s.vehicleID)
	}
	s.running = false
	s.failures = 0
}

// Running reports whether the watch is live.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PermissionDenied reports the sticky permission failure flag. It survives
// Stop and only clears on the next successful Start.
func (s *Streamer) PermissionDenied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissionDenied
}

// handleFix persists one reading. The trip state and the vehicle toggle are
// re-checked per fix: samples must never land while the trip does not permit
// tracking.
func (s *Streamer) handleFix(fix Fix) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.failures = 0 // a good fix restores the full retry budget
	s.mu.Unlock()

	vehicle, err := s.store.VehicleByDriver(s.driverID)
	if err != nil || vehicle == nil || !vehicle.TrackingEnabled {
		return
	}

	state, err := s.store.TripStateForVehicle(s.vehicleID, models.ServiceDate(s.now()))
	if err != nil || !state.PermitsTracking() {
		return
	}

	sample := &models.PositionSample{
		VehicleID:  s.vehicleID,
		DriverID:   s.driverID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Speed:      fix.Speed,
		Heading:    fix.Heading,
		CapturedAt: fix.CapturedAt,
	}
	if err := s.store.AppendSample(sample); err != nil {
		// The projection update rode in the same transaction, so history and
		// last-known position cannot drift apart here.
		log.Printf("❌ Failed to persist position sample for %s: %v", s.vehicleID, err)
		return
	}

	if s.broadcast != nil {
		s.broadcast.BroadcastToTopic(VehicleTopic(s.vehicleID), map[string]interface{}{
			"type": "vehicle_position",
			"data": sample,
		})
	}
}

// handleError applies the classification policy: permission failures kill
// the stream immediately and set the sticky flag; transient failures re-arm
// the watch up to maxRetries times with a fixed delay; anything else stops
// the stream without retrying.
func (s *Streamer) handleError(err error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	if faults.KindOf(err) == faults.PermissionDenied {
		s.permissionDenied = true
		s.stopLocked()
		term := s.onTerminal
		s.mu.Unlock()
		log.Printf("⛔ Positioning permission denied for driver %s, tracking stopped", s.driverID)
		if term != nil {
			term(err)
		}
		return
	}

	if !faults.Retryable(err) {
		s.stopLocked()
		term := s.onTerminal
		s.mu.Unlock()
		log.Printf("⛔ Unretryable positioning error for driver %s: %v", s.driverID, err)
		if term != nil {
			term(err)
		}
		return
	}

	if s.failures >= s.maxRetries {
		s.stopLocked()
		term := s.onTerminal
		s.mu.Unlock()
		final := faults.Wrap(faults.TransientIO, err, "positioning failed after %d retries", s.maxRetries)
		log.Printf("⛔ %v (driver %s)", final, s.driverID)
		if term != nil {
			term(final)
		}
		return
	}

	s.failures++
	attempt := s.failures
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
	s.retryTimer = time.AfterFunc(s.retryDelay, s.rewatch)
	s.mu.Unlock()
	log.Printf("⚠️ Transient positioning error (attempt %d/%d) for driver %s: %v", attempt, s.maxRetries, s.driverID, err)
}

func (s *Streamer) rewatch() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	handle, err := s.source.Watch(s.opts, s.handleFix, s.handleError)
	if err != nil {
		s.mu.Unlock()
		// Counts against the same retry budget as a watch error.
		s.handleError(faults.Wrap(faults.TransientIO, err, "re-arming position watch"))
		return
	}
	s.handle = handle
	s.mu.Unlock()
}
