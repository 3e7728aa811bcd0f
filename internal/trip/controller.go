// Package trip owns the per-vehicle trip state machine: idle → in_progress →
// completed → (after a short grace delay) → idle. The controller orchestrates
// attendance seeding at start and finalization at end, and gates position
// streaming on the trip state.
package trip

import (
	"fmt"
	"log"
	"sync"
	"time"

	"schoolrun-backend/internal/faults"
	"schoolrun-backend/internal/models"

	"github.com/google/uuid"
)

// DefaultGraceDelay is how long a trip shows as completed before the row
// resets to idle for reuse.
const DefaultGraceDelay = 5 * time.Second

// Store is the persistence surface the controller runs on.
type Store interface {
	// TripForDate returns the vehicle's trip row for the date, or nil.
	TripForDate(vehicleID, serviceDate string) (*models.Trip, error)
	// ActiveTripForVehicle returns the vehicle's in-progress trip regardless
	// of service date, or nil.
	ActiveTripForVehicle(vehicleID string) (*models.Trip, error)
	CreateTrip(t *models.Trip) error
	UpdateTrip(t *models.Trip) error
	// VehicleByDriver returns the driver's registered vehicle, or nil.
	VehicleByDriver(driverID string) (*models.Vehicle, error)
	// RouteByID returns the route, or nil when it does not exist.
	RouteByID(routeID string) (*models.Route, error)
	// ActiveTrips returns all trips currently in progress.
	ActiveTrips() ([]models.Trip, error)
	InsertHistory(h *models.TripHistory) error
	// AttendanceCounts returns boarded and absent totals for the route/date.
	AttendanceCounts(routeID, serviceDate string) (boarded, absent int, err error)
}

// Ledger is the slice of the attendance ledger the controller drives.
type Ledger interface {
	SeedWaiting(routeID, serviceDate string) (int, error)
	FinalizeAbsent(routeID, serviceDate, markedBy string) (int, error)
}

// Tracker lets the controller cut position streaming when a trip ends.
// May be nil.
type Tracker interface {
	DisableVehicle(vehicleID string)
}

// Events receives lifecycle activity for best-effort fan-out. May be nil.
type Events interface {
	TripStarted(t *models.Trip)
	TripEnded(t *models.Trip, boarded, absent int)
}

// Controller drives the trip lifecycle for all vehicles of this deployment.
type Controller struct {
	store      Store
	ledger     Ledger
	tracker    Tracker
	events     Events
	graceDelay time.Duration
	now        func() time.Time

	mu          sync.Mutex
	resetTimers map[string]*time.Timer // trip ID -> pending idle reset
}

func NewController(store Store, ledger Ledger, tracker Tracker, events Events) *Controller {
	return &Controller{
		store:       store,
		ledger:      ledger,
		tracker:     tracker,
		events:      events,
		graceDelay:  DefaultGraceDelay,
		now:         time.Now,
		resetTimers: make(map[string]*time.Timer),
	}
}

// SetGraceDelay overrides the completed→idle delay, used in tests.
func (c *Controller) SetGraceDelay(d time.Duration) { c.graceDelay = d }

// SetClock overrides the controller's time source, used in tests.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// loadTrip returns the driver's vehicle and their trip row for today,
// creating an idle row on first touch.
func (c *Controller) loadTrip(sess models.Session) (*models.Vehicle, *models.Trip, error) {
	vehicle, err := c.store.VehicleByDriver(sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading vehicle: %w", err)
	}
	if vehicle == nil {
		return nil, nil, faults.New(faults.PreconditionFailed, "no vehicle registered. Register your vehicle first")
	}

	serviceDate := models.ServiceDate(c.now())
	t, err := c.store.TripForDate(vehicle.ID, serviceDate)
	if err != nil {
		return nil, nil, fmt.Errorf("loading trip: %w", err)
	}
	if t == nil {
		now := c.now().Unix()
		t = &models.Trip{
			ID:          uuid.New().String(),
			VehicleID:   vehicle.ID,
			DriverID:    sess.UserID,
			ServiceDate: serviceDate,
			State:       models.TripStateIdle,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := c.store.CreateTrip(t); err != nil {
			return nil, nil, fmt.Errorf("creating trip: %w", err)
		}
	}
	return vehicle, t, nil
}

// SelectRoute binds the driver's vehicle to a route for today's trip.
// Allowed only while the trip is idle.
func (c *Controller) SelectRoute(sess models.Session, routeID string) (*models.Trip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, t, err := c.loadTrip(sess)
	if err != nil {
		return nil, err
	}

	if t.State != models.TripStateIdle {
		return nil, faults.New(faults.InvalidStateTransition, "route can only be selected while the trip is idle (current state: %s)", t.State)
	}

	route, err := c.store.RouteByID(routeID)
	if err != nil {
		return nil, fmt.Errorf("loading route: %w", err)
	}
	if route == nil {
		return nil, faults.New(faults.NotFound, "route %s does not exist", routeID)
	}

	t.RouteID = &route.ID
	t.UpdatedAt = c.now().Unix()
	if err := c.store.UpdateTrip(t); err != nil {
		return nil, fmt.Errorf("binding route: %w", err)
	}

	log.Printf("🚌 Route %s bound to trip %s", routeID, t.ID)
	return t, nil
}

// Start moves the trip to in_progress and lazily seeds the attendance
// ledger: one waiting row per assigned student without a record for today.
// Seeding is idempotent, so a retried Start never duplicates rows.
func (c *Controller) Start(sess models.Session) (*models.Trip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, t, err := c.loadTrip(sess)
	if err != nil {
		return nil, err
	}

	if t.RouteID == nil {
		return nil, faults.New(faults.PreconditionFailed, "no route selected. Select a route before starting the trip")
	}
	if t.State != models.TripStateIdle {
		return nil, faults.New(faults.InvalidStateTransition, "trip is already %s", t.State)
	}

	seeded, err := c.ledger.SeedWaiting(*t.RouteID, t.ServiceDate)
	if err != nil {
		// Trip stays idle; the idempotent seeding makes the whole Start safe
		// to retry.
		return nil, fmt.Errorf("seeding attendance: %w", err)
	}

	now := c.now().Unix()
	t.State = models.TripStateInProgress
	t.StartedAt = &now
	t.EndedAt = nil
	t.UpdatedAt = now
	if err := c.store.UpdateTrip(t); err != nil {
		return nil, fmt.Errorf("starting trip: %w", err)
	}

	log.Printf("🚌 Trip %s started (%d attendance records seeded)", t.ID, seeded)
	if c.events != nil {
		c.events.TripStarted(t)
	}
	return t, nil
}

// End finalizes the run: every still-waiting student becomes absent, the
// trip moves to completed, streaming for the vehicle is cut, a history row
// is written, and an idle reset is scheduled after the grace delay.
func (c *Controller) End(sess models.Session) (*models.Trip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vehicle, t, err := c.loadTrip(sess)
	if err != nil {
		return nil, err
	}
	return c.endLocked(t, vehicle.ID, sess.UserID)
}

// ForceEnd is the dispatcher override for a stuck trip. The in-progress
// lookup ignores the service date: a trip left running since a prior date is
// exactly what the override exists to clear.
func (c *Controller) ForceEnd(sess models.Session, vehicleID string) (*models.Trip, error) {
	if !sess.IsDispatcher() {
		return nil, faults.New(faults.InvalidStateTransition, "only a dispatcher can force-end a trip")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.store.ActiveTripForVehicle(vehicleID)
	if err != nil {
		return nil, fmt.Errorf("loading active trip: %w", err)
	}
	if t == nil {
		t, err = c.store.TripForDate(vehicleID, models.ServiceDate(c.now()))
		if err != nil {
			return nil, fmt.Errorf("loading trip: %w", err)
		}
	}
	if t == nil {
		return nil, faults.New(faults.NotFound, "no trip for vehicle %s", vehicleID)
	}
	return c.endLocked(t, vehicleID, sess.UserID)
}

func (c *Controller) endLocked(t *models.Trip, vehicleID, endedBy string) (*models.Trip, error) {
	if t.State != models.TripStateInProgress {
		return nil, faults.New(faults.InvalidStateTransition, "no trip in progress to end (current state: %s)", t.State)
	}

	absents := 0
	if t.RouteID != nil {
		var err error
		absents, err = c.ledger.FinalizeAbsent(*t.RouteID, t.ServiceDate, endedBy)
		if err != nil {
			return nil, fmt.Errorf("finalizing attendance: %w", err)
		}
	}

	now := c.now().Unix()
	t.State = models.TripStateCompleted
	t.EndedAt = &now
	t.UpdatedAt = now
	if err := c.store.UpdateTrip(t); err != nil {
		return nil, fmt.Errorf("completing trip: %w", err)
	}

	if c.tracker != nil {
		c.tracker.DisableVehicle(vehicleID)
	}

	boarded := 0
	if t.RouteID != nil {
		b, a, err := c.store.AttendanceCounts(*t.RouteID, t.ServiceDate)
		if err != nil {
			// Keep the swept absent count; only the boarded total is unknown.
			log.Printf("⚠️ Could not count attendance for trip history: %v", err)
		} else {
			boarded, absents = b, a
		}
	}

	history := &models.TripHistory{
		ID:              uuid.New().String(),
		VehicleID:       t.VehicleID,
		RouteID:         t.RouteID,
		DriverID:        t.DriverID,
		ServiceDate:     t.ServiceDate,
		StartedAt:       t.StartedAt,
		EndedAt:         now,
		BoardedStudents: boarded,
		AbsentStudents:  absents,
		EndedBy:         endedBy,
	}
	if err := c.store.InsertHistory(history); err != nil {
		// History is bookkeeping; the trip itself already ended.
		log.Printf("⚠️ Could not write trip history for %s: %v", t.ID, err)
	}

	log.Printf("🏁 Trip %s completed (%d boarded, %d absent)", t.ID, boarded, absents)
	if c.events != nil {
		c.events.TripEnded(t, boarded, absents)
	}

	c.scheduleIdleReset(t.ID, t.VehicleID, t.ServiceDate)
	return t, nil
}

// scheduleIdleReset arms the completed→idle timer. The delay exists so UIs
// can show the completed state before the row becomes reusable.
func (c *Controller) scheduleIdleReset(tripID, vehicleID, serviceDate string) {
	if timer, ok := c.resetTimers[tripID]; ok {
		timer.Stop()
	}
	c.resetTimers[tripID] = time.AfterFunc(c.graceDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.resetTimers, tripID)

		t, err := c.store.TripForDate(vehicleID, serviceDate)
		if err != nil || t == nil || t.State != models.TripStateCompleted {
			return
		}
		t.State = models.TripStateIdle
		t.StartedAt = nil
		t.EndedAt = nil
		t.UpdatedAt = c.now().Unix()
		if err := c.store.UpdateTrip(t); err != nil {
			log.Printf("⚠️ Idle reset failed for trip %s: %v", t.ID, err)
			return
		}
		log.Printf("♻️ Trip %s reset to idle", t.ID)
	})
}

// Current returns the driver's trip row for today, or nil when the driver
// has not touched a trip yet.
func (c *Controller) Current(sess models.Session) (*models.Trip, error) {
	vehicle, err := c.store.VehicleByDriver(sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading vehicle: %w", err)
	}
	if vehicle == nil {
		return nil, nil
	}
	return c.store.TripForDate(vehicle.ID, models.ServiceDate(c.now()))
}

// ActiveTrips lists every trip currently in progress, for the dispatcher
// dashboard.
func (c *Controller) ActiveTrips() ([]models.Trip, error) {
	return c.store.ActiveTrips()
}
