// Package stopevents records arrival and departure markers at route stops
// and serves them back to riders for a bounded window. An expired event is
// never served even if the sweep has not removed its row yet.
package stopevents

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolrun-backend/internal/faults"
	"schoolrun-backend/internal/models"
)

const (
	// DefaultTTL is how long an event stays visible after it occurred.
	DefaultTTL = 10 * time.Minute
	// DefaultSweepInterval is how often expired rows are removed.
	DefaultSweepInterval = 60 * time.Second
	// DefaultQueryLimit caps events returned per query.
	DefaultQueryLimit = 10
)

// Store is the broker's persistence surface.
type Store interface {
	// StopByID returns the stop, or nil when it does not exist.
	StopByID(stopID string) (*models.Stop, error)
	// Insert appends one event row.
	Insert(event *models.StopEvent) error
	// ByStop returns the newest unexpired events for a stop.
	ByStop(stopID string, now int64, limit int) ([]models.StopEvent, error)
	// ByVehicle returns the newest unexpired events for a vehicle.
	ByVehicle(vehicleID string, now int64, limit int) ([]models.StopEvent, error)
	// DeleteExpired removes rows past their expiry, returning the count.
	DeleteExpired(now int64) (int64, error)
}

// Notifier receives each registered event for fanout. Delivery is best
// effort and never blocks or fails the registration.
type Notifier interface {
	StopEventRegistered(event *models.StopEvent)
}

// Broker registers and serves TTL-bounded stop events.
type Broker struct {
	store    Store
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time

	sweepOnce sync.Once
}

func NewBroker(store Store, notifier Notifier) *Broker {
	return &Broker{
		store:    store,
		notifier: notifier,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
}

// SetTTL overrides the visibility window, used in tests.
func (b *Broker) SetTTL(ttl time.Duration) { b.ttl = ttl }

// SetClock overrides the broker's time source, used in tests.
func (b *Broker) SetClock(now func() time.Time) { b.now = now }

// RegisterArrival records the vehicle arriving at a stop.
func (b *Broker) RegisterArrival(sess models.Session, stopID, vehicleID string) (*models.StopEvent, error) {
	return b.register(sess, stopID, vehicleID, models.StopEventArrived)
}

// RegisterDeparture records the vehicle leaving a stop.
func (b *Broker) RegisterDeparture(sess models.Session, stopID, vehicleID string) (*models.StopEvent, error) {
	return b.register(sess, stopID, vehicleID, models.StopEventDeparted)
}

func (b *Broker) register(sess models.Session, stopID, vehicleID string, status models.StopEventStatus) (*models.StopEvent, error) {
	if !sess.IsDriver() && !sess.IsDispatcher() {
		return nil, faults.New(faults.InvalidStateTransition, "only drivers can register stop events")
	}

	stop, err := b.store.StopByID(stopID)
	if err != nil {
		return nil, faults.Wrap(faults.TransientIO, err, "loading stop")
	}
	if stop == nil {
		return nil, faults.New(faults.NotFound, "stop not found")
	}

	now := b.now().Unix()
	event := &models.StopEvent{
		ID:         uuid.New().String(),
		StopID:     stopID,
		VehicleID:  vehicleID,
		RouteID:    stop.RouteID,
		Status:     status,
		OccurredAt: now,
		ExpiresAt:  now + int64(b.ttl.Seconds()),
	}

	if err := b.store.Insert(event); err != nil {
		return nil, faults.Wrap(faults.TransientIO, err, "recording stop event")
	}

	log.Printf("🚏 Vehicle %s %s stop %s (route %s)", vehicleID, status, stopID, stop.RouteID)

	if b.notifier != nil {
		b.notifier.StopEventRegistered(event)
	}
	return event, nil
}

// EventsForStop returns the newest unexpired events for a stop. Expiry is
// enforced at query time, independent of the sweep.
func (b *Broker) EventsForStop(stopID string) ([]models.StopEvent, error) {
	stop, err := b.store.StopByID(stopID)
	if err != nil {
		return nil, faults.Wrap(faults.TransientIO, err, "loading stop")
	}
	if stop == nil {
		return nil, faults.New(faults.NotFound, "stop not found")
	}
	return b.store.ByStop(stopID, b.now().Unix(), DefaultQueryLimit)
}

// EventsForVehicle returns the newest unexpired events for a vehicle.
func (b *Broker) EventsForVehicle(vehicleID string) ([]models.StopEvent, error) {
	return b.store.ByVehicle(vehicleID, b.now().Unix(), DefaultQueryLimit)
}

// RunSweeper deletes expired events on a fixed interval until ctx is done.
// Meant to run as a goroutine from main.
func (b *Broker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep()
		}
	}
}

// Sweep removes expired rows once. Failures only log; readers are already
// protected by the query-time filter.
func (b *Broker) Sweep() {
	removed, err := b.store.DeleteExpired(b.now().Unix())
	if err != nil {
		log.Printf("❌ Stop event sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("🧹 Swept %d expired stop events", removed)
	}
}
