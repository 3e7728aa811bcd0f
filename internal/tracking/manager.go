package tracking

import (
	"log"
	"sync"

	"schoolrun-backend/internal/faults"
	"schoolrun-backend/internal/models"
)

// Manager keys one streamer and one push source per driver. It is the
// websocket hub's location sink and the trip controller's tracking hook.
type Manager struct {
	store     Store
	broadcast Broadcaster

	mu        sync.Mutex
	streamers map[string]*Streamer   // by driver ID
	sources   map[string]*PushSource // by driver ID
	vehicles  map[string]string      // vehicle ID -> driver ID, for DisableVehicle
}

func NewManager(store Store, broadcast Broadcaster) *Manager {
	return &Manager{
		store:     store,
		broadcast: broadcast,
		streamers: make(map[string]*Streamer),
		sources:   make(map[string]*PushSource),
		vehicles:  make(map[string]string),
	}
}

// StartFor creates (or reuses) the driver's streamer and starts it.
func (m *Manager) StartFor(sess models.Session) error {
	if sess.UserID == "" || !sess.IsDriver() {
		return ErrNotAuthenticated
	}

	vehicle, err := m.store.VehicleByDriver(sess.UserID)
	if err != nil {
		return faults.Wrap(faults.TransientIO, err, "loading vehicle")
	}
	if vehicle == nil {
		return ErrNoVehicle
	}

	m.mu.Lock()
	source, ok := m.sources[sess.UserID]
	if !ok {
		source = NewPushSource()
		m.sources[sess.UserID] = source
	}
	streamer, ok := m.streamers[sess.UserID]
	if !ok || streamer.vehicleID != vehicle.ID {
		streamer = NewStreamer(m.store, source, m.broadcast, sess.UserID, vehicle.ID)
		m.streamers[sess.UserID] = streamer
	}
	m.vehicles[vehicle.ID] = sess.UserID
	m.mu.Unlock()

	return streamer.Start(sess)
}

// StopFor stops the driver's streamer if one exists. Idempotent.
func (m *Manager) StopFor(driverID string) {
	m.mu.Lock()
	streamer := m.streamers[driverID]
	m.mu.Unlock()
	if streamer != nil {
		streamer.Stop()
	}
}

// Status reports the driver's stream state for the tracking status endpoint.
func (m *Manager) Status(driverID string) (running, permissionDenied bool) {
	m.mu.Lock()
	streamer := m.streamers[driverID]
	m.mu.Unlock()
	if streamer == nil {
		return false, false
	}
	return streamer.Running(), streamer.PermissionDenied()
}

// DisableVehicle stops the stream attached to a vehicle. The trip controller
// calls this when a trip ends.
func (m *Manager) DisableVehicle(vehicleID string) {
	m.mu.Lock()
	driverID, ok := m.vehicles[vehicleID]
	var streamer *Streamer
	if ok {
		streamer = m.streamers[driverID]
	}
	m.mu.Unlock()
	if streamer != nil {
		streamer.Stop()
	}
}

// PushFix routes one device reading into the driver's push source. Fixes
// from drivers with no registered watch are dropped.
func (m *Manager) PushFix(driverID string, lat, lon float64, speed, heading *float64, capturedAt int64) {
	m.mu.Lock()
	source := m.sources[driverID]
	m.mu.Unlock()
	if source == nil {
		return
	}
	source.Push(Fix{
		Latitude:   lat,
		Longitude:  lon,
		Speed:      speed,
		Heading:    heading,
		CapturedAt: capturedAt,
	})
}

// PushError routes a device-reported positioning error into the driver's
// push source, mapped onto the fault taxonomy.
func (m *Manager) PushError(driverID string, code string) {
	m.mu.Lock()
	source := m.sources[driverID]
	m.mu.Unlock()
	if source == nil {
		return
	}

	var err error
	switch code {
	case "permission_denied":
		err = ErrPermissionDenied
	case "timeout":
		err = ErrFixTimeout
	case "position_unavailable":
		err = ErrPositionUnavailable
	default:
		log.Printf("⚠️ Unknown positioning error code %q from driver %s", code, driverID)
		err = ErrPositionUnavailable
	}
	source.PushError(err)
}
