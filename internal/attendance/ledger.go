// Package attendance owns the per-student boarding ledger for a service
// date. Statuses only ever move forward: waiting → present_at_stop → boarded,
// or waiting → absent at trip end. Each row has exactly one legitimate writer
// per transition (the student for present_at_stop, the driver for the rest),
// so guarded compare-and-set updates are all the concurrency control needed.
package attendance

import (
	"fmt"
	"time"

	"schoolrun-backend/internal/faults"
	"schoolrun-backend/internal/models"
)

// Store is the persistence surface the ledger runs on.
type Store interface {
	// Record returns the student's row for the date, or nil when none exists.
	Record(studentID, serviceDate string) (*models.AttendanceRecord, error)
	// Insert creates a new row; fails on the (student, date) unique key.
	Insert(rec *models.AttendanceRecord) error
	// Transition performs a guarded status move: the update applies only when
	// the current status is one of from. Returns false when the guard missed.
	Transition(studentID, serviceDate string, from []models.AttendanceStatus, to models.AttendanceStatus, markedBy string, markedAt int64) (bool, error)
	// Assignment returns the student's route/stop binding, or nil when the
	// student is not assigned to any route.
	Assignment(studentID string) (*models.RouteAssignment, error)
	// TripState reports the state of the route's trip for the date.
	TripState(routeID, serviceDate string) (models.TripState, error)
	// SeedWaiting creates waiting rows for every student on the route that has
	// no record for the date yet. Idempotent: re-runs create nothing.
	SeedWaiting(routeID, serviceDate string, now int64) (int, error)
	// FinalizeAbsent marks every still-waiting row absent. Rows in any other
	// status are untouched.
	FinalizeAbsent(routeID, serviceDate, markedBy string, now int64) (int, error)
	// ListByRoute returns the route's ledger rows for the date.
	ListByRoute(routeID, serviceDate string) ([]models.AttendanceRecord, error)
}

// Events receives ledger activity for best-effort fan-out. May be nil.
type Events interface {
	StudentBoarded(rec *models.AttendanceRecord)
}

// Ledger applies the boarding-status state machine.
type Ledger struct {
	store  Store
	events Events
	now    func() time.Time
}

func NewLedger(store Store, events Events) *Ledger {
	return &Ledger{store: store, events: events, now: time.Now}
}

// SetClock overrides the ledger's time source, used in tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// MarkPresentAtStop records that the calling student is physically at their
// stop. Allowed at any time, including before the trip starts; if no ledger
// row exists yet one is created directly in present_at_stop. No-op when the
// status is already present_at_stop or later.
func (l *Ledger) MarkPresentAtStop(sess models.Session) (*models.AttendanceRecord, error) {
	if !sess.IsStudent() {
		return nil, faults.New(faults.InvalidStateTransition, "only a student can mark themselves present at the stop")
	}

	serviceDate := models.ServiceDate(l.now())
	now := l.now().Unix()

	rec, err := l.store.Record(sess.UserID, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("loading attendance record: %w", err)
	}

	if rec == nil {
		assignment, err := l.store.Assignment(sess.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading route assignment: %w", err)
		}
		if assignment == nil {
			return nil, faults.New(faults.NotFound, "student is not assigned to a route")
		}

		rec = &models.AttendanceRecord{
			StudentID:   sess.UserID,
			RouteID:     assignment.RouteID,
			StopID:      assignment.StopID,
			ServiceDate: serviceDate,
			Status:      models.AttendancePresentAtStop,
			MarkedBy:    &sess.UserID,
			MarkedAt:    &now,
		}
		if err := l.store.Insert(rec); err != nil {
			// A concurrent insert (e.g. trip seeding) can win the unique key;
			// fall through to the guarded transition on the existing row.
			existing, lookupErr := l.store.Record(sess.UserID, serviceDate)
			if lookupErr != nil || existing == nil {
				return nil, fmt.Errorf("creating attendance record: %w", err)
			}
			rec = existing
		} else {
			return rec, nil
		}
	}

	if rec.Status.AtLeast(models.AttendancePresentAtStop) {
		return rec, nil // already present or terminal, idempotent no-op
	}

	ok, err := l.store.Transition(sess.UserID, serviceDate,
		[]models.AttendanceStatus{models.AttendanceWaiting},
		models.AttendancePresentAtStop, sess.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("marking present at stop: %w", err)
	}
	if !ok {
		// Guard missed: somebody moved the row forward first. Forward-only
		// means whatever state it is in now supersedes present_at_stop.
		return l.store.Record(sess.UserID, serviceDate)
	}

	return l.store.Record(sess.UserID, serviceDate)
}

// MarkBoarded records that the driver saw the student board. Only a driver
// session may call it and only while the route's trip is in progress. No-op
// when the student is already boarded; boarding an absent student is
// rejected since absent is terminal for the date.
func (l *Ledger) MarkBoarded(sess models.Session, studentID string) (*models.AttendanceRecord, error) {
	if !sess.IsDriver() {
		return nil, faults.New(faults.InvalidStateTransition, "only the driver can mark a student as boarded")
	}

	serviceDate := models.ServiceDate(l.now())
	now := l.now().Unix()

	rec, err := l.store.Record(studentID, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("loading attendance record: %w", err)
	}
	if rec == nil {
		return nil, faults.New(faults.NotFound, "no attendance record for student %s today", studentID)
	}

	state, err := l.store.TripState(rec.RouteID, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("loading trip state: %w", err)
	}
	if state != models.TripStateInProgress {
		return nil, faults.New(faults.InvalidStateTransition, "boarding can only be marked while the trip is in progress")
	}

	if rec.Status == models.AttendanceBoarded {
		return rec, nil // idempotent no-op
	}
	if rec.Status.Terminal() {
		return nil, faults.New(faults.InvalidStateTransition, "student is already marked %s for today", rec.Status)
	}

	ok, err := l.store.Transition(studentID, serviceDate,
		[]models.AttendanceStatus{models.AttendanceWaiting, models.AttendancePresentAtStop},
		models.AttendanceBoarded, sess.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("marking boarded: %w", err)
	}
	if !ok {
		// Raced with another transition; reload and report the outcome.
		rec, err = l.store.Record(studentID, serviceDate)
		if err != nil {
			return nil, err
		}
		if rec.Status == models.AttendanceBoarded {
			return rec, nil
		}
		return nil, faults.New(faults.InvalidStateTransition, "student status changed concurrently to %s", rec.Status)
	}

	rec, err = l.store.Record(studentID, serviceDate)
	if err != nil {
		return nil, err
	}
	if l.events != nil {
		l.events.StudentBoarded(rec)
	}
	return rec, nil
}

// SeedWaiting lazily creates waiting rows for the route's students, exactly
// once per (student, serviceDate). Called by the trip controller at startTrip.
func (l *Ledger) SeedWaiting(routeID, serviceDate string) (int, error) {
	n, err := l.store.SeedWaiting(routeID, serviceDate, l.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("seeding attendance records: %w", err)
	}
	return n, nil
}

// FinalizeAbsent sweeps every still-waiting row of the route to absent.
// Called by the trip controller at endTrip; present_at_stop and boarded rows
// are left untouched.
func (l *Ledger) FinalizeAbsent(routeID, serviceDate, markedBy string) (int, error) {
	n, err := l.store.FinalizeAbsent(routeID, serviceDate, markedBy, l.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("finalizing absences: %w", err)
	}
	return n, nil
}

// Roster returns the route's ledger for the date.
func (l *Ledger) Roster(routeID, serviceDate string) ([]models.AttendanceRecord, error) {
	return l.store.ListByRoute(routeID, serviceDate)
}

// StudentRecord returns one student's row for the date, or nil.
func (l *Ledger) StudentRecord(studentID, serviceDate string) (*models.AttendanceRecord, error) {
	return l.store.Record(studentID, serviceDate)
}
