package models

// AttendanceStatus is a student's boarding status for one service date
type AttendanceStatus string

const (
	AttendanceWaiting       AttendanceStatus = "waiting"
	AttendancePresentAtStop AttendanceStatus = "present_at_stop"
	AttendanceBoarded       AttendanceStatus = "boarded"
	AttendanceAbsent        AttendanceStatus = "absent"
)

// Terminal reports whether no further transition is allowed for the date.
func (s AttendanceStatus) Terminal() bool {
	return s == AttendanceBoarded || s == AttendanceAbsent
}

// rank orders statuses along the forward-only progression. Absent shares the
// terminal rank with boarded; neither can be left once reached.
func (s AttendanceStatus) rank() int {
	switch s {
	case AttendanceWaiting:
		return 0
	case AttendancePresentAtStop:
		return 1
	case AttendanceBoarded, AttendanceAbsent:
		return 2
	}
	return -1
}

// AtLeast reports whether s is at or past other in the progression.
func (s AttendanceStatus) AtLeast(other AttendanceStatus) bool {
	return s.rank() >= other.rank()
}

// AttendanceRecord is the per-student boarding ledger row, unique per
// (student_id, service_date).
type AttendanceRecord struct {
	ID          int64            `json:"id" db:"id"`
	StudentID   string           `json:"student_id" db:"student_id"`
	RouteID     string           `json:"route_id" db:"route_id"`
	StopID      string           `json:"stop_id" db:"stop_id"`
	ServiceDate string           `json:"service_date" db:"service_date"`
	Status      AttendanceStatus `json:"status" db:"status"`
	MarkedBy    *string          `json:"marked_by" db:"marked_by"`
	MarkedAt    *int64           `json:"marked_at" db:"marked_at"`
	CreatedAt   int64            `json:"created_at" db:"created_at"`
}

// RouteAssignment binds a student to a route and a boarding stop.
type RouteAssignment struct {
	StudentID string `json:"student_id" db:"student_id"`
	RouteID   string `json:"route_id" db:"route_id"`
	StopID    string `json:"stop_id" db:"stop_id"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}
