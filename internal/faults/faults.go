// Package faults defines the error taxonomy shared by the trip, attendance,
// tracking and stop-event components. Every user-facing failure is one of the
// five kinds below; handlers map kinds to HTTP statuses and the tracking
// retry loop keys its policy off Retryable.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	// PermissionDenied is terminal and never retried (positioning only).
	PermissionDenied Kind = "permission_denied"
	// TransientIO is retryable with bounded backoff.
	TransientIO Kind = "transient_io"
	// NotFound aborts only the specific action that referenced the missing row.
	NotFound Kind = "not_found"
	// InvalidStateTransition is rejected before any backend write.
	InvalidStateTransition Kind = "invalid_state_transition"
	// PreconditionFailed is surfaced with remediation guidance.
	PreconditionFailed Kind = "precondition_failed"
)

// Fault is a classified error. The zero Kind means "unclassified"; such
// errors surface as internal failures.
type Fault struct {
	Kind Kind
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is lets errors.Is match any fault of the same kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Kind == f.Kind && (t.Msg == "" || t.Msg == f.Msg)
}

// New creates a classified error.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" when err carries no classification.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Retryable reports whether err may be retried with bounded backoff.
func Retryable(err error) bool {
	return KindOf(err) == TransientIO
}

// Message returns the user-facing message of a classified error, or the raw
// error text for unclassified ones.
func Message(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Msg
	}
	return err.Error()
}

// HTTPStatus maps a fault kind to the response status handlers should emit.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidStateTransition:
		return http.StatusConflict
	case PreconditionFailed:
		return http.StatusBadRequest
	case TransientIO:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
