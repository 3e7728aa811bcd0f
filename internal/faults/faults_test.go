package faults

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct fault", New(NotFound, "route missing"), NotFound},
		{"wrapped fault", fmt.Errorf("loading: %w", New(TransientIO, "db down")), TransientIO},
		{"wrap helper", Wrap(PermissionDenied, errors.New("gps off"), "positioning"), PermissionDenied},
		{"plain error", errors.New("boom"), Kind("")},
		{"nil-ish wrap chain", fmt.Errorf("x: %w", errors.New("y")), Kind("")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(TransientIO, "timeout")))
	assert.False(t, Retryable(New(PermissionDenied, "denied")))
	assert.False(t, Retryable(New(NotFound, "missing")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestMessageStripsKindAndCause(t *testing.T) {
	err := Wrap(TransientIO, errors.New("connection refused"), "saving sample")
	assert.Equal(t, "saving sample", Message(err))
	assert.Contains(t, err.Error(), "connection refused")

	plain := errors.New("boom")
	assert.Equal(t, "boom", Message(plain))
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	sentinel := New(PermissionDenied, "positioning permission denied")
	assert.True(t, errors.Is(sentinel, sentinel))

	// Same kind, no message on the target: kind-level match
	assert.True(t, errors.Is(New(PermissionDenied, "something else"), &Fault{Kind: PermissionDenied}))
	// Different kind never matches
	assert.False(t, errors.Is(New(TransientIO, "x"), &Fault{Kind: PermissionDenied}))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(TransientIO, cause, "context")
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(PermissionDenied, "x"), http.StatusForbidden},
		{New(NotFound, "x"), http.StatusNotFound},
		{New(InvalidStateTransition, "x"), http.StatusConflict},
		{New(PreconditionFailed, "x"), http.StatusBadRequest},
		{New(TransientIO, "x"), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, HTTPStatus(tc.err))
	}
}
