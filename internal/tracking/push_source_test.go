package tracking

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu    sync.Mutex
	fixes []Fix
	errs  []error
}

func (c *captured) onFix(f Fix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes = append(c.fixes, f)
}

func (c *captured) onErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *captured) fixCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fixes)
}

func (c *captured) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func TestPushSourceDeliversFixes(t *testing.T) {
	src := NewPushSource()
	cap := &captured{}

	handle, err := src.Watch(WatchOptions{}, cap.onFix, cap.onErr)
	require.NoError(t, err)
	defer handle.Cancel()

	src.Push(Fix{Latitude: 1, Longitude: 2, CapturedAt: 3})
	require.Equal(t, 1, cap.fixCount())
	assert.Equal(t, 1.0, cap.fixes[0].Latitude)
}

func TestPushSourceDropsWithoutWatch(t *testing.T) {
	src := NewPushSource()
	cap := &captured{}

	src.Push(Fix{Latitude: 1})
	src.PushError(ErrPositionUnavailable)
	assert.Equal(t, 0, cap.fixCount())
	assert.Equal(t, 0, cap.errCount())
}

func TestPushSourceDropsAfterCancel(t *testing.T) {
	src := NewPushSource()
	cap := &captured{}

	handle, err := src.Watch(WatchOptions{}, cap.onFix, cap.onErr)
	require.NoError(t, err)
	handle.Cancel()

	src.Push(Fix{Latitude: 1})
	src.PushError(ErrPositionUnavailable)
	assert.Equal(t, 0, cap.fixCount())
	assert.Equal(t, 0, cap.errCount())
}

func TestPushSourceWatchdogFiresTimeout(t *testing.T) {
	src := NewPushSource()
	cap := &captured{}

	_, err := src.Watch(WatchOptions{Timeout: 5 * time.Millisecond}, cap.onFix, cap.onErr)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cap.errCount() >= 1 },
		time.Second, time.Millisecond)
	assert.ErrorIs(t, cap.errs[0], ErrFixTimeout)
}

func TestPushSourceWatchdogResetByFix(t *testing.T) {
	src := NewPushSource()
	cap := &captured{}

	_, err := src.Watch(WatchOptions{Timeout: 50 * time.Millisecond}, cap.onFix, cap.onErr)
	require.NoError(t, err)

	// Keep feeding fixes faster than the timeout; the watchdog must stay quiet
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		src.Push(Fix{Latitude: float64(i)})
	}
	assert.Equal(t, 0, cap.errCount())
	assert.Equal(t, 5, cap.fixCount())
}
