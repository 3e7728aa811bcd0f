package tracking

import (
	"sync"
	"time"
)

// PushSource adapts device-pushed readings (websocket or REST) to the Source
// watch contract. The device reports fixes and errors as they happen; a
// watchdog converts a silent device into a fix-timeout error so the
// streamer's retry policy still applies.
type PushSource struct {
	mu       sync.Mutex
	onFix    func(Fix)
	onErr    func(error)
	timeout  time.Duration
	watchdog *time.Timer
	active   bool
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

// Watch registers the callbacks and arms the watchdog.
func (p *PushSource) Watch(opts WatchOptions, onFix func(Fix), onErr func(error)) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFix = onFix
	p.onErr = onErr
	p.timeout = opts.Timeout
	p.active = true
	p.resetWatchdogLocked()
	return pushHandle{p}, nil
}

// Push feeds one device reading to the active watch. Readings arriving while
// no watch is registered are dropped.
func (p *PushSource) Push(fix Fix) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	cb := p.onFix
	p.resetWatchdogLocked()
	p.mu.Unlock()
	if cb != nil {
		cb(fix)
	}
}

// PushError feeds one device-reported positioning error to the active watch.
func (p *PushSource) PushError(err error) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	cb := p.onErr
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (p *PushSource) resetWatchdogLocked() {
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
	if p.timeout <= 0 {
		return
	}
	p.watchdog = time.AfterFunc(p.timeout, p.fireTimeout)
}

func (p *PushSource) fireTimeout() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	cb := p.onErr
	p.mu.Unlock()
	if cb != nil {
		cb(ErrFixTimeout)
	}
}

func (p *PushSource) cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.onFix = nil
	p.onErr = nil
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
}

type pushHandle struct{ src *PushSource }

func (h pushHandle) Cancel() { h.src.cancel() }
