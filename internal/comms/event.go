package comms

import (
	"sync"
	"time"
)

// event is a level-triggered wake flag. Set is sticky until Clear, so a
// waiter that arrives after Set returns immediately. This is the "wake on
// push, idle on empty, force-wake on stop" primitive shared by the three
// engine workers.
type event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

// Set marks the event and releases every current waiter.
func (e *event) Set() {
	e.mu.Lock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
	e.mu.Unlock()
}

// Clear resets the event so the next Wait blocks.
func (e *event) Clear() {
	e.mu.Lock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
	e.mu.Unlock()
}

func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set.
func (e *event) Wait() {
	e.mu.Lock()
	set, ch := e.set, e.ch
	e.mu.Unlock()
	if set {
		return
	}
	<-ch
}

// WaitTimeout blocks until the event is set or the timeout elapses.
// It reports whether the event was set.
func (e *event) WaitTimeout(d time.Duration) bool {
	e.mu.Lock()
	set, ch := e.set, e.ch
	e.mu.Unlock()
	if set {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
