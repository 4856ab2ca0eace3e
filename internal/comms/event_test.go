package comms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventSetReleasesWaiter(t *testing.T) {
	e := newEvent()

	released := make(chan struct{})
	go func() {
		e.Wait()
		close(released)
	}()

	e.Set()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
	assert.True(t, e.IsSet())
}

func TestEventSetBeforeWaitReturnsImmediately(t *testing.T) {
	e := newEvent()
	e.Set()
	e.Wait() // must not block
	assert.True(t, e.WaitTimeout(0))
}

func TestEventSetIsIdempotent(t *testing.T) {
	e := newEvent()
	e.Set()
	e.Set()
	assert.True(t, e.IsSet())
}

func TestEventClearRearmsTheWait(t *testing.T) {
	e := newEvent()
	e.Set()
	e.Clear()
	assert.False(t, e.IsSet())
	assert.False(t, e.WaitTimeout(10*time.Millisecond))

	e.Set()
	assert.True(t, e.WaitTimeout(10*time.Millisecond))
}

func TestEventWaitTimeoutObservesConcurrentSet(t *testing.T) {
	e := newEvent()
	go func() {
		time.Sleep(5 * time.Millisecond)
		e.Set()
	}()
	assert.True(t, e.WaitTimeout(2*time.Second))
}
