package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(EventJobStarted, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bus.Publish(EventJobStarted, map[string]interface{}{"job_id": "j-1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "delivery")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventJobStarted, got[0].Type)
	assert.Equal(t, "j-1", got[0].Data["job_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBusDoesNotCrossEventTypes(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var count atomic.Int64
	bus.Subscribe(EventLinkError, func(Event) { count.Add(1) })

	bus.Publish(EventLinkOpened, nil)
	bus.Publish(EventLinkError, nil)

	waitFor(t, func() bool { return count.Load() == 1 }, "matching delivery")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), count.Load())
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var count atomic.Int64
	unsub := bus.Subscribe(EventSignal, func(Event) { count.Add(1) })

	bus.Publish(EventSignal, nil)
	waitFor(t, func() bool { return count.Load() == 1 }, "first delivery")

	unsub()
	bus.Publish(EventSignal, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), count.Load())
}

func TestBusSubscriberPanicIsIsolated(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var survived atomic.Int64
	bus.Subscribe(EventJobError, func(Event) { panic("broken observer") })
	bus.Subscribe(EventJobError, func(Event) { survived.Add(1) })

	bus.Publish(EventJobError, nil)
	bus.Publish(EventJobError, nil)

	waitFor(t, func() bool { return survived.Load() == 2 }, "healthy subscriber")
}

func TestBusPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe(EventDataSent, func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(EventDataSent, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	close(release)
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	seen := make(map[EventType]bool)
	unsub := bus.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type] = true
		mu.Unlock()
	})
	defer unsub()

	for _, eventType := range AllTypes() {
		bus.Publish(eventType, nil)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(AllTypes())
	}, "all types delivered")
}
