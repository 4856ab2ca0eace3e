// Package events carries engine happenings from the comms listener to
// the daemon's observers: a non-blocking pub/sub bus plus a JSONL audit
// logger that records the session. The bus is passed explicitly to
// whoever publishes; there is no process-wide singleton.
package events

import (
	"sync"
	"time"
)

// EventType classifies an engine event.
type EventType string

const (
	// Link lifecycle, published by the controller from engine callbacks.
	EventLinkOpened EventType = "link_opened"
	EventLinkClosed EventType = "link_closed"
	EventLinkError  EventType = "link_error"
	EventLinkInfo   EventType = "link_info"

	// Wire traffic.
	EventDataSent         EventType = "data_sent"
	EventResponseReceived EventType = "response_received"

	// Engine signals threaded through the command queue.
	EventSignal EventType = "signal"

	// Print job lifecycle.
	EventJobStarted  EventType = "job_started"
	EventJobProgress EventType = "job_progress"
	EventJobError    EventType = "job_error"
	EventJobFinished EventType = "job_finished"

	// Status poller demand.
	EventStatusPoll EventType = "status_poll"
)

// AllTypes lists every event type, for subscribers that want the whole
// session.
func AllTypes() []EventType {
	return []EventType{
		EventLinkOpened, EventLinkClosed, EventLinkError, EventLinkInfo,
		EventDataSent, EventResponseReceived, EventSignal,
		EventJobStarted, EventJobProgress, EventJobError, EventJobFinished,
		EventStatusPoll,
	}
}

// Event is one published engine event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking pub/sub bus. Events are delivered asynchronously
// via buffered channels; when a subscriber's channel is full the event
// is dropped for that subscriber, so a slow observer can never stall the
// engine callbacks publishing into the bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for one event type. The subscriber
// runs on its own delivery goroutine with a panic guard, so a broken
// observer cannot disrupt the bus. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers the subscriber for every event type and returns
// one unsubscribe function covering all of them.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	unsubs := make([]func(), 0, len(AllTypes()))
	for _, eventType := range AllTypes() {
		unsubs = append(unsubs, b.Subscribe(eventType, fn))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Publish sends an event to all subscribers of the given type without
// blocking: a full subscriber channel drops the event for that
// subscriber only.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
