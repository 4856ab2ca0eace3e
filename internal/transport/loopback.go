package transport

import (
	"strings"
	"sync"

	"github.com/openfab/commlink/internal/comms"
)

// Responder produces the scripted response lines for one written chunk.
type Responder func(written string) []string

// Loopback is an in-process transport: writes are recorded and answered
// by a programmable responder, with responses delivered asynchronously
// in write order. The daemon's dry-run mode and the test suites use it
// in place of a real link. The default responder acknowledges every
// write with "ok".
type Loopback struct {
	events comms.TransportEvents

	mu        sync.Mutex
	open      bool
	writes    []string
	responder Responder
	replies   chan string
	dropped   int
}

const loopbackReplyBuffer = 256

func NewLoopback(events comms.TransportEvents) *Loopback {
	return &Loopback{events: events}
}

// SetResponder installs the response script. Passing nil restores the
// default ok-responder.
func (t *Loopback) SetResponder(r Responder) {
	t.mu.Lock()
	t.responder = r
	t.mu.Unlock()
}

func (t *Loopback) OpenLink(address string) error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = true
	t.replies = make(chan string, loopbackReplyBuffer)
	replies := t.replies
	t.mu.Unlock()

	go t.deliverLoop(replies)
	t.events.OnLinkOpened()
	return nil
}

// deliverLoop replays scripted lines as a newline-terminated stream, the
// same shape a real link produces.
func (t *Loopback) deliverLoop(replies <-chan string) {
	for line := range replies {
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		t.events.OnDataReceived(line)
	}
}

func (t *Loopback) IsLinkOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Loopback) CanTransmit() bool { return t.IsLinkOpen() }

func (t *Loopback) ConnectionSettings() comms.ConnectionSettings {
	return comms.ConnectionSettings{Mode: ModeLoopback, Address: "loopback"}
}

// Write records the chunk and queues the scripted responses. Responses
// that do not fit the reply buffer are dropped rather than blocking the
// sender; the drop count is observable through Dropped.
func (t *Loopback) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return ErrLinkClosed
	}

	written := string(data)
	t.writes = append(t.writes, written)

	responder := t.responder
	if responder == nil {
		responder = func(string) []string { return []string{"ok"} }
	}
	for _, line := range responder(written) {
		select {
		case t.replies <- line:
		default:
			t.dropped++
		}
	}
	return nil
}

func (t *Loopback) CloseLink() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	close(t.replies)
	t.replies = nil
	t.mu.Unlock()

	t.events.OnLinkClosed()
	return nil
}

// Writes returns everything written to the link, in order.
func (t *Loopback) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Dropped returns how many scripted responses were discarded because the
// reply buffer was full.
func (t *Loopback) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
