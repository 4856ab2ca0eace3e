// Package comms implements a transport-agnostic command-queueing protocol
// engine for asynchronous, line-oriented request/response links to
// 3D-printer firmware. The engine owns an outbound command queue with
// priority injection and dedup, a pending list used to correlate inbound
// response lines against in-flight commands, a file-streaming job worker
// with backpressure, and a periodic pausable status poller. Firmware
// policy (line translation, response recognition) is supplied by the
// Listener and by concrete Command types; the engine never inspects
// instruction structure.
package comms

import "sync"

// Command is one outbound instruction together with its lifecycle hooks.
// Concrete firmware-specific types embed BaseCommand, which supplies the
// documented defaults for every optional hook; OnResponse is the only
// hook without a usable default and must always be implemented.
//
// A command is exclusively owned by whichever structure currently holds
// it (queue or pending list); it is moved, never shared, between them.
type Command interface {
	// Instruction returns the raw instruction. Two commands are equal, for
	// dedup purposes, when their instructions are equal.
	Instruction() string

	// EncodedInstruction returns the wire form of the command, encoding
	// and caching it on first use.
	EncodedInstruction() []byte

	// Encode forces the wire form to be computed and cached now. The
	// sender calls it right after the command is added to the queue.
	Encode()

	// Translate expands the command into a derived sequence before it is
	// queued. nil leaves the command unchanged, an empty slice suppresses
	// it, anything else replaces it with the returned sequence.
	Translate() []Command

	// OnBeforeQueue runs before the command is added to the queue.
	// Returning false stops the enqueue.
	OnBeforeQueue() bool

	// OnQueued runs after the command was added to the queue.
	OnQueued()

	// OnBeforeSend runs just before the command is written to the link.
	// Returning false stops the send.
	OnBeforeSend() bool

	// OnSent runs after the command was written to the link.
	OnSent()

	// OnResponse is called with each inbound response line while the
	// command is in the pending list, most-recently-sent first. It reports
	// whether the line was consumed by this command; completion is
	// reported separately through Completed.
	OnResponse(line string) bool

	// Queued reports whether the command went through the queue (as
	// opposed to an immediate send). A completing queued command triggers
	// the next send.
	Queued() bool
	SetQueued(bool)

	// Sent reports whether the command was written to the link.
	Sent() bool

	// Received reports whether at least one response line was matched.
	Received() bool

	// Completed reports whether the command is done and can leave the
	// pending list.
	Completed() bool
}

// BaseCommand carries the shared lifecycle flags and the lazily cached
// wire encoding, and implements every optional Command hook with its
// default. Build it with NewBaseCommand and embed it by value.
type BaseCommand struct {
	instruction string

	mu        sync.Mutex
	encoder   func(instruction string) []byte
	encoded   []byte
	queued    bool
	sent      bool
	received  bool
	completed bool
}

// NewBaseCommand wraps a raw instruction. The default wire encoding is
// the raw instruction bytes; install a custom one with SetEncoder.
func NewBaseCommand(instruction string) BaseCommand {
	return BaseCommand{instruction: instruction}
}

func (c *BaseCommand) Instruction() string { return c.instruction }

// SetEncoder installs a custom wire encoding. It must be called before
// the command is queued; the encoded form is cached on first use.
func (c *BaseCommand) SetEncoder(f func(instruction string) []byte) {
	c.mu.Lock()
	c.encoder = f
	c.encoded = nil
	c.mu.Unlock()
}

func (c *BaseCommand) EncodedInstruction() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoded == nil {
		c.encoded = c.doEncode()
	}
	return c.encoded
}

func (c *BaseCommand) Encode() {
	c.mu.Lock()
	c.encoded = c.doEncode()
	c.mu.Unlock()
}

func (c *BaseCommand) doEncode() []byte {
	if c.encoder != nil {
		return c.encoder(c.instruction)
	}
	return []byte(c.instruction)
}

// Default hooks. Concrete types shadow the ones they need.

func (c *BaseCommand) Translate() []Command { return nil }
func (c *BaseCommand) OnBeforeQueue() bool  { return true }
func (c *BaseCommand) OnQueued()            {}
func (c *BaseCommand) OnBeforeSend() bool   { return true }

func (c *BaseCommand) OnSent() {
	c.mu.Lock()
	c.sent = true
	c.mu.Unlock()
}

func (c *BaseCommand) Queued() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued
}

func (c *BaseCommand) SetQueued(queued bool) {
	c.mu.Lock()
	c.queued = queued
	c.mu.Unlock()
}

func (c *BaseCommand) Sent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *BaseCommand) Received() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

func (c *BaseCommand) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// MarkReceived is for concrete types to call from OnResponse when a line
// was matched.
func (c *BaseCommand) MarkReceived() {
	c.mu.Lock()
	c.received = true
	c.mu.Unlock()
}

// MarkCompleted is for concrete types to call from OnResponse when the
// command's response exchange is finished.
func (c *BaseCommand) MarkCompleted() {
	c.mu.Lock()
	c.received = true
	c.completed = true
	c.mu.Unlock()
}

// Signal is a Command that is never written to the link; the sender hands
// it straight to Listener.OnSignalReceived. Signals thread internal
// notifications (print completed, paused, ...) through the queue so they
// keep their position relative to real commands.
type Signal struct {
	BaseCommand

	signalType string
	data       any
}

func NewSignal(signalType string, data any) *Signal {
	return &Signal{signalType: signalType, data: data}
}

func (s *Signal) Type() string { return s.signalType }
func (s *Signal) Data() any    { return s.data }

// OnResponse never matches: signals are not transmitted, so no response
// can belong to them.
func (s *Signal) OnResponse(string) bool { return false }
