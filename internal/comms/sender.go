package comms

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// commandSender is the single worker draining the outbound queue, writing
// commands to the transport and correlating inbound response lines
// against the in-flight (pending) commands.
//
// Queue layout: the tail (last element) is the next command to send.
// Normal enqueues insert at the head, priority enqueues at the tail, so a
// priority command cuts ahead of everything queued but not yet sent.
// Pending layout: the head (first element) is the most recently sent.
//
// The queue and the pending list have separate locks so a slow command
// OnResponse hook running during correlation never blocks producers from
// enqueueing new work. No lock is held across a transport write's caller
// visible error handling or any listener callback outside correlation.
type commandSender struct {
	comms    *CommandsComms
	listener Listener
	log      engineLogger

	queueMu sync.Mutex
	queue   []Command
	stored  []Command // pause snapshot of the queue, nil when not paused

	pendingMu sync.Mutex
	pending   []Command

	sendEvent   *event
	readyToSend atomic.Bool

	stopped atomic.Bool
	done    chan struct{}
}

func newCommandSender(comms *CommandsComms, listener Listener, log engineLogger) *commandSender {
	s := &commandSender{
		comms:     comms,
		listener:  listener,
		log:       log.named("sender"),
		sendEvent: newEvent(),
		done:      make(chan struct{}),
	}
	s.readyToSend.Store(true)
	return s
}

func (s *commandSender) start() {
	go s.run()
}

func (s *commandSender) run() {
	defer close(s.done)

	for !s.stopped.Load() {
		s.sendEvent.Wait()
		if s.stopped.Load() {
			return
		}

		s.queueMu.Lock()
		var command Command
		if n := len(s.queue); n > 0 {
			command = s.queue[n-1]
			s.queue[n-1] = nil
			s.queue = s.queue[:n-1]
		} else {
			// Empty is not an error: clear the wake and block again.
			s.sendEvent.Clear()
		}
		s.queueMu.Unlock()

		if command == nil {
			continue
		}

		if sig, ok := command.(*Signal); ok {
			// Signals bypass the link; hand them to the listener and keep
			// draining. The wake stays set so queued work behind a burst of
			// signals is never starved.
			s.dispatchSignal(sig)
			continue
		}

		// A sent queue command gates further draining: the next send comes
		// from its completion, from SendNext, or from SetReadyToSend. The
		// wake is cleared before the write so a completion that lands
		// mid-send re-arms it instead of being lost.
		s.sendEvent.Clear()
		s.sendCommand(command)
	}
}

func (s *commandSender) dispatchSignal(sig *Signal) {
	defer func() {
		if r := recover(); r != nil {
			s.log.logf(LogLevelError, "signal_dispatch_panic type=%s err=%v", sig.Type(), r)
		}
	}()
	s.listener.OnSignalReceived(sig.Type(), sig.Data())
}

// sendCommand writes the command to the link and moves it into the
// pending list. A write failure surfaces as an unable_to_send link error
// carrying the raw instruction; the command is lost, never retried.
func (s *commandSender) sendCommand(command Command) {
	if !command.OnBeforeSend() {
		return
	}

	s.pendingMu.Lock()
	err := s.comms.writeOnLink(command.EncodedInstruction())
	if err == nil {
		s.pending = append([]Command{command}, s.pending...)
	}
	s.pendingMu.Unlock()

	if err != nil {
		s.listener.OnLinkError(LinkErrorUnableToSend,
			fmt.Sprintf("error: %v, command: %s", err, command.Instruction()))
		return
	}
	command.OnSent()
}

// onCommandResponse matches one response token against the pending
// commands, most-recently-sent first. The first command that consumes the
// line wins; if it also reports completion it leaves the pending list,
// and if it was a queued command its completion triggers the next send.
func (s *commandSender) onCommandResponse(data string) {
	s.comms.logTraffic("R: %q", data)

	line := strings.TrimSpace(data)
	if line == "" {
		return
	}

	var completed Command
	s.pendingMu.Lock()
	for i, c := range s.pending {
		if c.OnResponse(line) {
			if c.Completed() {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				completed = c
			}
			break
		}
	}
	s.pendingMu.Unlock()

	if completed != nil && completed.Queued() {
		s.sendNext()
	}
}

// addCommand translates, gates and enqueues one command, then wakes the
// worker if it is ready to send.
func (s *commandSender) addCommand(command Command, sendNext bool) {
	if command == nil {
		return
	}

	if replacement := command.Translate(); replacement != nil {
		if len(replacement) == 0 {
			return // suppressed
		}
		for _, c := range replacement {
			s.addCommand(c, sendNext)
		}
		return
	}

	if !command.OnBeforeQueue() {
		return
	}

	s.queueMu.Lock()
	if sendNext {
		s.queue = append(s.queue, command)
	} else {
		s.queue = append([]Command{command}, s.queue...)
	}
	command.SetQueued(true)
	queued := len(s.queue)
	s.queueMu.Unlock()

	command.Encode()
	command.OnQueued()

	if s.readyToSend.Load() || queued == 1 {
		s.readyToSend.Store(false)
		s.sendEvent.Set()
	}
}

// addCommandIfNotExists enqueues the command unless a value-equal one is
// already in the not-yet-sent queue. Pending (in-flight) commands are
// deliberately not considered.
func (s *commandSender) addCommandIfNotExists(command Command, sendNext bool) {
	s.queueMu.Lock()
	exists := false
	for _, c := range s.queue {
		if c.Instruction() == command.Instruction() {
			exists = true
			break
		}
	}
	s.queueMu.Unlock()

	if !exists {
		s.addCommand(command, sendNext)
	}
}

// sendNext triggers the next queue drain, or records readiness for the
// next enqueue when the queue is empty.
func (s *commandSender) sendNext() {
	s.queueMu.Lock()
	empty := len(s.queue) == 0
	s.queueMu.Unlock()

	if empty {
		s.readyToSend.Store(true)
	} else {
		s.sendEvent.Set()
	}
}

func (s *commandSender) setReadyToSend() {
	s.readyToSend.Store(true)
}

// storeCommands atomically snapshots and empties the live queue. Used by
// print pause; in-flight commands are unaffected.
func (s *commandSender) storeCommands() {
	s.queueMu.Lock()
	s.stored = append([]Command(nil), s.queue...)
	s.queue = nil
	s.queueMu.Unlock()
}

// restoreCommands reinserts the pause snapshot at the head of the queue,
// in its original order, so resumed work is sent before anything queued
// during the pause.
func (s *commandSender) restoreCommands() {
	s.queueMu.Lock()
	if len(s.stored) > 0 {
		s.queue = append(s.queue, s.stored...)
		s.stored = nil
	}
	s.queueMu.Unlock()
}

func (s *commandSender) clearCommandQueue() {
	s.queueMu.Lock()
	s.queue = nil
	s.queueMu.Unlock()
}

func (s *commandSender) commandsInQueue() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// stop unconditionally discards the pending list and force-wakes the
// worker. There is no guarantee an in-flight command will ever be
// matched; shutdown never blocks on firmware cooperation.
func (s *commandSender) stop() {
	s.pendingMu.Lock()
	s.pending = nil
	s.pendingMu.Unlock()

	s.stopped.Store(true)
	s.sendEvent.Set()
}
