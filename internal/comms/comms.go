package comms

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Config carries engine construction parameters.
type Config struct {
	// Transport is the registered transport mode name ("tcp", "loopback",
	// ...). Unknown modes fail construction with ErrUnknownTransport.
	Transport string

	// Logger receives engine logs; nil defaults to stderr.
	Logger   *log.Logger
	LogLevel LogLevel

	// TrafficLog, when set, receives S:/R: wire traffic lines while
	// traffic logging is enabled.
	TrafficLog *log.Logger

	// LineErrorPolicy selects the job worker's reaction to a line
	// translation failure. Defaults to LineErrorContinue.
	LineErrorPolicy LineErrorPolicy

	// ProgressInterval is the job progress report cadence. Defaults to 1s.
	ProgressInterval time.Duration
}

// CommandsComms is the engine orchestrator. It owns the transport binding
// and the lifecycle of the command sender, the job worker and the status
// poller, routes transport events to the Listener, and exposes the
// engine's public operations. At most one of each worker exists per
// engine instance; duplicate starts are no-ops.
type CommandsComms struct {
	listener Listener
	log      engineLogger

	transport Transport

	trafficLog     *log.Logger
	trafficEnabled atomic.Bool

	lineErrorPolicy  LineErrorPolicy
	progressInterval time.Duration

	mu     sync.Mutex // guards the worker pointers below
	sender *commandSender
	job    *jobWorker
	poller *statusPoller
}

// New binds an engine to the transport registered under cfg.Transport.
// The transport is constructed closed; open it through Transport().
func New(cfg Config, listener Listener) (*CommandsComms, error) {
	c := &CommandsComms{
		listener:         listener,
		log:              newEngineLogger(cfg.Logger, cfg.LogLevel, "comms"),
		trafficLog:       cfg.TrafficLog,
		lineErrorPolicy:  cfg.LineErrorPolicy,
		progressInterval: cfg.ProgressInterval,
	}
	c.trafficEnabled.Store(cfg.TrafficLog != nil)

	transport, err := newTransport(cfg.Transport, c)
	if err != nil {
		return nil, err
	}
	c.transport = transport
	return c, nil
}

// Transport returns the transport owned by the engine, for opening the
// link and for inspection. All writes still funnel through the engine.
func (c *CommandsComms) Transport() Transport {
	return c.transport
}

// CloseLink stops any active print, then the poller, then the sender, and
// finally closes the transport. The ordering keeps the sender from
// flushing job commands into a link that is mid-shutdown.
func (c *CommandsComms) CloseLink() error {
	if c.Printing() {
		c.StopPrint()
	}
	c.StopStatusPoller()
	c.stopSender()
	return c.transport.CloseLink()
}

// IsLinkOpen reports whether the link is open.
func (c *CommandsComms) IsLinkOpen() bool {
	return c.transport.IsLinkOpen()
}

// CanLinkTransmit reports whether the link is still usable for sending.
func (c *CommandsComms) CanLinkTransmit() bool {
	return c.transport.CanTransmit()
}

// ConnectionSettings returns the settings of the active connection.
func (c *CommandsComms) ConnectionSettings() ConnectionSettings {
	return c.transport.ConnectionSettings()
}

// Printing reports whether there is an active print job.
func (c *CommandsComms) Printing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job != nil
}

// CommandsInQueue returns the number of not-yet-sent commands.
func (c *CommandsComms) CommandsInQueue() int {
	if s := c.currentSender(); s != nil {
		return s.commandsInQueue()
	}
	return 0
}

// QueueCommand adds the command to the send queue. With sendNext it is
// inserted ahead of all queued, not-yet-sent work.
func (c *CommandsComms) QueueCommand(command Command, sendNext bool) {
	if s := c.currentSender(); s != nil {
		s.addCommand(command, sendNext)
	}
}

// QueueCommands adds the commands to the send queue in order.
func (c *CommandsComms) QueueCommands(commands []Command, sendNext bool) {
	for _, command := range commands {
		c.QueueCommand(command, sendNext)
	}
}

// QueueCommandIfNotExists adds the command unless a value-equal one is
// already queued (pending commands are not considered).
func (c *CommandsComms) QueueCommandIfNotExists(command Command, sendNext bool) {
	if s := c.currentSender(); s != nil {
		s.addCommandIfNotExists(command, sendNext)
	}
}

// QueueSignal threads an internal notification through the queue; it is
// delivered back via Listener.OnSignalReceived in queue order.
func (c *CommandsComms) QueueSignal(signalType string, data any) {
	if s := c.currentSender(); s != nil {
		s.addCommand(NewSignal(signalType, data), false)
	}
}

// SendCommand writes the command immediately, bypassing the queue.
func (c *CommandsComms) SendCommand(command Command) {
	if s := c.currentSender(); s != nil {
		s.sendCommand(command)
	}
}

// SendNextCommandInQueue triggers the send of the next queued command.
func (c *CommandsComms) SendNextCommandInQueue() {
	if s := c.currentSender(); s != nil {
		s.sendNext()
	}
}

// SetReadyToSend tells the sender it may send the next command it gets.
func (c *CommandsComms) SetReadyToSend() {
	if s := c.currentSender(); s != nil {
		s.setReadyToSend()
	}
}

// StartStatusPoller starts the periodic status poller. No-op if it is
// already running.
func (c *CommandsComms) StartStatusPoller(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller == nil {
		c.poller = newStatusPoller(c.listener, interval, c.log)
		c.poller.start()
	}
}

// StopStatusPoller stops the poller. No-op if it is not running.
func (c *CommandsComms) StopStatusPoller() {
	c.mu.Lock()
	poller := c.poller
	c.poller = nil
	c.mu.Unlock()
	if poller != nil {
		poller.stop()
	}
}

// SetStatusPollerPaused pauses or resumes the poller cooperatively.
func (c *CommandsComms) SetStatusPollerPaused(paused bool) {
	c.mu.Lock()
	poller := c.poller
	c.mu.Unlock()
	if poller != nil {
		poller.setPaused(paused)
	}
}

// StatusPollerRunning reports whether the poller is running.
func (c *CommandsComms) StatusPollerRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poller != nil
}

// StatusPollerPaused reports whether the poller is currently paused.
func (c *CommandsComms) StatusPollerPaused() bool {
	c.mu.Lock()
	poller := c.poller
	c.mu.Unlock()
	return poller != nil && poller.paused()
}

// StartPrint starts streaming the file as a print job. One job at a
// time: a second start while a job is active is a no-op.
func (c *CommandsComms) StartPrint(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job != nil {
		return nil
	}
	job := newJobWorker(filename, c, c.listener, c.log, c.lineErrorPolicy, c.progressInterval)
	if err := job.start(); err != nil {
		return err
	}
	c.job = job
	return nil
}

// CurrentJobID returns the active job's id, or "" when idle.
func (c *CommandsComms) CurrentJobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job != nil {
		return c.job.id
	}
	return ""
}

// ReadCommandsFromFile grants the job worker a budget of count commands
// to enqueue from the file.
func (c *CommandsComms) ReadCommandsFromFile(count int) {
	c.mu.Lock()
	job := c.job
	c.mu.Unlock()
	if job != nil {
		job.read(count)
	}
}

// StopPrint stops the job worker and clears the not-yet-sent queue.
// Already in-flight commands are left untouched.
func (c *CommandsComms) StopPrint() {
	c.mu.Lock()
	job := c.job
	c.job = nil
	sender := c.sender
	c.mu.Unlock()

	if job != nil {
		job.stop()
		if sender != nil {
			sender.clearCommandQueue()
		}
	}
}

// PausePrintJob snapshots and empties the not-yet-sent queue. In-flight
// commands are unaffected.
func (c *CommandsComms) PausePrintJob() {
	c.mu.Lock()
	job := c.job
	sender := c.sender
	c.mu.Unlock()
	if job != nil && sender != nil {
		sender.storeCommands()
	}
}

// ResumePrintJob reinserts the pause snapshot ahead of anything queued
// during the pause.
func (c *CommandsComms) ResumePrintJob() {
	c.mu.Lock()
	job := c.job
	sender := c.sender
	c.mu.Unlock()
	if job != nil && sender != nil {
		sender.restoreCommands()
	}
}

// SetTrafficLogEnabled toggles S:/R: wire traffic logging at runtime.
func (c *CommandsComms) SetTrafficLogEnabled(enabled bool) {
	c.trafficEnabled.Store(enabled && c.trafficLog != nil)
}

// TrafficLogEnabled reports whether wire traffic logging is active.
func (c *CommandsComms) TrafficLogEnabled() bool {
	return c.trafficEnabled.Load()
}

func (c *CommandsComms) logTraffic(format string, args ...any) {
	if c.trafficEnabled.Load() && c.trafficLog != nil {
		c.trafficLog.Printf(format, args...)
	}
}

// writeOnLink is the single write path to the transport: wire traffic
// logging and OnDataSent are centralized here.
func (c *CommandsComms) writeOnLink(data []byte) error {
	if data == nil {
		return nil
	}
	if err := c.transport.Write(data); err != nil {
		return err
	}
	c.logTraffic("S: %q", data)
	c.listener.OnDataSent(data)
	return nil
}

func (c *CommandsComms) currentSender() *commandSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender
}

func (c *CommandsComms) startSender() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender == nil {
		c.sender = newCommandSender(c, c.listener, c.log)
		c.sender.start()
	}
}

func (c *CommandsComms) stopSender() {
	c.mu.Lock()
	sender := c.sender
	c.sender = nil
	c.mu.Unlock()
	if sender != nil {
		sender.stop()
	}
}

// onEndOfFile is called by the job worker when the file is exhausted.
func (c *CommandsComms) onEndOfFile() {
	c.mu.Lock()
	c.job = nil
	c.mu.Unlock()
	c.listener.OnEndOfFile()
}

// abortJob is called by the job worker when the line error policy stops
// the job.
func (c *CommandsComms) abortJob() {
	c.StopPrint()
}

// TransportEvents: the inbound half, called by the transport from its own
// goroutines.

// OnDataReceived tokenizes the raw data through the listener and matches
// each token against the pending commands. A panic while parsing or
// dispatching is caught and logged; it never propagates into the
// transport's receive path.
func (c *CommandsComms) OnDataReceived(data string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.logf(LogLevelError, "data_received_panic err=%v", r)
		}
	}()

	responses := c.listener.OnResponseReceived(data)
	sender := c.currentSender()
	if sender == nil {
		return
	}
	for _, r := range responses {
		sender.onCommandResponse(r)
	}
}

// OnLinkOpened starts the sender before notifying the listener, so
// commands queued synchronously from the open callback are sent promptly.
func (c *CommandsComms) OnLinkOpened() {
	c.startSender()
	c.listener.OnLinkOpened()
}

// OnLinkError notifies the listener, then force-closes the transport:
// link errors are fatal to the current connection and never retried.
func (c *CommandsComms) OnLinkError(kind, description string) {
	c.log.logf(LogLevelError, "link_error kind=%s description=%s", kind, description)
	c.listener.OnLinkError(kind, description)
	c.transport.CloseLink()
}

func (c *CommandsComms) OnLinkClosed() {
	c.listener.OnLinkClosed()
}

func (c *CommandsComms) OnLinkInfo(info string) {
	c.listener.OnLinkInfo(info)
	c.logTraffic("I: %s", info)
}

var _ TransportEvents = (*CommandsComms)(nil)
