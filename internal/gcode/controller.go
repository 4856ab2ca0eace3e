package gcode

import (
	"log"
	"strings"
	"sync"

	"github.com/openfab/commlink/internal/comms"
	"github.com/openfab/commlink/internal/events"
)

const (
	// defaultRefillThreshold is the queue depth at or below which the
	// controller grants the job worker a new read burst.
	defaultRefillThreshold = 2
	defaultRefillBurst     = 10
)

// ControllerConfig carries the controller's collaborators and tuning.
type ControllerConfig struct {
	Bus    *events.Bus
	Logger *log.Logger

	// RefillThreshold / RefillBurst tune print-job backpressure: when the
	// not-yet-sent queue drains to the threshold, the job worker is
	// granted a burst of further file commands. Zero selects defaults.
	RefillThreshold int
	RefillBurst     int
}

// Controller implements comms.Listener for Marlin-flavored firmware: it
// tokenizes the inbound byte stream into lines, translates file lines to
// LineCommands, feeds status requests on poller demand, keeps the print
// job supplied with commands, and republishes every engine callback onto
// the event bus.
type Controller struct {
	comms.NopListener

	bus       *events.Bus
	logger    *log.Logger
	threshold int
	burst     int

	mu         sync.Mutex
	engine     *comms.CommandsComms
	partial    string
	lastStatus string
	jobID      string
	fraction   float64
	filePos    int64
	lastError  string
}

func NewController(cfg ControllerConfig) *Controller {
	threshold := cfg.RefillThreshold
	if threshold <= 0 {
		threshold = defaultRefillThreshold
	}
	burst := cfg.RefillBurst
	if burst <= 0 {
		burst = defaultRefillBurst
	}
	return &Controller{
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		threshold: threshold,
		burst:     burst,
	}
}

// Bind attaches the engine the controller drives. The engine needs the
// listener at construction and the listener needs the engine for status
// and refill enqueues, so binding happens after both exist.
func (c *Controller) Bind(engine *comms.CommandsComms) {
	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()
}

func (c *Controller) boundEngine() *comms.CommandsComms {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// SetCurrentJob records the active job id for event publication. The
// daemon calls it right after a successful print start.
func (c *Controller) SetCurrentJob(id string) {
	c.mu.Lock()
	c.jobID = id
	c.fraction = 0
	c.filePos = 0
	c.lastError = ""
	c.mu.Unlock()
}

// LastStatus returns the most recent temperature report line.
func (c *Controller) LastStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// Progress returns the last reported job progress.
func (c *Controller) Progress() (fraction float64, filePos int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fraction, c.filePos
}

// CurrentJob returns the job id recorded by SetCurrentJob.
func (c *Controller) CurrentJob() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// LastJobError returns the description of the most recent job error.
func (c *Controller) LastJobError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Controller) publish(eventType events.EventType, data map[string]interface{}) {
	if c.bus != nil {
		c.bus.Publish(eventType, data)
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// OnResponseReceived splits the raw chunk into complete trimmed lines,
// buffering a trailing partial line until its terminator arrives.
func (c *Controller) OnResponseReceived(data string) []string {
	c.mu.Lock()
	c.partial += data

	var tokens []string
	for {
		idx := strings.IndexByte(c.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(c.partial[:idx])
		c.partial = c.partial[idx+1:]
		if line != "" {
			tokens = append(tokens, line)
		}
	}
	for _, token := range tokens {
		if strings.Contains(token, "T:") {
			c.lastStatus = token
		}
	}
	c.mu.Unlock()

	for _, token := range tokens {
		c.publish(events.EventResponseReceived, map[string]interface{}{"line": token})
	}
	return tokens
}

// OnFileLineRead turns one file line into commands. Blank lines and
// comment-only lines produce nothing.
func (c *Controller) OnFileLineRead(line string) []comms.Command {
	cleaned := CleanLine(line)
	if cleaned == "" {
		return nil
	}
	return []comms.Command{NewLineCommand(cleaned)}
}

// OnStatusCommandsNeeded enqueues one deduplicated status request ahead
// of queued work, so temperature keeps flowing during long prints.
func (c *Controller) OnStatusCommandsNeeded() {
	c.publish(events.EventStatusPoll, nil)
	if engine := c.boundEngine(); engine != nil {
		engine.QueueCommandIfNotExists(NewStatusCommand(), true)
	}
}

// OnDataSent republishes the write and tops up the print job when the
// queue has drained to the refill threshold.
func (c *Controller) OnDataSent(data []byte) {
	c.publish(events.EventDataSent, map[string]interface{}{"data": string(data)})

	engine := c.boundEngine()
	if engine != nil && engine.Printing() && engine.CommandsInQueue() <= c.threshold {
		engine.ReadCommandsFromFile(c.burst)
	}
}

func (c *Controller) OnSignalReceived(signalType string, data any) {
	c.publish(events.EventSignal, map[string]interface{}{"signal": signalType, "data": data})
}

func (c *Controller) OnLinkOpened() {
	c.publish(events.EventLinkOpened, nil)
}

func (c *Controller) OnLinkClosed() {
	c.publish(events.EventLinkClosed, nil)
}

func (c *Controller) OnLinkError(kind, description string) {
	c.logf("link error kind=%s description=%s", kind, description)
	c.publish(events.EventLinkError, map[string]interface{}{"kind": kind, "description": description})
}

func (c *Controller) OnLinkInfo(info string) {
	c.publish(events.EventLinkInfo, map[string]interface{}{"info": info})
}

func (c *Controller) OnEndOfFile() {
	c.mu.Lock()
	jobID := c.jobID
	c.mu.Unlock()

	c.publish(events.EventJobFinished, map[string]interface{}{"job_id": jobID})
	if engine := c.boundEngine(); engine != nil {
		engine.QueueSignal("print_completed", jobID)
	}
}

func (c *Controller) OnJobError(code, description string) {
	c.mu.Lock()
	c.lastError = description
	jobID := c.jobID
	c.mu.Unlock()

	c.logf("job error code=%s description=%s", code, description)
	c.publish(events.EventJobError, map[string]interface{}{
		"job_id": jobID, "code": code, "description": description,
	})
}

// OnPrintJobProgress records and republishes progress. It runs inside
// engine lifecycle calls and must not call back into the engine.
func (c *Controller) OnPrintJobProgress(fraction float64, filePos int64) {
	c.mu.Lock()
	c.fraction = fraction
	c.filePos = filePos
	jobID := c.jobID
	c.mu.Unlock()

	c.publish(events.EventJobProgress, map[string]interface{}{
		"job_id": jobID, "fraction": fraction, "position": filePos,
	})
}

// CleanLine strips a trailing ";" comment and surrounding whitespace.
func CleanLine(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

var _ comms.Listener = (*Controller)(nil)
