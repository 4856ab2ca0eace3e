// Package gcode is the reference Marlin-flavored firmware policy on top
// of the comms engine: line and status command types plus a Controller
// implementing comms.Listener. The engine itself never inspects
// instruction structure; everything firmware-specific lives here.
package gcode

import (
	"strings"
	"sync"

	"github.com/openfab/commlink/internal/comms"
)

// StatusInstruction is the temperature report request.
const StatusInstruction = "M105"

func encodeLine(instruction string) []byte {
	return []byte(instruction + "\n")
}

// LineCommand is one gcode line from a file or a manual send. Once it is
// the correlation target it consumes every response line: busy echoes
// and intermediate chatter belong to it, "ok" completes it, and error
// responses complete it while recording the error text.
type LineCommand struct {
	comms.BaseCommand

	mu      sync.Mutex
	respErr string
}

func NewLineCommand(line string) *LineCommand {
	c := &LineCommand{BaseCommand: comms.NewBaseCommand(strings.TrimSpace(line))}
	c.SetEncoder(encodeLine)
	return c
}

func (c *LineCommand) OnResponse(line string) bool {
	switch {
	case strings.HasPrefix(line, "ok"):
		c.MarkCompleted()
	case strings.HasPrefix(line, "Error:") || strings.HasPrefix(line, "!!"):
		c.mu.Lock()
		c.respErr = line
		c.mu.Unlock()
		c.MarkCompleted()
	default:
		// Busy echoes and other chatter are ours but do not finish the
		// exchange.
		c.MarkReceived()
	}
	return true
}

// ResponseError returns the error line the firmware answered with, or ""
// when the command succeeded.
func (c *LineCommand) ResponseError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.respErr
}

// StatusCommand requests a temperature report. It retains report lines
// and completes on "ok"; unrelated lines are left for other pending
// commands.
type StatusCommand struct {
	comms.BaseCommand

	mu     sync.Mutex
	report string
}

func NewStatusCommand() *StatusCommand {
	c := &StatusCommand{BaseCommand: comms.NewBaseCommand(StatusInstruction)}
	c.SetEncoder(encodeLine)
	return c
}

func (c *StatusCommand) OnResponse(line string) bool {
	isReport := strings.Contains(line, "T:")
	if isReport {
		c.mu.Lock()
		c.report = line
		c.mu.Unlock()
		c.MarkReceived()
	}
	if strings.HasPrefix(line, "ok") {
		c.MarkCompleted()
		return true
	}
	return isReport
}

// Report returns the last temperature report line this command matched.
func (c *StatusCommand) Report() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}
