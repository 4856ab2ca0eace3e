package daemon

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openfab/commlink/internal/comms"
	"github.com/openfab/commlink/internal/gcode"
	"github.com/openfab/commlink/internal/uds"
)

// Control request parameter shapes. The CLI marshals the same structs.

type SendParams struct {
	Line     string `json:"line"`
	Priority bool   `json:"priority,omitempty"`
	Dedup    bool   `json:"dedup,omitempty"`
}

type PrintParams struct {
	Name string `json:"name"`
}

type ReadParams struct {
	Count int `json:"count"`
}

type PollerParams struct {
	Action string `json:"action"` // "pause" or "resume"
}

type TrafficParams struct {
	Enabled bool `json:"enabled"`
}

// registerHandlers wires the control socket commands.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("status", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.buildSnapshot())
	})

	d.server.Handle("send", d.handleSend)
	d.server.Handle("print", d.handlePrint)
	d.server.Handle("pause", d.handlePause)
	d.server.Handle("resume", d.handleResume)
	d.server.Handle("cancel", d.handleCancel)
	d.server.Handle("read", d.handleRead)
	d.server.Handle("poller", d.handlePoller)
	d.server.Handle("files", d.handleFiles)
	d.server.Handle("rescan", d.handleRescan)
	d.server.Handle("traffic", d.handleTraffic)

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(comms.LogLevelInfo, "shutdown requested via control socket")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleSend(req *uds.Request) *uds.Response {
	var params SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	line := gcode.CleanLine(params.Line)
	if line == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "line must not be empty")
	}
	if !d.engine.CanLinkTransmit() {
		return uds.ErrorResponse(uds.ErrCodeLinkClosed, "link is not open")
	}

	command := gcode.NewLineCommand(line)
	if params.Dedup {
		d.engine.QueueCommandIfNotExists(command, params.Priority)
	} else {
		d.engine.QueueCommand(command, params.Priority)
	}
	return uds.SuccessResponse(map[string]any{"queued": line, "priority": params.Priority})
}

func (d *Daemon) handlePrint(req *uds.Request) *uds.Response {
	var params PrintParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if strings.TrimSpace(params.Name) == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "name must not be empty")
	}
	if !d.engine.CanLinkTransmit() {
		return uds.ErrorResponse(uds.ErrCodeLinkClosed, "link is not open")
	}
	if d.engine.Printing() {
		return uds.ErrorResponse(uds.ErrCodeAlreadyPrinting, "a print job is already active")
	}

	// Spool names resolve through the catalog; a path is taken as-is
	// when no spool is configured.
	path := params.Name
	if d.catalog != nil {
		f, ok := d.catalog.Resolve(params.Name)
		if !ok {
			return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("no spool file matches %q", params.Name))
		}
		path = f.Path
	}

	if err := d.engine.StartPrint(path); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("start print: %v", err))
	}
	jobID := d.engine.CurrentJobID()
	d.controller.SetCurrentJob(jobID)

	// Prime the queue; the refill loop keeps it topped up from here.
	d.engine.ReadCommandsFromFile(d.config.Job.RefillBurst)

	d.log(comms.LogLevelInfo, "print_start job=%s file=%s", jobID, path)
	return uds.SuccessResponse(map[string]any{"job_id": jobID, "file": path})
}

func (d *Daemon) handlePause(req *uds.Request) *uds.Response {
	if !d.engine.Printing() {
		return uds.ErrorResponse(uds.ErrCodeNotPrinting, "no active print job")
	}
	d.engine.PausePrintJob()
	d.log(comms.LogLevelInfo, "print_pause job=%s", d.engine.CurrentJobID())
	return uds.SuccessResponse(map[string]string{"status": "paused"})
}

func (d *Daemon) handleResume(req *uds.Request) *uds.Response {
	if !d.engine.Printing() {
		return uds.ErrorResponse(uds.ErrCodeNotPrinting, "no active print job")
	}
	d.engine.ResumePrintJob()
	d.log(comms.LogLevelInfo, "print_resume job=%s", d.engine.CurrentJobID())
	return uds.SuccessResponse(map[string]string{"status": "resumed"})
}

func (d *Daemon) handleCancel(req *uds.Request) *uds.Response {
	if !d.engine.Printing() {
		return uds.ErrorResponse(uds.ErrCodeNotPrinting, "no active print job")
	}
	jobID := d.engine.CurrentJobID()
	d.engine.StopPrint()
	d.log(comms.LogLevelInfo, "print_cancel job=%s", jobID)
	return uds.SuccessResponse(map[string]any{"status": "cancelled", "job_id": jobID})
}

func (d *Daemon) handleRead(req *uds.Request) *uds.Response {
	var params ReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Count <= 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "count must be positive")
	}
	if !d.engine.Printing() {
		return uds.ErrorResponse(uds.ErrCodeNotPrinting, "no active print job")
	}
	d.engine.ReadCommandsFromFile(params.Count)
	return uds.SuccessResponse(map[string]any{"granted": params.Count})
}

func (d *Daemon) handlePoller(req *uds.Request) *uds.Response {
	var params PollerParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	switch params.Action {
	case "pause":
		d.engine.SetStatusPollerPaused(true)
	case "resume":
		d.engine.SetStatusPollerPaused(false)
	default:
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("action must be \"pause\" or \"resume\", got %q", params.Action))
	}
	return uds.SuccessResponse(map[string]any{"paused": d.engine.StatusPollerPaused()})
}

func (d *Daemon) handleFiles(req *uds.Request) *uds.Response {
	if d.catalog == nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "no spool directory is configured")
	}
	return uds.SuccessResponse(map[string]any{"files": d.catalog.Files()})
}

func (d *Daemon) handleRescan(req *uds.Request) *uds.Response {
	if d.catalog == nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "no spool directory is configured")
	}
	if err := d.catalog.Rescan(); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("rescan: %v", err))
	}
	return uds.SuccessResponse(map[string]any{"files": d.catalog.Len()})
}

func (d *Daemon) handleTraffic(req *uds.Request) *uds.Response {
	var params TrafficParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	d.engine.SetTrafficLogEnabled(params.Enabled)
	return uds.SuccessResponse(map[string]any{"enabled": d.engine.TrafficLogEnabled()})
}
