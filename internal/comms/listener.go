package comms

// Listener is the firmware-specific policy consumed by the engine: line
// translation, response recognition, and job/error reporting. Every
// callback runs on an engine worker goroutine, never on the caller's.
// Implementations must not perform long blocking sends synchronously
// inside OnResponseReceived or they will stall the receive path.
type Listener interface {
	// OnLinkOpened fires when the link has been opened. The sender is
	// already running, so commands may be queued from this callback.
	OnLinkOpened()

	// OnLinkError fires on a transport failure. Link errors are fatal to
	// the current connection; the engine force-closes the transport after
	// this callback returns.
	OnLinkError(kind, description string)

	// OnLinkInfo fires on an informational link event (read timeout and
	// the like).
	OnLinkInfo(info string)

	// OnLinkClosed fires when the link has been closed.
	OnLinkClosed()

	// OnResponseReceived parses one chunk of raw inbound data into zero or
	// more response tokens. Each token is matched against the pending
	// commands.
	OnResponseReceived(data string) []string

	// OnSignalReceived fires when the sender drains a Signal from the
	// queue.
	OnSignalReceived(signalType string, data any)

	// OnDataSent fires after data was written to the link.
	OnDataSent(data []byte)

	// OnFileLineRead translates one job file line into commands, in file
	// order. nil means the line is ignored.
	OnFileLineRead(line string) []Command

	// OnEndOfFile fires when the current job file has been fully read.
	OnEndOfFile()

	// OnJobError fires on an error in an ongoing print job.
	OnJobError(code, description string)

	// OnStatusCommandsNeeded fires once per status poller cycle. The
	// implementation queues whatever status-request commands it wants.
	OnStatusCommandsNeeded()

	// OnPrintJobProgress reports job progress as a completion fraction in
	// [0,1] and the current byte offset into the file.
	OnPrintJobProgress(fraction float64, filePos int64)
}

// NopListener implements every Listener callback as a no-op. Embed it and
// override the callbacks you need.
type NopListener struct{}

func (NopListener) OnLinkOpened()                           {}
func (NopListener) OnLinkError(kind, description string)    {}
func (NopListener) OnLinkInfo(info string)                  {}
func (NopListener) OnLinkClosed()                           {}
func (NopListener) OnResponseReceived(data string) []string { return nil }
func (NopListener) OnSignalReceived(signalType string, data any) {
}
func (NopListener) OnDataSent(data []byte)                      {}
func (NopListener) OnFileLineRead(line string) []Command        { return nil }
func (NopListener) OnEndOfFile()                                {}
func (NopListener) OnJobError(code, description string)         {}
func (NopListener) OnStatusCommandsNeeded()                     {}
func (NopListener) OnPrintJobProgress(_ float64, _ int64)       {}
