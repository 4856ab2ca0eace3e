package comms

import "errors"

// ErrUnknownTransport is returned by New when the requested transport
// mode has no registered factory. It is fatal at construction; there is
// no fallback transport.
var ErrUnknownTransport = errors.New("unknown transport mode")

// Link error kinds passed to Listener.OnLinkError. A link error is fatal
// to the current connection: the engine force-closes the transport and
// never retries.
const (
	LinkErrorUnableToSend = "unable_to_send"
	LinkErrorConnection   = "connection_error"
	LinkErrorRead         = "read_error"
)

// Job error codes passed to Listener.OnJobError.
const (
	JobErrorProcessingLine = "error_processing_command"
	JobErrorAborted        = "job_aborted"
)

// LineErrorPolicy selects what the job worker does when translating one
// file line fails.
type LineErrorPolicy string

const (
	// LineErrorContinue logs and reports the failure, then moves on to the
	// next line.
	LineErrorContinue LineErrorPolicy = "continue"
	// LineErrorAbort stops the job on the first translation failure.
	LineErrorAbort LineErrorPolicy = "abort"
)
