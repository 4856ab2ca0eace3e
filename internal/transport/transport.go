// Package transport provides the concrete link backends registered with
// the engine's transport registry: a line-oriented TCP client for
// networked printers and an in-process loopback used by dry runs and
// tests. Importing the package registers both modes.
package transport

import (
	"errors"

	"github.com/openfab/commlink/internal/comms"
)

// Registered mode names.
const (
	ModeTCP      = "tcp"
	ModeLoopback = "loopback"
)

// ErrLinkClosed is returned by Write when the link is not open.
var ErrLinkClosed = errors.New("link closed")

func init() {
	comms.RegisterTransport(ModeTCP, func(events comms.TransportEvents) comms.Transport {
		return newTCPTransport(events)
	})
	comms.RegisterTransport(ModeLoopback, func(events comms.TransportEvents) comms.Transport {
		return NewLoopback(events)
	})
}
