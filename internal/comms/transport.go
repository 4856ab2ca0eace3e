package comms

import (
	"fmt"
	"sync"
)

// ConnectionSettings describes the active link of a transport.
type ConnectionSettings struct {
	Mode    string `json:"mode"`
	Address string `json:"address"`
}

// Transport is the physical duplex byte link. Implementations deliver
// inbound data and lifecycle changes asynchronously through the
// TransportEvents sink they were constructed with; the engine is the
// transport's exclusive owner and funnels all writes through one path.
type Transport interface {
	// OpenLink connects the transport to the given address. Lifecycle
	// events (OnLinkOpened, later OnLinkClosed/OnLinkError) are delivered
	// asynchronously to the event sink.
	OpenLink(address string) error

	// IsLinkOpen reports whether the link is currently open.
	IsLinkOpen() bool

	// CanTransmit reports whether the link is still usable for sending.
	CanTransmit() bool

	// ConnectionSettings returns the settings of the active connection.
	ConnectionSettings() ConnectionSettings

	// Write sends raw bytes over the link.
	Write(data []byte) error

	// CloseLink closes the link. Delivering OnLinkClosed exactly once is
	// the implementation's responsibility.
	CloseLink() error
}

// TransportEvents is the inbound half of a transport, implemented by the
// engine orchestrator. Implementations of Transport call these from their
// own goroutines.
type TransportEvents interface {
	OnDataReceived(data string)
	OnLinkOpened()
	OnLinkClosed()
	OnLinkError(kind, description string)
	OnLinkInfo(info string)
}

// TransportFactory builds a transport bound to an event sink.
type TransportFactory func(events TransportEvents) Transport

var (
	transportsMu sync.RWMutex
	transports   = make(map[string]TransportFactory)
)

// RegisterTransport makes a transport constructor available to New under
// a mode name. Registering the same mode twice panics: modes are wired at
// program startup and a duplicate is a programming error.
func RegisterTransport(mode string, factory TransportFactory) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	if _, dup := transports[mode]; dup {
		panic(fmt.Sprintf("comms: transport mode %q registered twice", mode))
	}
	transports[mode] = factory
}

func newTransport(mode string, events TransportEvents) (Transport, error) {
	transportsMu.RLock()
	factory, ok := transports[mode]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, mode)
	}
	return factory(events), nil
}
