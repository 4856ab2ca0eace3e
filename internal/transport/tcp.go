package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/openfab/commlink/internal/comms"
)

const (
	tcpDialTimeout  = 10 * time.Second
	tcpWriteTimeout = 10 * time.Second

	// tcpReadIdle is how long the reader waits for data before surfacing
	// a link info notice and waiting again. Firmware links are chatty
	// while healthy; prolonged silence is worth reporting but is not an
	// error.
	tcpReadIdle = 30 * time.Second
)

// tcpTransport is a line-oriented TCP client. A reader goroutine owns
// the inbound side and delivers each received chunk to the event sink;
// read and write failures surface as link errors, after which the engine
// force-closes the link.
type tcpTransport struct {
	events comms.TransportEvents

	mu      sync.Mutex
	conn    net.Conn
	address string
	open    bool
	closing bool
}

func newTCPTransport(events comms.TransportEvents) *tcpTransport {
	return &tcpTransport{events: events}
}

func (t *tcpTransport) OpenLink(address string) error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return fmt.Errorf("link to %s already open", t.address)
	}
	t.mu.Unlock()

	conn, err := net.DialTimeout("tcp", address, tcpDialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.address = address
	t.open = true
	t.closing = false
	t.mu.Unlock()

	go t.readLoop(conn)
	t.events.OnLinkOpened()
	return nil
}

func (t *tcpTransport) IsLinkOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *tcpTransport) CanTransmit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && !t.closing
}

func (t *tcpTransport) ConnectionSettings() comms.ConnectionSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return comms.ConnectionSettings{Mode: ModeTCP, Address: t.address}
}

func (t *tcpTransport) Write(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	open := t.open && !t.closing
	t.mu.Unlock()

	if !open || conn == nil {
		return ErrLinkClosed
	}

	_ = conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write to %s: %w", t.address, err)
	}
	return nil
}

// CloseLink closes the connection and delivers OnLinkClosed. Only the
// open-to-closed transition notifies, so closing an already closed link
// (or closing after a reader-raised link error) stays a single event.
func (t *tcpTransport) CloseLink() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	t.closing = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.events.OnLinkClosed()
	return nil
}

func (t *tcpTransport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

// readLoop delivers inbound lines until the connection dies. A read
// deadline bounds each wait; hitting it is reported as link info and the
// wait restarts, keeping any partial line buffered for the next round.
func (t *tcpTransport) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	var partial strings.Builder

	for {
		_ = conn.SetReadDeadline(time.Now().Add(tcpReadIdle))
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			partial.WriteString(chunk)
		}

		if err == nil {
			t.events.OnDataReceived(partial.String())
			partial.Reset()
			continue
		}

		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			t.events.OnLinkInfo(fmt.Sprintf("no data from %s for %s", t.address, tcpReadIdle))
			continue
		}

		// Flush a trailing unterminated line before reporting the end.
		if partial.Len() > 0 {
			t.events.OnDataReceived(partial.String())
		}

		if t.isClosing() {
			return // local close, OnLinkClosed already delivered
		}
		if errors.Is(err, io.EOF) {
			t.events.OnLinkError(comms.LinkErrorConnection, fmt.Sprintf("connection to %s closed by remote", t.address))
		} else {
			t.events.OnLinkError(comms.LinkErrorRead, err.Error())
		}
		return
	}
}
