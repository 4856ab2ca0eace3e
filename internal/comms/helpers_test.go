package comms

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testModeSeq atomic.Int64

// fakeTransport records writes and lets tests feed responses and
// lifecycle events into the engine.
type fakeTransport struct {
	events TransportEvents

	mu         sync.Mutex
	open       bool
	writes     []string
	failWrites bool
	closes     int
	barrier    chan struct{}
}

// blockNextWrite makes the next Write park until the returned release
// function is called. Used to hold the sender worker mid-send while a
// test shapes the queue. The release function is idempotent and must be
// called before CloseLink.
func (t *fakeTransport) blockNextWrite() func() {
	ch := make(chan struct{})
	t.mu.Lock()
	t.barrier = ch
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (t *fakeTransport) OpenLink(string) error {
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	t.events.OnLinkOpened()
	return nil
}

func (t *fakeTransport) IsLinkOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) CanTransmit() bool { return t.IsLinkOpen() }

func (t *fakeTransport) ConnectionSettings() ConnectionSettings {
	return ConnectionSettings{Mode: "fake", Address: "test"}
}

func (t *fakeTransport) Write(data []byte) error {
	t.mu.Lock()
	barrier := t.barrier
	t.barrier = nil
	fail := t.failWrites
	t.mu.Unlock()

	if barrier != nil {
		<-barrier
	}
	if fail {
		return errors.New("broken pipe")
	}

	t.mu.Lock()
	t.writes = append(t.writes, string(data))
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) CloseLink() error {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	t.closes++
	t.mu.Unlock()
	if wasOpen {
		t.events.OnLinkClosed()
	}
	return nil
}

func (t *fakeTransport) respond(line string) {
	t.events.OnDataReceived(line)
}

func (t *fakeTransport) writeLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func (t *fakeTransport) setFailWrites(fail bool) {
	t.mu.Lock()
	t.failWrites = fail
	t.mu.Unlock()
}

// recListener records every callback. The zero value tokenizes each raw
// chunk into one response token.
type recListener struct {
	NopListener

	mu            sync.Mutex
	signals       []string
	linkErrors    []string
	jobErrors     []string
	progress      []float64
	eofs          int
	statusCalls   int
	dataSent      []string
	translate     func(line string) []Command
	statusOnDemand func()
}

func (l *recListener) OnResponseReceived(data string) []string {
	return []string{data}
}

func (l *recListener) OnSignalReceived(signalType string, _ any) {
	l.mu.Lock()
	l.signals = append(l.signals, signalType)
	l.mu.Unlock()
}

func (l *recListener) OnLinkError(kind, description string) {
	l.mu.Lock()
	l.linkErrors = append(l.linkErrors, kind+": "+description)
	l.mu.Unlock()
}

func (l *recListener) OnJobError(code, description string) {
	l.mu.Lock()
	l.jobErrors = append(l.jobErrors, code)
	l.mu.Unlock()
}

func (l *recListener) OnDataSent(data []byte) {
	l.mu.Lock()
	l.dataSent = append(l.dataSent, string(data))
	l.mu.Unlock()
}

func (l *recListener) OnFileLineRead(line string) []Command {
	l.mu.Lock()
	translate := l.translate
	l.mu.Unlock()
	if translate != nil {
		return translate(line)
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	return []Command{newTestCommand(trimmed)}
}

func (l *recListener) OnEndOfFile() {
	l.mu.Lock()
	l.eofs++
	l.mu.Unlock()
}

func (l *recListener) OnStatusCommandsNeeded() {
	l.mu.Lock()
	l.statusCalls++
	onDemand := l.statusOnDemand
	l.mu.Unlock()
	if onDemand != nil {
		onDemand()
	}
}

func (l *recListener) OnPrintJobProgress(fraction float64, _ int64) {
	l.mu.Lock()
	l.progress = append(l.progress, fraction)
	l.mu.Unlock()
}

func (l *recListener) signalLog() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.signals...)
}

func (l *recListener) linkErrorLog() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.linkErrors...)
}

func (l *recListener) jobErrorLog() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.jobErrors...)
}

func (l *recListener) progressLog() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.progress...)
}

func (l *recListener) eofCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eofs
}

func (l *recListener) statusCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusCalls
}

// testCommand completes when it sees its completion line (default "ok").
type testCommand struct {
	BaseCommand
	completeOn string
}

func newTestCommand(instruction string) *testCommand {
	return &testCommand{BaseCommand: NewBaseCommand(instruction), completeOn: "ok"}
}

func newTestCommandCompleting(instruction, completeOn string) *testCommand {
	return &testCommand{BaseCommand: NewBaseCommand(instruction), completeOn: completeOn}
}

func (c *testCommand) OnResponse(line string) bool {
	if line == c.completeOn {
		c.MarkCompleted()
		return true
	}
	return false
}

// newTestEngine builds an engine on a fresh fake transport registered
// under a unique mode name.
func newTestEngine(t *testing.T, listener Listener) (*CommandsComms, *fakeTransport) {
	return newTestEngineWithConfig(t, listener, nil)
}

func newTestEngineWithConfig(t *testing.T, listener Listener, mutate func(*Config)) (*CommandsComms, *fakeTransport) {
	t.Helper()

	ft := &fakeTransport{}
	mode := fmt.Sprintf("fake-%d", testModeSeq.Add(1))
	RegisterTransport(mode, func(events TransportEvents) Transport {
		ft.events = events
		return ft
	})

	cfg := Config{Transport: mode, LogLevel: LogLevelError}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := New(cfg, listener)
	require.NoError(t, err)
	return engine, ft
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
