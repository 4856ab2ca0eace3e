package comms

import (
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// statusPoller is the periodic worker asking the listener to queue
// status-request commands. Each cycle it fires OnStatusCommandsNeeded,
// then waits up to the interval (or until woken by stop). While paused it
// blocks indefinitely after the cycle without exiting; unpausing resumes
// polling without replaying missed cycles.
type statusPoller struct {
	listener Listener
	log      engineLogger
	interval time.Duration

	wake    *event // interrupts the interval wait on stop
	resumed *event // set while running, cleared while paused

	stopped atomic.Bool
	done    chan struct{}
}

func newStatusPoller(listener Listener, interval time.Duration, log engineLogger) *statusPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	p := &statusPoller{
		listener: listener,
		log:      log.named("poller"),
		interval: interval,
		wake:     newEvent(),
		resumed:  newEvent(),
		done:     make(chan struct{}),
	}
	p.resumed.Set()
	return p
}

func (p *statusPoller) start() {
	go p.run()
}

func (p *statusPoller) run() {
	defer close(p.done)

	for !p.stopped.Load() {
		p.requestStatus()
		p.wake.WaitTimeout(p.interval)
		p.resumed.Wait()
	}
}

func (p *statusPoller) requestStatus() {
	defer func() {
		if r := recover(); r != nil {
			p.log.logf(LogLevelError, "status_request_panic err=%v", r)
		}
	}()
	p.listener.OnStatusCommandsNeeded()
}

// setPaused pauses or resumes polling. Pausing is cooperative: the
// current cycle finishes, then the worker parks until resumed.
func (p *statusPoller) setPaused(paused bool) {
	if paused {
		p.resumed.Clear()
	} else {
		p.resumed.Set()
	}
}

func (p *statusPoller) paused() bool {
	return !p.resumed.IsSet()
}

// stop force-wakes both waits so the worker observes the stop promptly.
func (p *statusPoller) stop() {
	p.stopped.Store(true)
	p.resumed.Set()
	p.wake.Set()
}
