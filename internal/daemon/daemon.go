// Package daemon assembles the commlink process: the comms engine bound
// to its transport, the firmware controller, the spool catalog, the
// command scheduler, the event bus with its session audit log, and the
// Unix-socket control server the CLI talks to.
package daemon

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/openfab/commlink/internal/comms"
	"github.com/openfab/commlink/internal/events"
	"github.com/openfab/commlink/internal/gcode"
	"github.com/openfab/commlink/internal/lock"
	"github.com/openfab/commlink/internal/model"
	"github.com/openfab/commlink/internal/sched"
	"github.com/openfab/commlink/internal/spool"
	_ "github.com/openfab/commlink/internal/transport"
	"github.com/openfab/commlink/internal/uds"
)

// Daemon is the long-running commlink process.
type Daemon struct {
	config   model.Config
	logLevel comms.LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server

	bus         *events.Bus
	audit       *events.AuditLogger
	detachAudit func()

	engine     *comms.CommandsComms
	controller *gcode.Controller
	catalog    *spool.Catalog
	scheduler  *sched.Scheduler

	snapshotTicker *time.Ticker

	done     chan struct{}
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a Daemon logging to <data_dir>/daemon.log.
func New(cfg model.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Daemon.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logPath := filepath.Join(cfg.Daemon.DataDir, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	d := &Daemon{
		config:   cfg,
		logLevel: comms.ParseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(cfg.Daemon.LockPath),
		done:     make(chan struct{}),
	}
	d.server = uds.NewServer(cfg.Daemon.SocketPath, d.logger)
	return d, nil
}

// Start brings the whole stack up: lock, bus and audit log, engine and
// link, spool catalog, scheduler, control server, snapshot loop.
func (d *Daemon) Start() error {
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(comms.LogLevelInfo, "daemon starting pid=%d link=%s", os.Getpid(), d.config.Link.Mode)

	if err := os.MkdirAll(d.config.Daemon.DataDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure data dir: %w", err)
	}

	// Event bus and session audit log.
	d.bus = events.NewBus(64)
	audit, err := events.NewAuditLogger(d.config.Daemon.AuditLogPath, events.DefaultMaxLogSize)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.detachAudit = audit.Attach(d.bus)

	// Controller and engine. The controller needs the engine for refill
	// and status enqueues, so it is bound after construction.
	d.controller = gcode.NewController(gcode.ControllerConfig{
		Bus:             d.bus,
		Logger:          d.logger,
		RefillThreshold: d.config.Job.RefillThreshold,
		RefillBurst:     d.config.Job.RefillBurst,
	})

	engine, err := comms.New(comms.Config{
		Transport:        d.config.Link.Mode,
		Logger:           d.logger,
		LogLevel:         d.logLevel,
		TrafficLog:       log.New(d.logger.Writer(), "traffic ", 0),
		LineErrorPolicy:  comms.LineErrorPolicy(d.config.Job.OnLineError),
		ProgressInterval: d.config.Job.ProgressInterval(),
	}, d.controller)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create engine: %w", err)
	}
	d.engine = engine
	d.controller.Bind(engine)
	engine.SetTrafficLogEnabled(d.config.Logging.TrafficLog)

	// Spool catalog, when a spool directory is configured.
	if d.config.Spool.Dir != "" {
		catalog, err := spool.NewCatalog(d.config.Spool, d.logger, d.logLevel)
		if err != nil {
			d.cleanup()
			return err
		}
		if err := catalog.Start(); err != nil {
			d.cleanup()
			return err
		}
		d.catalog = catalog
	}

	// Scheduler. Invalid cron specs fail startup.
	scheduler, err := sched.New(d.config.Schedules, engine, d.logger, d.logLevel)
	if err != nil {
		d.cleanup()
		return err
	}
	d.scheduler = scheduler

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start control server: %w", err)
	}
	d.log(comms.LogLevelInfo, "control server listening on %s", d.config.Daemon.SocketPath)

	// Open the link and start the periodic workers.
	if err := engine.Transport().OpenLink(d.config.Link.Address); err != nil {
		d.Shutdown()
		return fmt.Errorf("open link: %w", err)
	}
	engine.StartStatusPoller(d.config.Poller.Interval())
	if d.config.Poller.StartPaused {
		engine.SetStatusPollerPaused(true)
	}
	d.scheduler.Start()

	interval := d.config.Daemon.SnapshotIntervalSec
	if interval <= 0 {
		interval = 5
	}
	d.snapshotTicker = time.NewTicker(time.Duration(interval) * time.Second)
	d.wg.Add(1)
	go d.snapshotLoop()
	d.writeSnapshot()

	d.log(comms.LogLevelInfo, "daemon ready")
	return nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		d.log(comms.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
	case <-d.done:
		// Shutdown arrived over the control socket.
		return
	}

	// Second signal forces exit.
	go func() {
		<-sigCh
		d.log(comms.LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(comms.LogLevelInfo, "shutdown started")

		close(d.done)

		// Stop producers before the engine: no new scheduled commands, no
		// new control requests, no catalog churn.
		if d.scheduler != nil {
			d.scheduler.Stop()
		}
		if d.server != nil {
			_ = d.server.Stop()
		}
		if d.catalog != nil {
			d.catalog.Stop()
		}
		if d.snapshotTicker != nil {
			d.snapshotTicker.Stop()
		}

		// Tear the engine down: active print, poller, sender, transport.
		if d.engine != nil {
			if err := d.engine.CloseLink(); err != nil {
				d.log(comms.LogLevelWarn, "close link error=%v", err)
			}
		}

		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 10
		}
		drained := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(comms.LogLevelWarn, "shutdown timeout after %ds", timeout)
		}

		// Final snapshot records the closed link.
		if d.engine != nil {
			d.writeSnapshot()
		}

		if d.detachAudit != nil {
			d.detachAudit()
		}
		if d.bus != nil {
			d.bus.Close()
		}
		if d.audit != nil {
			_ = d.audit.Close()
		}

		d.cleanup()
		d.log(comms.LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources acquired during startup.
func (d *Daemon) cleanup() {
	d.fileLock.Unlock()
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

func (d *Daemon) log(level comms.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case comms.LogLevelDebug:
		levelStr = "DEBUG"
	case comms.LogLevelWarn:
		levelStr = "WARN"
	case comms.LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
