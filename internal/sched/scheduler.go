// Package sched enqueues configured instruction lines on cron schedules,
// for recurring maintenance sequences and periodic reports.
package sched

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openfab/commlink/internal/comms"
	"github.com/openfab/commlink/internal/gcode"
	"github.com/openfab/commlink/internal/model"
)

// Engine is the slice of the comms engine the scheduler drives.
type Engine interface {
	Printing() bool
	QueueCommand(command comms.Command, sendNext bool)
}

// specParser accepts the standard five-field cron format plus an
// optional leading seconds field.
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs the configured schedule entries against the engine.
// Entries are skipped while a print job is active so maintenance
// sequences never interleave with job commands.
type Scheduler struct {
	cron     *cron.Cron
	engine   Engine
	logger   *log.Logger
	logLevel comms.LogLevel
}

// New validates every entry's cron spec and registers it. An invalid
// spec is a configuration error and fails construction.
func New(entries []model.ScheduleConfig, engine Engine, logger *log.Logger, level comms.LogLevel) (*Scheduler, error) {
	if logger == nil {
		logger = log.Default()
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithParser(specParser)),
		engine:   engine,
		logger:   logger,
		logLevel: level,
	}

	for i, entry := range entries {
		entry := entry
		if _, err := s.cron.AddFunc(entry.Spec, func() { s.runEntry(entry) }); err != nil {
			return nil, fmt.Errorf("schedules[%d]: invalid cron spec %q: %w", i, entry.Spec, err)
		}
	}

	return s, nil
}

// Start begins firing entries. No-op scheduling cost when no entries are
// configured.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log(comms.LogLevelInfo, "scheduler_start entries=%d", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for any running entry to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log(comms.LogLevelInfo, "scheduler_stop")
}

// Entries reports the number of registered schedule entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runEntry(entry model.ScheduleConfig) {
	if s.engine.Printing() {
		s.log(comms.LogLevelInfo, "schedule_skip spec=%q reason=print_active", entry.Spec)
		return
	}

	for _, line := range entry.Commands {
		s.engine.QueueCommand(gcode.NewLineCommand(line), entry.Priority)
	}
	s.log(comms.LogLevelDebug, "schedule_fire spec=%q commands=%d priority=%t",
		entry.Spec, len(entry.Commands), entry.Priority)
}

func (s *Scheduler) log(level comms.LogLevel, format string, args ...any) {
	if level < s.logLevel {
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
	s.logger.Printf("%s %s sched: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
