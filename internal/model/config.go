// Package model defines the daemon's configuration and status snapshot
// documents.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultDataDir is where the daemon keeps its socket, lock, snapshot
// and audit log unless the config overrides the individual paths.
const DefaultDataDir = ".commlink"

type Config struct {
	Link      LinkConfig       `yaml:"link"`
	Poller    PollerConfig     `yaml:"poller"`
	Job       JobConfig        `yaml:"job"`
	Spool     SpoolConfig      `yaml:"spool"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
	Daemon    DaemonConfig     `yaml:"daemon"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// LinkConfig selects the transport and its endpoint.
type LinkConfig struct {
	// Mode is the registered transport mode ("tcp", "loopback").
	Mode    string `yaml:"mode"`
	Address string `yaml:"address"`
}

type PollerConfig struct {
	IntervalSec float64 `yaml:"interval_sec"`
	// StartPaused starts the poller in the paused state; a resume over
	// the control socket activates it.
	StartPaused bool `yaml:"start_paused"`
}

func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSec * float64(time.Second))
}

type JobConfig struct {
	// OnLineError is "continue" or "abort".
	OnLineError         string  `yaml:"on_line_error"`
	ProgressIntervalSec float64 `yaml:"progress_interval_sec"`
	RefillThreshold     int     `yaml:"refill_threshold"`
	RefillBurst         int     `yaml:"refill_burst"`
}

func (j JobConfig) ProgressInterval() time.Duration {
	return time.Duration(j.ProgressIntervalSec * float64(time.Second))
}

type SpoolConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// ScheduleConfig enqueues the listed instruction lines on a cron
// schedule while no print job is active.
type ScheduleConfig struct {
	Spec     string   `yaml:"spec"`
	Commands []string `yaml:"commands"`
	Priority bool     `yaml:"priority"`
}

type DaemonConfig struct {
	DataDir             string `yaml:"data_dir"`
	SocketPath          string `yaml:"socket_path"`
	LockPath            string `yaml:"lock_path"`
	SnapshotPath        string `yaml:"snapshot_path"`
	AuditLogPath        string `yaml:"audit_log_path"`
	SnapshotIntervalSec int    `yaml:"snapshot_interval_sec"`
	ShutdownTimeoutSec  int    `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	TrafficLog bool   `yaml:"traffic_log"`
}

// Default returns the configuration the daemon runs with when a field is
// absent. The loopback link makes a config-less start usable for dry
// runs.
func Default() Config {
	return Config{
		Link:   LinkConfig{Mode: "loopback"},
		Poller: PollerConfig{IntervalSec: 5.0},
		Job: JobConfig{
			OnLineError:         "continue",
			ProgressIntervalSec: 1.0,
			RefillThreshold:     2,
			RefillBurst:         10,
		},
		Spool: SpoolConfig{Extensions: []string{".gcode", ".gco"}},
		Daemon: DaemonConfig{
			DataDir:             DefaultDataDir,
			SnapshotIntervalSec: 5,
			ShutdownTimeoutSec:  10,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML config at path on top of the defaults and
// validates the result. A missing file yields the pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDerivedPaths()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDerivedPaths()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDerivedPaths fills the daemon paths left empty from the data dir.
func (c *Config) applyDerivedPaths() {
	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = DefaultDataDir
	}
	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = filepath.Join(c.Daemon.DataDir, "commlinkd.sock")
	}
	if c.Daemon.LockPath == "" {
		c.Daemon.LockPath = filepath.Join(c.Daemon.DataDir, "commlinkd.lock")
	}
	if c.Daemon.SnapshotPath == "" {
		c.Daemon.SnapshotPath = filepath.Join(c.Daemon.DataDir, "status.yaml")
	}
	if c.Daemon.AuditLogPath == "" {
		c.Daemon.AuditLogPath = filepath.Join(c.Daemon.DataDir, "session.jsonl")
	}
	if len(c.Spool.Extensions) == 0 {
		c.Spool.Extensions = []string{".gcode", ".gco"}
	}
}

func (c *Config) Validate() error {
	if c.Link.Mode == "" {
		return fmt.Errorf("link.mode is required")
	}
	if c.Link.Mode == "tcp" && c.Link.Address == "" {
		return fmt.Errorf("link.address is required for the tcp mode")
	}
	if c.Poller.IntervalSec <= 0 {
		return fmt.Errorf("poller.interval_sec must be positive, got %v", c.Poller.IntervalSec)
	}
	switch c.Job.OnLineError {
	case "", "continue", "abort":
	default:
		return fmt.Errorf("job.on_line_error must be \"continue\" or \"abort\", got %q", c.Job.OnLineError)
	}
	if c.Job.RefillThreshold < 0 || c.Job.RefillBurst < 0 {
		return fmt.Errorf("job refill settings must not be negative")
	}
	for i, s := range c.Schedules {
		if s.Spec == "" {
			return fmt.Errorf("schedules[%d]: spec is required", i)
		}
		if len(s.Commands) == 0 {
			return fmt.Errorf("schedules[%d]: commands must not be empty", i)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}
