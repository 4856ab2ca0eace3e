package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "loopback", cfg.Link.Mode)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval())
	assert.Equal(t, "continue", cfg.Job.OnLineError)
	assert.Equal(t, time.Second, cfg.Job.ProgressInterval())
	assert.Equal(t, []string{".gcode", ".gco"}, cfg.Spool.Extensions)
	assert.Equal(t, filepath.Join(DefaultDataDir, "commlinkd.sock"), cfg.Daemon.SocketPath)
	assert.Equal(t, filepath.Join(DefaultDataDir, "status.yaml"), cfg.Daemon.SnapshotPath)
}

func TestLoadOverridesAndDerivesPaths(t *testing.T) {
	path := writeConfig(t, `
link:
  mode: tcp
  address: printer.local:8899
poller:
  interval_sec: 2.5
job:
  on_line_error: abort
daemon:
  data_dir: /var/lib/commlink
schedules:
  - spec: "@hourly"
    commands: ["M105"]
    priority: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Link.Mode)
	assert.Equal(t, "printer.local:8899", cfg.Link.Address)
	assert.Equal(t, 2500*time.Millisecond, cfg.Poller.Interval())
	assert.Equal(t, "abort", cfg.Job.OnLineError)
	assert.Equal(t, "/var/lib/commlink/commlinkd.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, "/var/lib/commlink/commlinkd.lock", cfg.Daemon.LockPath)
	require.Len(t, cfg.Schedules, 1)
	assert.True(t, cfg.Schedules[0].Priority)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"tcp without address", "link:\n  mode: tcp\n"},
		{"zero poller interval", "poller:\n  interval_sec: 0\n"},
		{"bad line error policy", "job:\n  on_line_error: retry\n"},
		{"schedule without commands", "schedules:\n  - spec: \"@hourly\"\n"},
		{"schedule without spec", "schedules:\n  - commands: [\"M105\"]\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"malformed yaml", "link: [unclosed\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	cfg.applyDerivedPaths()
	assert.NoError(t, cfg.Validate())
}
