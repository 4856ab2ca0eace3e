// Package status renders the daemon's state for the CLI. It queries the
// control socket first and falls back to the last written snapshot file
// when the daemon is not running.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/openfab/commlink/internal/model"
	"github.com/openfab/commlink/internal/uds"
)

// Report is what the CLI prints: the snapshot plus where it came from.
type Report struct {
	DaemonRunning bool           `json:"daemon_running"`
	Source        string         `json:"source"` // "socket" or "snapshot"
	Snapshot      model.Snapshot `json:"snapshot"`
}

// Run gathers the report and writes it to out.
func Run(socketPath, snapshotPath string, jsonOutput bool, out io.Writer) error {
	report, err := gather(socketPath, snapshotPath)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(out, report)
	return nil
}

func gather(socketPath, snapshotPath string) (Report, error) {
	client := uds.NewClient(socketPath)
	client.SetTimeout(2 * time.Second)

	resp, err := client.SendCommand("status", nil)
	if err == nil && resp.Success {
		var snap model.Snapshot
		if err := json.Unmarshal(resp.Data, &snap); err != nil {
			return Report{}, fmt.Errorf("parse status response: %w", err)
		}
		return Report{DaemonRunning: true, Source: "socket", Snapshot: snap}, nil
	}

	// Daemon is down; the snapshot file still tells the last known state.
	data, readErr := os.ReadFile(snapshotPath)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return Report{Source: "snapshot"}, nil
		}
		return Report{}, fmt.Errorf("read snapshot %s: %w", snapshotPath, readErr)
	}

	var snap model.Snapshot
	if err := yamlv3.Unmarshal(data, &snap); err != nil {
		return Report{}, fmt.Errorf("parse snapshot %s: %w", snapshotPath, err)
	}
	return Report{Source: "snapshot", Snapshot: snap}, nil
}

func printReport(out io.Writer, r Report) {
	if r.DaemonRunning {
		fmt.Fprintln(out, "Daemon: running")
	} else {
		fmt.Fprintln(out, "Daemon: stopped")
	}

	s := r.Snapshot
	if s.UpdatedAt.IsZero() {
		fmt.Fprintln(out, "No state recorded yet.")
		return
	}

	linkState := "closed"
	if s.Link.Open {
		linkState = "open"
	}
	fmt.Fprintf(out, "\nLink: %s mode=%s", linkState, s.Link.Mode)
	if s.Link.Address != "" {
		fmt.Fprintf(out, " address=%s", s.Link.Address)
	}
	fmt.Fprintln(out)

	if s.Printing {
		fmt.Fprintf(out, "Job: %s  %.1f%%  pos=%d\n", s.JobID, s.Progress*100, s.FilePos)
	} else {
		fmt.Fprintln(out, "Job: none")
	}
	if s.LastJobError != "" {
		fmt.Fprintf(out, "Last job error: %s\n", s.LastJobError)
	}

	fmt.Fprintf(out, "Queue depth: %d\n", s.QueueDepth)

	pollerState := "stopped"
	switch {
	case s.PollerRunning && s.PollerPaused:
		pollerState = "paused"
	case s.PollerRunning:
		pollerState = "running"
	}
	fmt.Fprintf(out, "Status poller: %s\n", pollerState)

	if s.LastStatusLine != "" {
		fmt.Fprintf(out, "Last status: %s\n", s.LastStatusLine)
	}
	if s.SpoolFiles > 0 {
		fmt.Fprintf(out, "Spool files: %d\n", s.SpoolFiles)
	}

	if !r.DaemonRunning {
		fmt.Fprintf(out, "\n(state from snapshot written %s)\n", s.UpdatedAt.Format(time.RFC3339))
	}
}
