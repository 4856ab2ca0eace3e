package daemon

import (
	"time"

	"github.com/openfab/commlink/internal/comms"
	"github.com/openfab/commlink/internal/model"
	yamlutil "github.com/openfab/commlink/internal/yaml"
)

// buildSnapshot assembles the current status document.
func (d *Daemon) buildSnapshot() model.Snapshot {
	settings := d.engine.ConnectionSettings()
	fraction, filePos := d.controller.Progress()

	snap := model.Snapshot{
		UpdatedAt: time.Now().UTC(),
		Link: model.LinkStatus{
			Open:    d.engine.IsLinkOpen(),
			Mode:    settings.Mode,
			Address: settings.Address,
		},
		Printing:       d.engine.Printing(),
		Progress:       fraction,
		FilePos:        filePos,
		QueueDepth:     d.engine.CommandsInQueue(),
		PollerRunning:  d.engine.StatusPollerRunning(),
		PollerPaused:   d.engine.StatusPollerPaused(),
		LastStatusLine: d.controller.LastStatus(),
		LastJobError:   d.controller.LastJobError(),
	}
	if snap.Printing {
		snap.JobID = d.engine.CurrentJobID()
	}
	if d.catalog != nil {
		snap.SpoolFiles = d.catalog.Len()
	}
	return snap
}

// writeSnapshot persists the status document atomically. Failures are
// logged, not fatal: the snapshot is advisory.
func (d *Daemon) writeSnapshot() {
	snap := d.buildSnapshot()
	if err := yamlutil.AtomicWrite(d.config.Daemon.SnapshotPath, snap); err != nil {
		d.log(comms.LogLevelWarn, "snapshot_write error=%v", err)
	}
}

func (d *Daemon) snapshotLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case <-d.snapshotTicker.C:
			d.writeSnapshot()
		}
	}
}
