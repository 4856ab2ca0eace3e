package model

import "time"

// Snapshot is the daemon's periodically written status document. It is
// advisory: the control socket is the authoritative query path, the
// snapshot exists so shell tooling can read state without IPC.
type Snapshot struct {
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`

	Link LinkStatus `yaml:"link" json:"link"`

	Printing   bool    `yaml:"printing" json:"printing"`
	JobID      string  `yaml:"job_id,omitempty" json:"job_id,omitempty"`
	Progress   float64 `yaml:"progress" json:"progress"`
	FilePos    int64   `yaml:"file_pos" json:"file_pos"`
	QueueDepth int     `yaml:"queue_depth" json:"queue_depth"`

	PollerRunning bool `yaml:"poller_running" json:"poller_running"`
	PollerPaused  bool `yaml:"poller_paused" json:"poller_paused"`

	LastStatusLine string `yaml:"last_status_line,omitempty" json:"last_status_line,omitempty"`
	LastJobError   string `yaml:"last_job_error,omitempty" json:"last_job_error,omitempty"`

	SpoolFiles int `yaml:"spool_files" json:"spool_files"`
}

type LinkStatus struct {
	Open    bool   `yaml:"open" json:"open"`
	Mode    string `yaml:"mode" json:"mode"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}
