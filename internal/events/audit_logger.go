package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize is the rotation threshold (10MB). Printer
	// sessions are long but individual entries are small.
	DefaultMaxLogSize = 10 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

// LogEntry is one audit record of the session.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	JobID     string                 `json:"job_id,omitempty"`
	Signal    string                 `json:"signal,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AuditLogger is an append-only JSONL session log with size-based
// rotation into an archive directory. Wire it to a Bus with Attach to
// record every published event.
type AuditLogger struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	logPath     string
	rotations   int
}

// NewAuditLogger opens (or creates) the log at logPath. maxSize <= 0
// selects the default rotation threshold.
func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}

	logger := &AuditLogger{
		logPath: logPath,
		maxSize: maxSize,
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := logger.openLogFile(); err != nil {
		return nil, err
	}
	return logger, nil
}

// Attach subscribes the logger to every event type on the bus and
// returns the unsubscribe function.
func (l *AuditLogger) Attach(bus *Bus) func() {
	return bus.SubscribeAll(func(event Event) {
		entry := LogEntry{
			Timestamp: event.Timestamp,
			EventType: string(event.Type),
			Details:   event.Data,
		}
		if jobID, ok := event.Data["job_id"].(string); ok {
			entry.JobID = jobID
		}
		if signal, ok := event.Data["signal"].(string); ok {
			entry.Signal = signal
		}
		if kind, ok := event.Data["kind"].(string); ok {
			entry.ErrorKind = kind
		}
		// Write failures are swallowed here: the audit log is an
		// observer and must never fail engine callbacks.
		_ = l.WriteEntry(&entry)
	})
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Log writes an ad-hoc entry outside the bus path.
func (l *AuditLogger) Log(eventType string, details map[string]interface{}) error {
	return l.WriteEntry(&LogEntry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Details:   details,
	})
}

// WriteEntry appends one JSONL record, rotating first when the record
// would push the file past the size threshold.
func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}

	l.currentSize += int64(n)
	return nil
}

// rotate moves the current log into the archive directory next to it
// and reopens a fresh file.
func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close current log file: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	l.rotations++
	baseName := filepath.Base(l.logPath)
	archiveName := fmt.Sprintf("%s.%s.%d%s",
		baseName[:len(baseName)-len(LogFileExtension)],
		timestamp,
		l.rotations,
		LogFileExtension)

	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive log file: %w", err)
	}

	return l.openLogFile()
}

// Close syncs and closes the log file.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			return err
		}
		return l.file.Close()
	}
	return nil
}

// CurrentSize returns the size of the active log file.
func (l *AuditLogger) CurrentSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSize
}
