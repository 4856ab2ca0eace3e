package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestAuditLoggerWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	logger, err := NewAuditLogger(path, 0)
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Log("link_opened", map[string]interface{}{"address": "printer:8899"}))
	require.NoError(t, logger.WriteEntry(&LogEntry{
		EventType: "job_started",
		JobID:     "j-42",
	}))

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "link_opened", entries[0].EventType)
	assert.Equal(t, "printer:8899", entries[0].Details["address"])
	assert.Equal(t, "j-42", entries[1].JobID)
	assert.Positive(t, logger.CurrentSize())
}

func TestAuditLoggerCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "session.jsonl")
	logger, err := NewAuditLogger(path, 0)
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Log("link_opened", nil))
	assert.FileExists(t, path)
}

func TestAuditLoggerRotatesAtSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	logger, err := NewAuditLogger(path, 300)
	require.NoError(t, err)
	defer logger.Close()

	long := strings.Repeat("x", 120)
	for i := 0; i < 6; i++ {
		require.NoError(t, logger.Log("data_sent", map[string]interface{}{"data": long}))
	}

	archives, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	require.NoError(t, err)
	assert.NotEmpty(t, archives)
	for _, archive := range archives {
		assert.True(t, strings.HasSuffix(archive.Name(), LogFileExtension))
		assert.True(t, strings.HasPrefix(archive.Name(), "session."))
	}

	// The active file holds only what came after the last rotation.
	assert.Less(t, logger.CurrentSize(), int64(300))
}

func TestAuditLoggerAttachRecordsBusEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	logger, err := NewAuditLogger(path, 0)
	require.NoError(t, err)
	defer logger.Close()

	bus := NewBus(10)
	defer bus.Close()
	detach := logger.Attach(bus)
	defer detach()

	bus.Publish(EventJobStarted, map[string]interface{}{"job_id": "j-7"})
	bus.Publish(EventLinkError, map[string]interface{}{"kind": "read_error", "description": "boom"})

	// Poll leniently: a line mid-append may not parse yet.
	parsed := func() int {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0
		}
		count := 0
		for _, line := range strings.Split(string(data), "\n") {
			var entry LogEntry
			if json.Unmarshal([]byte(line), &entry) == nil {
				count++
			}
		}
		return count
	}
	waitFor(t, func() bool { return parsed() == 2 }, "bus entries on disk")

	entries := readEntries(t, path)
	byType := make(map[string]LogEntry)
	for _, entry := range entries {
		byType[entry.EventType] = entry
	}
	assert.Equal(t, "j-7", byType["job_started"].JobID)
	assert.Equal(t, "read_error", byType["link_error"].ErrorKind)
}
