package spool

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfab/commlink/internal/comms"
	"github.com/openfab/commlink/internal/model"
)

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeSpoolFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func startCatalog(t *testing.T, dir string) *Catalog {
	t.Helper()
	cat, err := NewCatalog(
		model.SpoolConfig{Dir: dir, Extensions: []string{".gcode", ".gco"}},
		log.New(os.Stderr, "", 0),
		comms.LogLevelError,
	)
	require.NoError(t, err)
	require.NoError(t, cat.Start())
	t.Cleanup(cat.Stop)
	return cat
}

func TestInitialScanCatalogsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeSpoolFile(t, dir, "benchy.gcode", "G28\nG1 X10\n")
	writeSpoolFile(t, dir, "calibration.gco", "G28\n")
	writeSpoolFile(t, dir, "notes.txt", "not printable")

	cat := startCatalog(t, dir)

	files := cat.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "benchy.gcode", files[0].Name)
	assert.Equal(t, "calibration.gco", files[1].Name)
	assert.Equal(t, int64(11), files[0].Size)
	assert.NotEmpty(t, files[0].ID)
}

func TestResolveByNameAndByStem(t *testing.T) {
	dir := t.TempDir()
	writeSpoolFile(t, dir, "benchy.gcode", "G28\n")

	cat := startCatalog(t, dir)

	byName, ok := cat.Resolve("benchy.gcode")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "benchy.gcode"), byName.Path)

	byStem, ok := cat.Resolve("benchy")
	require.True(t, ok)
	assert.Equal(t, byName.ID, byStem.ID)

	_, ok = cat.Resolve("missing")
	assert.False(t, ok)
}

func TestResolveStemIsAmbiguousAcrossExtensions(t *testing.T) {
	dir := t.TempDir()
	writeSpoolFile(t, dir, "part.gcode", "G28\n")
	writeSpoolFile(t, dir, "part.gco", "G28\n")

	cat := startCatalog(t, dir)

	_, ok := cat.Resolve("part")
	assert.False(t, ok, "ambiguous stem must not resolve")

	_, ok = cat.Resolve("part.gcode")
	assert.True(t, ok)
}

func TestCreateEventAddsFile(t *testing.T) {
	dir := t.TempDir()
	cat := startCatalog(t, dir)
	require.Equal(t, 0, cat.Len())

	writeSpoolFile(t, dir, "new.gcode", "G28\n")

	waitFor(t, func() bool {
		_, ok := cat.Resolve("new.gcode")
		return ok
	}, "created file to appear")
}

func TestRemoveEventDropsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSpoolFile(t, dir, "gone.gcode", "G28\n")

	cat := startCatalog(t, dir)
	require.Equal(t, 1, cat.Len())

	require.NoError(t, os.Remove(path))

	waitFor(t, func() bool { return cat.Len() == 0 }, "removed file to disappear")
}

func TestWriteEventUpdatesSizeAndKeepsID(t *testing.T) {
	dir := t.TempDir()
	writeSpoolFile(t, dir, "grow.gcode", "G28\n")

	cat := startCatalog(t, dir)
	before, ok := cat.Resolve("grow.gcode")
	require.True(t, ok)

	writeSpoolFile(t, dir, "grow.gcode", "G28\nG1 X10\nG1 Y10\n")

	waitFor(t, func() bool {
		f, ok := cat.Resolve("grow.gcode")
		return ok && f.Size > before.Size
	}, "grown file size")

	after, _ := cat.Resolve("grow.gcode")
	assert.Equal(t, before.ID, after.ID)
}

func TestRescanReconcilesOutOfBandChanges(t *testing.T) {
	dir := t.TempDir()
	cat := startCatalog(t, dir)

	// Simulate a change the watcher missed.
	writeSpoolFile(t, dir, "sneaky.gcode", "G28\n")
	waitFor(t, func() bool { return cat.Len() == 1 }, "file to be cataloged")

	require.NoError(t, cat.Rescan())
	assert.Equal(t, 1, cat.Len())
}

func TestNewCatalogRequiresDir(t *testing.T) {
	_, err := NewCatalog(model.SpoolConfig{}, nil, comms.LogLevelError)
	assert.Error(t, err)
}

func TestStartCreatesMissingSpoolDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	cat := startCatalog(t, dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, 0, cat.Len())
}
