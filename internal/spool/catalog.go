// Package spool maintains a live catalog of printable files in a watched
// directory. The daemon resolves print requests by file name through it.
package spool

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pborman/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/openfab/commlink/internal/comms"
	"github.com/openfab/commlink/internal/model"
)

// File is one catalog entry. The ID is assigned when the file first
// appears and stays stable while the file remains in the spool.
type File struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Catalog watches a spool directory and keeps a name-indexed view of the
// printable files in it. Create and write events update single entries;
// removes and renames trigger a debounced full rescan because rename
// events only carry the old name.
type Catalog struct {
	dir        string
	extensions map[string]bool
	logger     *log.Logger
	logLevel   comms.LogLevel

	watcher *fsnotify.Watcher
	rescan  singleflight.Group

	mu    sync.RWMutex
	files map[string]File

	// Debounce state for rescans triggered by remove/rename bursts.
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCatalog builds a catalog for cfg.Dir. Start must be called before
// the catalog serves lookups.
func NewCatalog(cfg model.SpoolConfig, logger *log.Logger, level comms.LogLevel) (*Catalog, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool.dir is not configured")
	}
	if logger == nil {
		logger = log.Default()
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Catalog{
		dir:           cfg.Dir,
		extensions:    exts,
		logger:        logger,
		logLevel:      level,
		files:         make(map[string]File),
		debounceDelay: 250 * time.Millisecond,
		done:          make(chan struct{}),
	}, nil
}

// Start creates the spool directory if needed, runs the initial scan and
// begins watching for changes.
func (c *Catalog) Start() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("ensure spool dir %s: %w", c.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}
	c.watcher = watcher

	if err := c.Rescan(); err != nil {
		_ = watcher.Close()
		return err
	}

	c.wg.Add(1)
	go c.watchLoop()

	c.log(comms.LogLevelInfo, "spool_watch dir=%s files=%d", c.dir, c.Len())
	return nil
}

// Stop ends the watch. The catalog keeps serving its last known state.
func (c *Catalog) Stop() {
	close(c.done)
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
	c.debounceMu.Lock()
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceMu.Unlock()
	c.wg.Wait()
}

// Files returns the catalog sorted by name.
func (c *Catalog) Files() []File {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]File, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of cataloged files.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// Resolve looks a file up by its exact name, or by its stem when exactly
// one configured extension matches ("benchy" finds "benchy.gcode").
func (c *Catalog) Resolve(name string) (File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if f, ok := c.files[name]; ok {
		return f, true
	}

	var found File
	matches := 0
	for ext := range c.extensions {
		if f, ok := c.files[name+ext]; ok {
			found = f
			matches++
		}
	}
	if matches == 1 {
		return found, true
	}
	return File{}, false
}

// Rescan rebuilds the catalog from the directory listing. Concurrent
// callers share one listing.
func (c *Catalog) Rescan() error {
	_, err, _ := c.rescan.Do("rescan", func() (any, error) {
		return nil, c.rescanLocked()
	})
	return err
}

func (c *Catalog) rescanLocked() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read spool dir %s: %w", c.dir, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !c.matches(entry.Name()) {
			continue
		}
		seen[entry.Name()] = true
		c.upsert(filepath.Join(c.dir, entry.Name()))
	}

	c.mu.Lock()
	for name := range c.files {
		if !seen[name] {
			delete(c.files, name)
		}
	}
	c.mu.Unlock()

	c.log(comms.LogLevelDebug, "rescan files=%d", c.Len())
	return nil
}

func (c *Catalog) watchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(event)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log(comms.LogLevelError, "watch_error error=%v", err)
		}
	}
}

func (c *Catalog) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !c.matches(name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		c.log(comms.LogLevelDebug, "spool_event op=%s file=%s", event.Op, name)
		c.upsert(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		c.log(comms.LogLevelDebug, "spool_event op=%s file=%s", event.Op, name)
		c.debounceRescan()
	}
}

// upsert stats the file and records it, keeping the existing ID when the
// name is already cataloged. A failed stat usually means the file went
// away between the event and now; the rescan will reconcile.
func (c *Catalog) upsert(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	name := filepath.Base(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[name]
	if !ok {
		f = File{ID: uuid.New(), Name: name, Path: path}
	}
	f.Size = info.Size()
	f.ModTime = info.ModTime()
	c.files[name] = f
}

func (c *Catalog) debounceRescan() {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.debounceDelay, func() {
		if err := c.Rescan(); err != nil {
			c.log(comms.LogLevelError, "rescan error=%v", err)
		}
	})
}

func (c *Catalog) matches(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return c.extensions[strings.ToLower(filepath.Ext(name))]
}

func (c *Catalog) log(level comms.LogLevel, format string, args ...any) {
	if level < c.logLevel {
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
	c.logger.Printf("%s %s spool: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
