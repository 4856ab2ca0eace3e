package comms

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pborman/uuid"
)

const defaultProgressInterval = time.Second

// jobWorker is the single worker streaming a file into commands with
// backpressure. It reads lines, hands each to Listener.OnFileLineRead and
// enqueues the resulting commands in file order. Once the per-burst read
// budget is exhausted it blocks until read(count) grants a new one,
// bounding queue growth relative to how fast commands drain. Progress
// (fraction of bytes consumed, plus offset) is reported at least once per
// progress interval.
type jobWorker struct {
	id       string
	filename string
	comms    *CommandsComms
	listener Listener
	log      engineLogger

	policy           LineErrorPolicy
	progressInterval time.Duration

	fileMu   sync.Mutex
	file     *os.File
	reader   *bufio.Reader
	fileSize int64
	filePos  atomic.Int64

	readEvent   *event
	maxCommands atomic.Int64

	stopped    atomic.Bool
	done       chan struct{}
	lastReport time.Time
}

func newJobWorker(filename string, comms *CommandsComms, listener Listener, log engineLogger, policy LineErrorPolicy, progressInterval time.Duration) *jobWorker {
	if policy == "" {
		policy = LineErrorContinue
	}
	if progressInterval <= 0 {
		progressInterval = defaultProgressInterval
	}
	return &jobWorker{
		id:               uuid.New(),
		filename:         filename,
		comms:            comms,
		listener:         listener,
		log:              log.named("job"),
		policy:           policy,
		progressInterval: progressInterval,
		readEvent:        newEvent(),
		done:             make(chan struct{}),
	}
}

// start opens the file and launches the worker. The worker idles until
// the first read(count) grants a budget.
func (w *jobWorker) start() error {
	f, err := os.Open(w.filename)
	if err != nil {
		return fmt.Errorf("open job file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat job file: %w", err)
	}

	w.fileMu.Lock()
	w.file = f
	w.reader = bufio.NewReader(f)
	w.fileSize = st.Size()
	w.fileMu.Unlock()

	w.readEvent.Clear()
	w.listener.OnPrintJobProgress(0.0, 0)
	w.lastReport = time.Now()

	w.log.logf(LogLevelInfo, "job_started id=%s file=%s size=%d", w.id, w.filename, st.Size())
	go w.run()
	return nil
}

func (w *jobWorker) run() {
	defer close(w.done)

	for !w.stopped.Load() {
		w.maybeReportProgress()
		w.readEvent.Wait()

		added := int64(0)
		for !w.stopped.Load() {
			w.maybeReportProgress()

			line, eof := w.readLine()
			if eof {
				if w.stopped.Load() {
					break // stopped externally mid-read
				}
				w.reportProgress()
				w.stop()
				w.comms.onEndOfFile()
				break
			}

			commands, err := w.translateLine(line)
			if err != nil {
				w.log.logf(LogLevelError, "job_line_error id=%s err=%v", w.id, err)
				w.listener.OnJobError(JobErrorProcessingLine, err.Error())
				if w.policy == LineErrorAbort {
					w.log.logf(LogLevelWarn, "job_aborted id=%s", w.id)
					w.listener.OnJobError(JobErrorAborted, w.filename)
					w.comms.abortJob()
					break
				}
				continue
			}

			if commands == nil {
				continue // line ignored
			}

			w.comms.QueueCommands(commands, false)
			added += int64(len(commands))
			if added >= w.maxCommands.Load() {
				w.readEvent.Clear()
				break
			}
		}
	}
}

// readLine returns the next line including its terminator, or eof=true
// once the file is exhausted or was closed by stop.
func (w *jobWorker) readLine() (string, bool) {
	w.fileMu.Lock()
	reader := w.reader
	w.fileMu.Unlock()
	if reader == nil {
		return "", true
	}

	line, err := reader.ReadString('\n')
	if len(line) > 0 {
		w.filePos.Add(int64(len(line)))
		return line, false
	}
	if err != nil && err != io.EOF {
		w.log.logf(LogLevelError, "job_read_error id=%s err=%v", w.id, err)
	}
	return "", true
}

// translateLine runs the listener's translation with a panic boundary so
// one malformed line cannot unwind the worker loop.
func (w *jobWorker) translateLine(line string) (commands []Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			commands = nil
			err = fmt.Errorf("translate line %q: %v", line, r)
		}
	}()
	return w.listener.OnFileLineRead(line), nil
}

func (w *jobWorker) maybeReportProgress() {
	if time.Since(w.lastReport) >= w.progressInterval {
		w.reportProgress()
	}
}

func (w *jobWorker) reportProgress() {
	pos := w.filePos.Load()
	w.listener.OnPrintJobProgress(w.progressFraction(pos), pos)
	w.lastReport = time.Now()
}

func (w *jobWorker) progressFraction(pos int64) float64 {
	w.fileMu.Lock()
	size := w.fileSize
	w.fileMu.Unlock()
	if size <= 0 {
		return 1.0
	}
	return float64(pos) / float64(size)
}

// read grants a new per-burst budget and unblocks the worker.
func (w *jobWorker) read(count int) {
	w.maxCommands.Store(int64(count))
	w.readEvent.Set()
}

// stop closes the file and unblocks the worker immediately, even
// mid-wait. Idempotent.
func (w *jobWorker) stop() {
	if !w.stopped.CompareAndSwap(false, true) {
		return
	}
	w.fileMu.Lock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
		w.reader = nil
	}
	w.fileMu.Unlock()
	w.readEvent.Set()
	w.log.logf(LogLevelInfo, "job_stopped id=%s pos=%d", w.id, w.filePos.Load())
}
