package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/provider"
)

const (
	// DefaultDebounce collapses bursts of writes to one log.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultPollInterval is the cadence of the mtime rescan.
	DefaultPollInterval = 5 * time.Second
	// DefaultWorkers bounds concurrent delivery checks.
	DefaultWorkers = 4
	// tailBytes is how much of a log the idle pre-filter reads.
	tailBytes = 4096
)

// Watcher triggers deliveries when a terminal's log changes. It listens to
// fsnotify events on the log directory and also rescans log mtimes on a
// fixed cadence, since pipe-pane appends are not always reported.
//
// Delivery checks run on a bounded pool so a slow chunked send to one
// terminal does not hold up events for the others. At most one check per
// terminal is in flight; per-receiver ordering is kept by the queue's lock.
type Watcher struct {
	queue    *Queue
	dir      string
	debounce time.Duration
	poll     time.Duration
	workers  int
	logger   *zap.Logger

	// pending maps terminal ids to the time of their last change. Only the
	// Run goroutine touches it.
	pending map[string]time.Time

	mu       sync.Mutex
	mtimes   map[string]time.Time
	inflight map[string]bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long a log must be quiet before it is checked.
func WithDebounce(d time.Duration) WatcherOption { return func(w *Watcher) { w.debounce = d } }

// WithPollInterval sets the mtime rescan cadence.
func WithPollInterval(d time.Duration) WatcherOption { return func(w *Watcher) { w.poll = d } }

// WithWorkers sets how many delivery checks may run at once.
func WithWorkers(n int) WatcherOption { return func(w *Watcher) { w.workers = n } }

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption { return func(w *Watcher) { w.logger = l } }

// NewWatcher creates a watcher over the log directory dir.
func NewWatcher(q *Queue, dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		queue:    q,
		dir:      dir,
		debounce: DefaultDebounce,
		poll:     DefaultPollInterval,
		workers:  DefaultWorkers,
		logger:   zap.NewNop(),
		pending:  make(map[string]time.Time),
		mtimes:   make(map[string]time.Time),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.poll <= 0 {
		w.poll = DefaultPollInterval
	}
	if w.workers <= 0 {
		w.workers = DefaultWorkers
	}
	return w
}

// Run watches until ctx is done. It returns nil on cancellation and an
// error only when the watch cannot be set up.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching terminal logs", zap.String("dir", w.dir), zap.Duration("poll", w.poll))

	var checks errgroup.Group
	checks.SetLimit(w.workers)
	defer checks.Wait()

	// Logs written while nothing was watching get one check at startup.
	w.rescan(time.Now())

	tick := w.debounce / 5
	if tick <= 0 {
		tick = time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()
	pollTicker := time.NewTicker(w.poll)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if id, ok := terminalID(event.Name); ok {
				w.pending[id] = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case now := <-debounceTicker.C:
			for id, at := range w.pending {
				if now.Sub(at) < w.debounce {
					continue
				}
				if w.dispatch(ctx, &checks, id) {
					delete(w.pending, id)
				}
			}

		case now := <-pollTicker.C:
			w.rescan(now)
		}
	}
}

// dispatch starts a check for id on the pool. It reports false when id is
// already being checked or the pool is full; the caller keeps id pending
// and retries on a later tick.
func (w *Watcher) dispatch(ctx context.Context, checks *errgroup.Group, id string) bool {
	w.mu.Lock()
	if w.inflight[id] {
		w.mu.Unlock()
		return false
	}
	w.inflight[id] = true
	w.mu.Unlock()

	started := checks.TryGo(func() error {
		defer w.release(id)
		w.check(ctx, id)
		return nil
	})
	if !started {
		w.release(id)
	}
	return started
}

func (w *Watcher) release(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

// rescan marks every log that is new or whose mtime moved since the
// previous scan.
func (w *Watcher) rescan(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scanning log dir", zap.Error(err))
		return
	}
	for _, e := range entries {
		id, ok := terminalID(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		w.mu.Lock()
		prev, seen := w.mtimes[id]
		w.mtimes[id] = info.ModTime()
		w.mu.Unlock()
		if !seen || info.ModTime().After(prev) {
			if _, queued := w.pending[id]; !queued {
				// Already quiet for a full poll interval.
				w.pending[id] = now.Add(-w.debounce)
			}
		}
	}
}

// check runs one delivery attempt for id if it has pending messages and
// its log ends at an idle prompt.
func (w *Watcher) check(ctx context.Context, id string) {
	log := w.logger.With(zap.String("terminal_id", id))

	t, err := w.queue.terminals.Lookup(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		log.Debug("log of unknown terminal")
		w.mu.Lock()
		delete(w.mtimes, id)
		w.mu.Unlock()
		return
	}
	if err != nil {
		log.Warn("looking up terminal", zap.Error(err))
		return
	}

	has, err := w.queue.messages.HasPending(ctx, id)
	if err != nil {
		log.Warn("checking pending messages", zap.Error(err))
		return
	}
	if !has {
		return
	}

	p, err := w.queue.terminals.ProviderFor(t)
	if err != nil {
		log.Warn("resolving provider", zap.Error(err))
		return
	}
	tail, err := readTail(filepath.Join(w.dir, id+".log"), tailBytes)
	if err != nil {
		log.Warn("reading log tail", zap.Error(err))
		return
	}
	if !p.IdlePatternForLogs().MatchString(provider.StripANSI(tail)) {
		return
	}

	if _, err := w.queue.CheckAndDeliver(ctx, id); err != nil {
		log.Warn("delivery attempt failed", zap.Error(err))
	}
}

func terminalID(path string) (string, bool) {
	id, ok := strings.CutSuffix(filepath.Base(path), ".log")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func readTail(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if off := info.Size() - n; off > 0 {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return "", err
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
