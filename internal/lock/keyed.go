// Package lock provides keyed mutual exclusion that holds both inside one
// process and across processes sharing a lock directory.
//
// Lock files are stored at <dir>/<key>.lock and held with flock(2), so a
// crashed holder releases its lock when the kernel closes the descriptor.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultRetry is how often a contended file lock is retried.
const DefaultRetry = 50 * time.Millisecond

// Keyed serializes callers per key.
type Keyed struct {
	dir   string
	retry time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyed creates a keyed lock. An empty dir disables the cross-process
// file lock and keeps only in-process exclusion.
func NewKeyed(dir string) *Keyed {
	return &Keyed{
		dir:   dir,
		retry: DefaultRetry,
		slots: make(map[string]chan struct{}),
	}
}

// Lock blocks until key is held or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	slot := k.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %q: %w", key, ctx.Err())
	}
	release := func() { <-slot }

	if k.dir == "" {
		return release, nil
	}

	if err := os.MkdirAll(k.dir, 0o755); err != nil {
		release()
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	fl := flock.New(k.Path(key))
	ok, err := fl.TryLockContext(ctx, k.retry)
	if err != nil {
		release()
		return nil, fmt.Errorf("lock %q: %w", key, err)
	}
	if !ok {
		release()
		return nil, fmt.Errorf("lock %q: not acquired", key)
	}

	return func() {
		_ = fl.Unlock()
		release()
	}, nil
}

// Path returns the lock file used for key.
func (k *Keyed) Path(key string) string {
	return filepath.Join(k.dir, sanitize(key)+".lock")
}

func (k *Keyed) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		k.slots[key] = s
	}
	return s
}

// sanitize maps a key (pane ids like "%3", "session:window") to a safe
// file name.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
}
