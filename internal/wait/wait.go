// Package wait polls a condition until it holds or a deadline passes.
package wait

import (
	"context"
	"time"

	"github.com/timvw/pane-conductor/internal/model"
)

// DefaultInterval is used when a non-positive polling interval is given.
const DefaultInterval = 500 * time.Millisecond

// Condition reports whether the awaited state has been reached. An error
// counts as "not yet".
type Condition func(ctx context.Context) (bool, error)

// StatusFunc probes the current status of a terminal.
type StatusFunc func(ctx context.Context) (model.Status, error)

// Until evaluates cond immediately and then every interval until it returns
// true, the timeout elapses, or ctx is done. It reports whether cond held.
func Until(ctx context.Context, cond Condition, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ok, err := cond(ctx); err == nil && ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// UntilStatus waits until probe reports target.
func UntilStatus(ctx context.Context, probe StatusFunc, target model.Status, timeout, interval time.Duration) bool {
	return Until(ctx, func(ctx context.Context) (bool, error) {
		s, err := probe(ctx)
		if err != nil {
			return false, err
		}
		return s == target, nil
	}, timeout, interval)
}
