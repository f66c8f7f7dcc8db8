package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/mux"
)

// DeleteTerminal stops mirroring the terminal's output, releases its
// provider and erases its record. It reports whether a record existed.
// The tmux window itself is left alone.
func (o *Orchestrator) DeleteTerminal(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "terminal.delete",
		trace.WithAttributes(attribute.String("terminal.id", id)))
	defer span.End()

	t, err := o.registry.GetTerminal(ctx, id)
	switch {
	case err == nil:
		if err := o.mux.StopPipePane(ctx, mux.TargetFor(t)); err != nil {
			o.logger.Warn("stopping pipe-pane", zap.String("terminal_id", id), zap.Error(err))
		}
	case errors.Is(err, model.ErrNotFound):
	default:
		return false, spanError(span, err)
	}

	if p, ok := o.instances.Delete(id); ok {
		p.Cleanup()
	}

	deleted, err := o.registry.DeleteTerminal(ctx, id)
	if err != nil {
		return false, spanError(span, err)
	}
	if deleted {
		o.metrics.RecordTerminalDeleted(ctx)
	}
	span.SetAttributes(attribute.Bool("deleted", deleted))
	o.logger.Info("deleted terminal", zap.String("terminal_id", id), zap.Bool("existed", deleted))
	return deleted, nil
}

// DeleteSession deletes every terminal of a session and kills it. A
// session that is already gone is not an error.
func (o *Orchestrator) DeleteSession(ctx context.Context, session string) error {
	terms, err := o.registry.ListTerminals(ctx, session)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range terms {
		if _, err := o.DeleteTerminal(ctx, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("terminal %s: %w", t.ID, err))
		}
	}
	if err := o.mux.KillSession(ctx, session); err != nil && !errors.Is(err, model.ErrNotFound) {
		errs = append(errs, err)
	}
	o.logger.Info("deleted session", zap.String("session", session), zap.Int("terminals", len(terms)))
	return errors.Join(errs...)
}

// Sessions lists the live sessions carrying the conductor prefix.
func (o *Orchestrator) Sessions(ctx context.Context) ([]model.Session, error) {
	all, err := o.mux.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Session
	for _, s := range all {
		if strings.HasPrefix(s.Name, o.settings.SessionPrefix) {
			out = append(out, s)
		}
	}
	return out, nil
}

// PruneResult counts what Prune removed.
type PruneResult struct {
	Terminals int   `json:"terminals"`
	Messages  int64 `json:"messages"`
	LogFiles  int   `json:"log_files"`
}

// Prune removes records whose session is gone, delivered inbox messages
// older than retention, and log files of unknown terminals untouched for
// longer than retention.
func (o *Orchestrator) Prune(ctx context.Context, retention time.Duration) (PruneResult, error) {
	var res PruneResult

	terms, err := o.registry.ListTerminals(ctx, "")
	if err != nil {
		return res, err
	}
	live := make(map[string]bool)
	known := make(map[string]bool)
	for _, t := range terms {
		alive, ok := live[t.Session]
		if !ok {
			if alive, err = o.mux.SessionExists(ctx, t.Session); err != nil {
				return res, err
			}
			live[t.Session] = alive
		}
		if alive {
			known[t.ID] = true
			continue
		}
		if _, err := o.DeleteTerminal(ctx, t.ID); err != nil {
			o.logger.Warn("pruning terminal", zap.String("terminal_id", t.ID), zap.Error(err))
			known[t.ID] = true
			continue
		}
		res.Terminals++
	}

	cutoff := o.now().Add(-retention)
	if o.messages != nil {
		n, err := o.messages.PruneDelivered(ctx, cutoff)
		if err != nil {
			return res, err
		}
		res.Messages = n
	}

	entries, err := os.ReadDir(o.settings.LogDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return res, fmt.Errorf("reading log dir: %w", err)
	}
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".log")
		if !ok || e.IsDir() || known[id] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(o.settings.LogDir, e.Name())); err != nil {
			o.logger.Warn("removing stale log", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		res.LogFiles++
	}

	if res != (PruneResult{}) {
		o.logger.Info("pruned",
			zap.Int("terminals", res.Terminals), zap.Int64("messages", res.Messages), zap.Int("log_files", res.LogFiles))
	}
	return res, nil
}
