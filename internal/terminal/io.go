package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/mux"
	"github.com/timvw/pane-conductor/internal/wait"
)

// Lookup returns the registry record for id without probing its status.
func (o *Orchestrator) Lookup(ctx context.Context, id string) (model.Terminal, error) {
	return o.registry.GetTerminal(ctx, id)
}

// SendInput types text into the terminal and records the activity.
func (o *Orchestrator) SendInput(ctx context.Context, id, text string) error {
	t, err := o.registry.GetTerminal(ctx, id)
	if err != nil {
		return err
	}
	if err := o.mux.SendKeys(ctx, mux.TargetFor(t), text); err != nil {
		return fmt.Errorf("sending to terminal %s: %w", id, err)
	}
	if err := o.registry.TouchLastActive(ctx, id); err != nil {
		o.logger.Warn("updating last_active", zap.String("terminal_id", id), zap.Error(err))
	}
	o.logger.Info("sent input",
		zap.String("terminal_id", id), zap.String("pane", t.PaneID), zap.Int("bytes", len(text)))
	return nil
}

// GetOutput returns the terminal's captured history, or with OutputLast
// only the agent's final response.
func (o *Orchestrator) GetOutput(ctx context.Context, id string, mode model.OutputMode) (string, error) {
	t, err := o.registry.GetTerminal(ctx, id)
	if err != nil {
		return "", err
	}
	history, err := o.mux.History(ctx, mux.TargetFor(t), o.settings.HistoryLines)
	if err != nil {
		return "", fmt.Errorf("reading terminal %s: %w", id, err)
	}

	switch mode {
	case model.OutputFull, "":
		return history, nil
	case model.OutputLast:
		p, err := o.ProviderFor(t)
		if err != nil {
			return "", err
		}
		return p.ExtractLastMessage(history)
	default:
		return "", fmt.Errorf("unknown output mode %q", mode)
	}
}

// Status classifies the terminal's current output.
func (o *Orchestrator) Status(ctx context.Context, id string) (model.Status, error) {
	t, err := o.registry.GetTerminal(ctx, id)
	if err != nil {
		return "", err
	}
	return o.statusOf(ctx, t)
}

func (o *Orchestrator) statusOf(ctx context.Context, t model.Terminal) (model.Status, error) {
	p, err := o.ProviderFor(t)
	if err != nil {
		return "", err
	}
	history, err := o.mux.History(ctx, mux.TargetFor(t), o.settings.HistoryLines)
	if err != nil {
		return "", fmt.Errorf("reading terminal %s: %w", t.ID, err)
	}
	s := p.Status(history)
	o.metrics.RecordClassification(ctx, string(t.Provider), string(s))
	return s, nil
}

// Get returns the terminal record with its live status.
func (o *Orchestrator) Get(ctx context.Context, id string) (model.Terminal, error) {
	t, err := o.registry.GetTerminal(ctx, id)
	if err != nil {
		return model.Terminal{}, err
	}
	if t.Status, err = o.statusOf(ctx, t); err != nil {
		return model.Terminal{}, err
	}
	return t, nil
}

// List returns the records of a session (all sessions when empty). Status
// is left unset; use Snapshot for live status.
func (o *Orchestrator) List(ctx context.Context, session string) ([]model.Terminal, error) {
	return o.registry.ListTerminals(ctx, session)
}

// Snapshot returns the terminals of a session with their live status,
// probing up to Settings.Parallel terminals at once. A terminal that
// cannot be probed is reported with StatusError.
func (o *Orchestrator) Snapshot(ctx context.Context, session string) ([]model.Terminal, error) {
	ctx, span := tracer.Start(ctx, "terminal.snapshot",
		trace.WithAttributes(attribute.String("session", session)))
	defer span.End()

	terms, err := o.registry.ListTerminals(ctx, session)
	if err != nil {
		return nil, spanError(span, err)
	}
	if len(terms) == 0 {
		return terms, nil
	}

	parallel := o.settings.Parallel
	if parallel > len(terms) {
		parallel = len(terms)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, parallel)
	for i := range terms {
		wg.Add(1)
		go func(t *model.Terminal) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			s, err := o.statusOf(ctx, *t)
			if err != nil {
				o.logger.Warn("probing terminal", zap.String("terminal_id", t.ID), zap.Error(err))
				s = model.StatusError
			}
			t.Status = s
		}(&terms[i])
	}
	wg.Wait()

	counts := make(map[model.Status]int)
	for _, t := range terms {
		counts[t.Status]++
	}
	span.SetAttributes(
		attribute.Int("terminals.total", len(terms)),
		attribute.Int("terminals.idle", counts[model.StatusIdle]),
		attribute.Int("terminals.processing", counts[model.StatusProcessing]),
		attribute.Int("terminals.error", counts[model.StatusError]),
	)
	return terms, nil
}

// WaitForReady waits until the terminal is idle. It reports false on
// timeout and an error only when the terminal does not exist.
func (o *Orchestrator) WaitForReady(ctx context.Context, id string, timeout, interval time.Duration) (bool, error) {
	t, err := o.registry.GetTerminal(ctx, id)
	if err != nil {
		return false, err
	}
	return wait.UntilStatus(ctx, o.probe(t), model.StatusIdle, o.timeoutOr(timeout), o.intervalOr(interval)), nil
}

// WaitForStatus waits until the terminal reports target. Lookup and probe
// failures count as "not yet".
func (o *Orchestrator) WaitForStatus(ctx context.Context, id string, target model.Status, timeout, interval time.Duration) bool {
	return wait.UntilStatus(ctx, func(ctx context.Context) (model.Status, error) {
		return o.Status(ctx, id)
	}, target, o.timeoutOr(timeout), o.intervalOr(interval))
}

// ExitTerminal asks the agent CLI to quit by typing its exit command.
func (o *Orchestrator) ExitTerminal(ctx context.Context, id string) error {
	t, err := o.registry.GetTerminal(ctx, id)
	if err != nil {
		return err
	}
	p, err := o.ProviderFor(t)
	if err != nil {
		return err
	}
	return o.SendInput(ctx, id, p.ExitCommand())
}

func (o *Orchestrator) timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return o.settings.ReadyTimeout
}

func (o *Orchestrator) intervalOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return o.settings.PollInterval
}
