package terminal

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/wait"
)

var (
	// ErrReadyTimeout means a handoff target never reached the idle prompt.
	ErrReadyTimeout = fmt.Errorf("terminal not ready: %w", model.ErrTimeout)
	// ErrCompletionTimeout means a handoff target did not finish in time.
	ErrCompletionTimeout = fmt.Errorf("terminal did not complete: %w", model.ErrTimeout)
)

// DefaultHandoffTimeout bounds how long a handoff waits for completion.
const DefaultHandoffTimeout = 10 * time.Minute

// HandoffRequest starts an agent, gives it one task and collects the answer.
type HandoffRequest struct {
	Provider model.ProviderType
	Profile  string
	Message  string
	// Session receives the new window. Empty starts a new session.
	Session string
	Cwd     string
	Timeout time.Duration
}

// HandoffResult is the outcome of a completed handoff.
type HandoffResult struct {
	Terminal model.Terminal `json:"terminal"`
	Output   string         `json:"output"`
}

// Handoff creates a terminal, waits for it to idle, sends the message,
// waits for completion, extracts the last response and asks the CLI to
// exit. The terminal record is left in place for inspection.
func (o *Orchestrator) Handoff(ctx context.Context, req HandoffRequest) (HandoffResult, error) {
	ctx, span := tracer.Start(ctx, "handoff", trace.WithAttributes(
		attribute.String("provider", string(req.Provider)),
		attribute.String("agent_profile", req.Profile),
	))
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultHandoffTimeout
	}

	t, err := o.CreateTerminal(ctx, CreateRequest{
		Provider:   req.Provider,
		Profile:    req.Profile,
		Session:    req.Session,
		NewSession: req.Session == "",
		Cwd:        req.Cwd,
	})
	if err != nil {
		o.metrics.RecordHandoff(ctx, "create_failed")
		return HandoffResult{}, spanError(span, fmt.Errorf("handoff: %w", err))
	}
	span.SetAttributes(attribute.String("terminal.id", t.ID))
	log := o.logger.With(zap.String("terminal_id", t.ID), zap.String("agent_profile", req.Profile))

	if !wait.UntilStatus(ctx, o.probe(t), model.StatusIdle, o.settings.ReadyTimeout, o.settings.PollInterval) {
		o.metrics.RecordHandoff(ctx, "ready_timeout")
		return HandoffResult{Terminal: t}, spanError(span,
			fmt.Errorf("handoff to %s after %s: %w", t.ID, o.settings.ReadyTimeout, ErrReadyTimeout))
	}
	if err := o.sleep(ctx, o.settings.HandoffSettle); err != nil {
		return HandoffResult{Terminal: t}, spanError(span, err)
	}

	if err := o.SendInput(ctx, t.ID, req.Message); err != nil {
		o.metrics.RecordHandoff(ctx, "send_failed")
		return HandoffResult{Terminal: t}, spanError(span, fmt.Errorf("handoff: %w", err))
	}
	log.Info("handoff message sent", zap.Duration("timeout", timeout))

	if !wait.UntilStatus(ctx, o.probe(t), model.StatusCompleted, timeout, o.settings.HandoffPoll) {
		o.metrics.RecordHandoff(ctx, "completion_timeout")
		return HandoffResult{Terminal: t}, spanError(span,
			fmt.Errorf("handoff to %s after %s: %w", t.ID, timeout, ErrCompletionTimeout))
	}

	output, err := o.GetOutput(ctx, t.ID, model.OutputLast)
	if err != nil {
		o.metrics.RecordHandoff(ctx, "extract_failed")
		return HandoffResult{Terminal: t}, spanError(span, fmt.Errorf("handoff: %w", err))
	}

	if err := o.ExitTerminal(ctx, t.ID); err != nil {
		log.Warn("exiting handoff terminal", zap.Error(err))
	}

	o.metrics.RecordHandoff(ctx, "completed")
	log.Info("handoff completed", zap.Int("output_bytes", len(output)))
	t.Status = model.StatusCompleted
	return HandoffResult{Terminal: t, Output: output}, nil
}

// AssignRequest starts an agent and gives it a task without waiting for
// the result.
type AssignRequest struct {
	Provider model.ProviderType
	Profile  string
	Message  string
	Session  string
	Cwd      string
}

// Assign creates a ready terminal and sends it the message immediately.
func (o *Orchestrator) Assign(ctx context.Context, req AssignRequest) (model.Terminal, error) {
	t, err := o.CreateTerminal(ctx, CreateRequest{
		Provider:     req.Provider,
		Profile:      req.Profile,
		Session:      req.Session,
		NewSession:   req.Session == "",
		Cwd:          req.Cwd,
		WaitForReady: true,
	})
	if err != nil {
		return model.Terminal{}, fmt.Errorf("assign: %w", err)
	}
	if err := o.SendInput(ctx, t.ID, req.Message); err != nil {
		return t, fmt.Errorf("assign: %w", err)
	}
	t.Status = model.StatusProcessing
	return t, nil
}
