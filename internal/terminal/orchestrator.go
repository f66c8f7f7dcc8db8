// Package terminal creates, drives and tears down agent terminals.
//
// A terminal is one agent CLI running in a tmux window (or a pane of a
// shared window) plus its registry record. The Orchestrator is the only
// component that mutates both: every operation resolves the record, acts
// on the multiplexer, and keeps the registry consistent with what exists.
// Status is never stored; it is recomputed from captured output on each
// read.
package terminal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/mux"
	pcotel "github.com/timvw/pane-conductor/internal/otel"
	"github.com/timvw/pane-conductor/internal/provider"
	"github.com/timvw/pane-conductor/internal/wait"
)

var tracer = otel.Tracer("pane-conductor/terminal")

// Registry persists terminal records. *store.Store implements it.
type Registry interface {
	PutTerminal(ctx context.Context, t model.Terminal) error
	GetTerminal(ctx context.Context, id string) (model.Terminal, error)
	DeleteTerminal(ctx context.Context, id string) (bool, error)
	ListTerminals(ctx context.Context, session string) ([]model.Terminal, error)
	TouchLastActive(ctx context.Context, id string) error
}

// MessagePruner drops delivered inbox messages. *store.Store implements it.
type MessagePruner interface {
	PruneDelivered(ctx context.Context, before time.Time) (int64, error)
}

// Settings tunes the orchestrator.
type Settings struct {
	LogDir        string
	SessionPrefix string
	HistoryLines  int
	ReadyTimeout  time.Duration
	PollInterval  time.Duration
	Parallel      int

	// HandoffSettle is the pause between a handoff target becoming idle
	// and the message being typed.
	HandoffSettle time.Duration
	// HandoffPoll is the completion polling interval during a handoff.
	HandoffPoll time.Duration
}

// DefaultSettings returns the stock settings.
func DefaultSettings() Settings {
	return Settings{
		LogDir:        filepath.Join(os.TempDir(), "pane-conductor", "logs"),
		SessionPrefix: "conductor-",
		HistoryLines:  mux.DefaultHistoryLines,
		ReadyTimeout:  30 * time.Second,
		PollInterval:  500 * time.Millisecond,
		Parallel:      8,
		HandoffSettle: 2 * time.Second,
		HandoffPoll:   time.Second,
	}
}

// Orchestrator owns terminal lifecycles.
type Orchestrator struct {
	mux       mux.Multiplexer
	registry  Registry
	providers *provider.Registry
	messages  MessagePruner
	settings  Settings

	logger    *zap.Logger
	metrics   *pcotel.Metrics
	instances *instanceCache

	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithMetrics sets the metric counters.
func WithMetrics(m *pcotel.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithMessages enables pruning of delivered inbox messages.
func WithMessages(p MessagePruner) Option { return func(o *Orchestrator) { o.messages = p } }

// WithSleep replaces the handoff settle pause (tests use a no-op).
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = f }
}

// WithIDGenerator replaces the terminal id generator.
func WithIDGenerator(f func() string) Option { return func(o *Orchestrator) { o.newID = f } }

// New creates an orchestrator. Zero settings fields take their defaults.
func New(m mux.Multiplexer, reg Registry, providers *provider.Registry, settings Settings, opts ...Option) *Orchestrator {
	def := DefaultSettings()
	if settings.LogDir == "" {
		settings.LogDir = def.LogDir
	}
	if settings.SessionPrefix == "" {
		settings.SessionPrefix = def.SessionPrefix
	}
	if settings.HistoryLines <= 0 {
		settings.HistoryLines = def.HistoryLines
	}
	if settings.ReadyTimeout <= 0 {
		settings.ReadyTimeout = def.ReadyTimeout
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = def.PollInterval
	}
	if settings.Parallel <= 0 {
		settings.Parallel = def.Parallel
	}
	if settings.HandoffPoll <= 0 {
		settings.HandoffPoll = def.HandoffPoll
	}
	if settings.HandoffSettle < 0 {
		settings.HandoffSettle = 0
	}

	o := &Orchestrator{
		mux:       m,
		registry:  reg,
		providers: providers,
		settings:  settings,
		logger:    zap.NewNop(),
		instances: newInstanceCache(),
		newID:     newTerminalID,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Settings returns the effective settings.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// LogPath returns the pipe-pane log file of a terminal.
func (o *Orchestrator) LogPath(id string) string {
	return filepath.Join(o.settings.LogDir, id+".log")
}

// CreateRequest describes a terminal that owns a whole window.
type CreateRequest struct {
	Provider model.ProviderType
	Profile  string
	// Session is the target session. Empty generates a name.
	Session string
	// NewSession creates Session instead of adding a window to it.
	NewSession   bool
	Cwd          string
	WaitForReady bool
}

// CreateTerminal starts an agent CLI in a new window (and, with
// NewSession, a new session). On failure after a session was created, the
// session is killed and the record written by this call is erased.
func (o *Orchestrator) CreateTerminal(ctx context.Context, req CreateRequest) (model.Terminal, error) {
	ctx, span := tracer.Start(ctx, "terminal.create", trace.WithAttributes(
		attribute.String("provider", string(req.Provider)),
		attribute.String("agent_profile", req.Profile),
		attribute.Bool("new_session", req.NewSession),
	))
	defer span.End()

	p, err := o.providers.New(req.Provider, req.Profile)
	if err != nil {
		return model.Terminal{}, spanError(span, err)
	}

	id := o.newID()
	session := req.Session
	if session == "" {
		session = newSessionName(o.settings.SessionPrefix)
	}
	window := newWindowName(req.Profile)

	if req.NewSession && !strings.HasPrefix(session, o.settings.SessionPrefix) {
		session = o.settings.SessionPrefix + session
	}
	exists, err := o.mux.SessionExists(ctx, session)
	if err != nil {
		return model.Terminal{}, spanError(span, err)
	}

	freshSession := false
	if req.NewSession {
		if exists {
			return model.Terminal{}, spanError(span, fmt.Errorf("session %q: %w", session, model.ErrAlreadyExists))
		}
		if window, err = o.mux.CreateSession(ctx, session, window, id, req.Cwd); err != nil {
			return model.Terminal{}, spanError(span, err)
		}
		freshSession = true
	} else {
		if !exists {
			return model.Terminal{}, spanError(span, fmt.Errorf("session %q: %w", session, model.ErrNotFound))
		}
		if window, err = o.mux.CreateWindow(ctx, session, window, id, req.Cwd); err != nil {
			return model.Terminal{}, spanError(span, err)
		}
	}
	span.SetAttributes(attribute.String("terminal.id", id), attribute.String("session", session))

	now := o.now()
	t := model.Terminal{
		ID:           id,
		Provider:     req.Provider,
		AgentProfile: req.Profile,
		Session:      session,
		Window:       window,
		Cwd:          req.Cwd,
		CreatedAt:    now,
		LastActive:   now,
	}

	stored := false
	rollback := func(cause error) (model.Terminal, error) {
		o.logger.Error("create terminal failed, rolling back",
			zap.String("terminal_id", id), zap.String("session", session), zap.Error(cause))
		if freshSession {
			if err := o.mux.KillSession(context.WithoutCancel(ctx), session); err != nil {
				o.logger.Warn("rollback: kill session", zap.String("session", session), zap.Error(err))
			}
		}
		o.forget(context.WithoutCancel(ctx), id, stored)
		return model.Terminal{}, spanError(span, cause)
	}

	if err := o.registry.PutTerminal(ctx, t); err != nil {
		return rollback(err)
	}
	stored = true
	o.instances.Store(id, p)

	if err := o.start(ctx, t, p, req.WaitForReady); err != nil {
		return rollback(err)
	}

	t.Status = model.StatusProcessing
	if req.WaitForReady {
		t.Status = model.StatusIdle
	}
	o.metrics.RecordTerminalCreated(ctx, string(t.Provider), false)
	o.logger.Info("created terminal",
		zap.String("terminal_id", id), zap.String("session", session), zap.String("window", window),
		zap.String("provider", string(t.Provider)), zap.Bool("new_session", req.NewSession),
		zap.Bool("wait_for_ready", req.WaitForReady))
	return t, nil
}

// PaneRequest describes a terminal created by splitting a pane.
type PaneRequest struct {
	Provider model.ProviderType
	Profile  string
	Session  string
	Window   string
	// TargetPane is split; empty splits the window's active pane.
	TargetPane string
	// Vertical places the new pane side by side with the target.
	Vertical     bool
	SizePct      int
	Cwd          string
	WaitForReady bool
}

// CreateTerminalAsPane starts an agent CLI in a new pane of an existing
// window and returns the terminal and its pane id.
func (o *Orchestrator) CreateTerminalAsPane(ctx context.Context, req PaneRequest) (model.Terminal, string, error) {
	ctx, span := tracer.Start(ctx, "terminal.create_pane", trace.WithAttributes(
		attribute.String("provider", string(req.Provider)),
		attribute.String("agent_profile", req.Profile),
		attribute.String("session", req.Session),
		attribute.String("window", req.Window),
	))
	defer span.End()

	p, err := o.providers.New(req.Provider, req.Profile)
	if err != nil {
		return model.Terminal{}, "", spanError(span, err)
	}

	exists, err := o.mux.SessionExists(ctx, req.Session)
	if err != nil {
		return model.Terminal{}, "", spanError(span, err)
	}
	if !exists {
		return model.Terminal{}, "", spanError(span, fmt.Errorf("session %q: %w", req.Session, model.ErrNotFound))
	}

	id := o.newID()
	paneID, err := o.mux.CreatePane(ctx, req.Session, req.Window, id, mux.SplitOptions{
		Vertical:   req.Vertical,
		TargetPane: req.TargetPane,
		SizePct:    req.SizePct,
		Cwd:        req.Cwd,
	})
	if err != nil {
		return model.Terminal{}, "", spanError(span, err)
	}

	now := o.now()
	t := model.Terminal{
		ID:           id,
		Provider:     req.Provider,
		AgentProfile: req.Profile,
		Session:      req.Session,
		Window:       req.Window,
		PaneID:       paneID,
		Cwd:          req.Cwd,
		CreatedAt:    now,
		LastActive:   now,
	}
	span.SetAttributes(attribute.String("terminal.id", id), attribute.String("pane", paneID))

	if err := o.mux.SetPaneTitle(ctx, mux.TargetFor(t), req.Profile); err != nil {
		return model.Terminal{}, "", spanError(span, err)
	}

	if err := o.registry.PutTerminal(ctx, t); err != nil {
		return model.Terminal{}, "", spanError(span, err)
	}
	o.instances.Store(id, p)

	if err := o.start(ctx, t, p, req.WaitForReady); err != nil {
		o.logger.Error("create pane terminal failed, erasing record",
			zap.String("terminal_id", id), zap.String("pane", paneID), zap.Error(err))
		o.forget(context.WithoutCancel(ctx), id, true)
		return model.Terminal{}, "", spanError(span, err)
	}

	t.Status = model.StatusProcessing
	if req.WaitForReady {
		t.Status = model.StatusIdle
	}
	o.metrics.RecordTerminalCreated(ctx, string(t.Provider), true)
	o.logger.Info("created pane terminal",
		zap.String("terminal_id", id), zap.String("session", req.Session), zap.String("window", req.Window),
		zap.String("pane", paneID), zap.String("provider", string(t.Provider)))
	return t, paneID, nil
}

// ApplyTeamLayout puts the supervisor pane on top (40% height) with the
// other panes spread below, and shows pane titles in the borders. It can
// be applied repeatedly.
func (o *Orchestrator) ApplyTeamLayout(ctx context.Context, session, window, supervisorPane, supervisorProfile string) error {
	exists, err := o.mux.SessionExists(ctx, session)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("session %q: %w", session, model.ErrNotFound)
	}

	if err := o.mux.SetWindowOption(ctx, session, window, "main-pane-height", "40%"); err != nil {
		return err
	}
	if err := o.mux.SelectLayout(ctx, session, window, "main-horizontal"); err != nil {
		return err
	}
	if err := o.mux.EnablePaneBorders(ctx, session, window); err != nil {
		return err
	}
	if supervisorPane != "" && supervisorProfile != "" {
		tgt := mux.Target{Session: session, Window: window, Pane: supervisorPane}
		if err := o.mux.SetPaneTitle(ctx, tgt, supervisorProfile); err != nil {
			return err
		}
	}
	o.logger.Info("applied team layout", zap.String("session", session), zap.String("window", window))
	return nil
}

// start launches the provider, optionally waits for it to idle, then
// mirrors the terminal output into its log file.
func (o *Orchestrator) start(ctx context.Context, t model.Terminal, p provider.Provider, waitReady bool) error {
	if err := p.Initialize(ctx, o.console(t)); err != nil {
		return err
	}

	if waitReady {
		ready := wait.UntilStatus(ctx, o.probe(t), model.StatusIdle, o.settings.ReadyTimeout, o.settings.PollInterval)
		if !ready {
			return fmt.Errorf("%s did not become ready within %s: %w", t.Provider, o.settings.ReadyTimeout, model.ErrTimeout)
		}
	}

	if err := os.MkdirAll(o.settings.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	logPath := o.LogPath(t.ID)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("creating terminal log: %w", err)
	}
	f.Close()

	return o.mux.PipePane(ctx, mux.TargetFor(t), logPath)
}

// forget drops the provider instance and, when stored, the registry record.
func (o *Orchestrator) forget(ctx context.Context, id string, stored bool) {
	if p, ok := o.instances.Delete(id); ok {
		p.Cleanup()
	}
	if !stored {
		return
	}
	if _, err := o.registry.DeleteTerminal(ctx, id); err != nil {
		o.logger.Warn("erasing terminal record", zap.String("terminal_id", id), zap.Error(err))
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
