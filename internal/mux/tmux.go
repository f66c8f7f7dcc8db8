package mux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/lock"
	"github.com/timvw/pane-conductor/internal/model"
)

// TerminalIDEnv is exported into every window and pane the adapter creates
// so the agent process can discover its own terminal id.
const TerminalIDEnv = "PANE_CONDUCTOR_TERMINAL_ID"

const (
	DefaultChunkSize    = 100
	DefaultChunkDelay   = 500 * time.Millisecond
	DefaultHistoryLines = 200
)

// Runner executes a tmux command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs the tmux binary.
type ExecRunner struct {
	Bin string
}

// Run executes tmux with args. Stderr is folded into the returned error.
func (r ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	bin := r.Bin
	if bin == "" {
		bin = "tmux"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

// Tmux implements Multiplexer for tmux.
type Tmux struct {
	runner       Runner
	locks        *lock.Keyed
	sleep        func(ctx context.Context, d time.Duration) error
	chunkSize    int
	chunkDelay   time.Duration
	historyLines int
	logger       *zap.Logger
}

// Option configures a Tmux.
type Option func(*Tmux)

// WithRunner replaces the command runner (tests use a fake).
func WithRunner(r Runner) Option { return func(t *Tmux) { t.runner = r } }

// WithLockDir enables cross-process send locks stored under dir.
func WithLockDir(dir string) Option { return func(t *Tmux) { t.locks = lock.NewKeyed(dir) } }

// WithChunking sets the send chunk size and the delay between chunks.
func WithChunking(size int, delay time.Duration) Option {
	return func(t *Tmux) {
		if size > 0 {
			t.chunkSize = size
		}
		if delay >= 0 {
			t.chunkDelay = delay
		}
	}
}

// WithHistoryLines sets the default number of lines History captures.
func WithHistoryLines(n int) Option {
	return func(t *Tmux) {
		if n > 0 {
			t.historyLines = n
		}
	}
}

// WithSleep replaces the inter-chunk sleep (tests use a no-op).
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tmux) { t.sleep = f }
}

// WithLogger sets the adapter's logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tmux) { t.logger = l } }

// NewTmux creates a tmux adapter.
func NewTmux(opts ...Option) *Tmux {
	t := &Tmux{
		runner:       ExecRunner{},
		locks:        lock.NewKeyed(""),
		sleep:        sleepContext,
		chunkSize:    DefaultChunkSize,
		chunkDelay:   DefaultChunkDelay,
		historyLines: DefaultHistoryLines,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// CreateSession creates a detached session whose first window runs with
// TerminalIDEnv set.
func (t *Tmux) CreateSession(ctx context.Context, session, window, terminalID, cwd string) (string, error) {
	args := []string{"new-session", "-d", "-s", session, "-n", window,
		"-P", "-F", "#{window_name}", "-e", TerminalIDEnv + "=" + terminalID}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	out, err := t.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("tmux new-session -s %s: %w", session, err)
	}
	t.logger.Info("created session",
		zap.String("session", session), zap.String("window", window), zap.String("cwd", cwd))
	return firstLine(out, window), nil
}

// CreateWindow adds a window to session.
func (t *Tmux) CreateWindow(ctx context.Context, session, window, terminalID, cwd string) (string, error) {
	args := []string{"new-window", "-t", "=" + session + ":", "-n", window,
		"-P", "-F", "#{window_name}", "-e", TerminalIDEnv + "=" + terminalID}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	out, err := t.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("tmux new-window -t %s: %w", session, err)
	}
	t.logger.Info("created window",
		zap.String("session", session), zap.String("window", window), zap.String("cwd", cwd))
	return firstLine(out, window), nil
}

// CreatePane splits the target pane (or the window's active pane).
func (t *Tmux) CreatePane(ctx context.Context, session, window, terminalID string, opts SplitOptions) (string, error) {
	target, err := t.resolve(ctx, Target{Session: session, Window: window, Pane: opts.TargetPane})
	if err != nil {
		return "", err
	}

	direction := "-v"
	if opts.Vertical {
		direction = "-h"
	}
	args := []string{"split-window", direction, "-t", target,
		"-P", "-F", "#{pane_id}", "-e", TerminalIDEnv + "=" + terminalID}
	if opts.SizePct > 0 {
		if opts.SizePct >= 100 {
			return "", fmt.Errorf("invalid pane size %d%% (must be 1-99)", opts.SizePct)
		}
		args = append(args, "-l", strconv.Itoa(opts.SizePct)+"%")
	}
	if opts.Cwd != "" {
		args = append(args, "-c", opts.Cwd)
	}

	out, err := t.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("tmux split-window -t %s: %w", target, err)
	}
	paneID := firstLine(out, "")
	if paneID == "" {
		return "", fmt.Errorf("tmux split-window -t %s: no pane id returned", target)
	}
	t.logger.Info("created pane",
		zap.String("session", session), zap.String("window", window),
		zap.String("pane", paneID), zap.Int("size_pct", opts.SizePct))
	return paneID, nil
}

// SendKeys types text into the target in whitespace-aligned chunks, then
// presses Enter. Sends to the same pane never interleave.
func (t *Tmux) SendKeys(ctx context.Context, tgt Target, text string) error {
	target, err := t.resolve(ctx, tgt)
	if err != nil {
		return err
	}

	unlock, err := t.locks.Lock(ctx, lockKey(tgt))
	if err != nil {
		return fmt.Errorf("send-keys %s: %w", tgt, err)
	}
	defer unlock()

	chunks := ChunkText(text, t.chunkSize)
	for _, chunk := range chunks {
		if _, err := t.run(ctx, "send-keys", "-t", target, "-l", "--", chunk); err != nil {
			return fmt.Errorf("tmux send-keys -t %s: %w", target, err)
		}
		if err := t.sleep(ctx, t.chunkDelay); err != nil {
			return err
		}
	}
	if _, err := t.run(ctx, "send-keys", "-t", target, "C-m"); err != nil {
		return fmt.Errorf("tmux send-keys -t %s C-m: %w", target, err)
	}
	t.logger.Debug("sent keys",
		zap.String("target", tgt.String()), zap.Int("chunks", len(chunks)), zap.Int("bytes", len(text)))
	return nil
}

// History captures the tail of the target's scrollback.
func (t *Tmux) History(ctx context.Context, tgt Target, tailLines int) (string, error) {
	target, err := t.resolve(ctx, tgt)
	if err != nil {
		return "", err
	}
	if tailLines <= 0 {
		tailLines = t.historyLines
	}
	out, err := t.run(ctx, "capture-pane", "-e", "-p", "-S", "-"+strconv.Itoa(tailLines), "-t", target)
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane -t %s: %w", target, err)
	}
	return strings.TrimSuffix(out, "\n"), nil
}

// PipePane appends the target's output to path.
func (t *Tmux) PipePane(ctx context.Context, tgt Target, path string) error {
	target, err := t.resolve(ctx, tgt)
	if err != nil {
		return err
	}
	if _, err := t.run(ctx, "pipe-pane", "-o", "-t", target, "cat >> "+shellQuote(path)); err != nil {
		return fmt.Errorf("tmux pipe-pane -t %s: %w", target, err)
	}
	t.logger.Info("started pipe-pane", zap.String("target", tgt.String()), zap.String("path", path))
	return nil
}

// StopPipePane stops any pipe on the target.
func (t *Tmux) StopPipePane(ctx context.Context, tgt Target) error {
	target, err := t.resolve(ctx, tgt)
	if err != nil {
		return err
	}
	if _, err := t.run(ctx, "pipe-pane", "-t", target); err != nil {
		return fmt.Errorf("tmux pipe-pane -t %s: %w", target, err)
	}
	t.logger.Info("stopped pipe-pane", zap.String("target", tgt.String()))
	return nil
}

// SelectLayout applies a named layout (e.g. "main-horizontal") to a window.
func (t *Tmux) SelectLayout(ctx context.Context, session, window, layout string) error {
	if _, err := t.run(ctx, "select-layout", "-t", windowTarget(session, window), layout); err != nil {
		return fmt.Errorf("tmux select-layout %s: %w", layout, err)
	}
	return nil
}

// SetWindowOption sets a window option.
func (t *Tmux) SetWindowOption(ctx context.Context, session, window, key, value string) error {
	if _, err := t.run(ctx, "set-window-option", "-t", windowTarget(session, window), key, value); err != nil {
		return fmt.Errorf("tmux set-window-option %s: %w", key, err)
	}
	return nil
}

// EnablePaneBorders shows pane titles in the top border of every pane.
func (t *Tmux) EnablePaneBorders(ctx context.Context, session, window string) error {
	if err := t.SetWindowOption(ctx, session, window, "pane-border-status", "top"); err != nil {
		return err
	}
	return t.SetWindowOption(ctx, session, window, "pane-border-format", " #{pane_title} ")
}

// SetPaneTitle sets the pane title and the @agent_name pane option.
func (t *Tmux) SetPaneTitle(ctx context.Context, tgt Target, title string) error {
	target, err := t.resolve(ctx, tgt)
	if err != nil {
		return err
	}
	if _, err := t.run(ctx, "select-pane", "-t", target, "-T", title); err != nil {
		return fmt.Errorf("tmux select-pane -T: %w", err)
	}
	if _, err := t.run(ctx, "set-option", "-p", "-t", target, "@agent_name", title); err != nil {
		return fmt.Errorf("tmux set-option @agent_name: %w", err)
	}
	return nil
}

// ResizePane resizes the target. Without any size set it does nothing.
func (t *Tmux) ResizePane(ctx context.Context, tgt Target, opts ResizeOptions) error {
	var sizeArgs []string
	if opts.Height > 0 {
		sizeArgs = append(sizeArgs, "-y", strconv.Itoa(opts.Height))
	}
	if opts.Width > 0 {
		sizeArgs = append(sizeArgs, "-x", strconv.Itoa(opts.Width))
	}
	if opts.Percent > 0 {
		sizeArgs = append(sizeArgs, "-y", strconv.Itoa(opts.Percent)+"%")
	}
	if len(sizeArgs) == 0 {
		return nil
	}

	target, err := t.resolve(ctx, tgt)
	if err != nil {
		return err
	}
	args := append([]string{"resize-pane", "-t", target}, sizeArgs...)
	if _, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("tmux resize-pane -t %s: %w", target, err)
	}
	return nil
}

// KillSession kills a session by exact name.
func (t *Tmux) KillSession(ctx context.Context, session string) error {
	if _, err := t.run(ctx, "kill-session", "-t", "="+session); err != nil {
		return fmt.Errorf("tmux kill-session -t %s: %w", session, err)
	}
	t.logger.Info("killed session", zap.String("session", session))
	return nil
}

// SessionExists reports whether a session with exactly this name is live.
func (t *Tmux) SessionExists(ctx context.Context, session string) (bool, error) {
	_, err := t.run(ctx, "has-session", "-t", "="+session)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("tmux has-session -t %s: %w", session, err)
}

// ListSessions lists all live sessions. No running server means no sessions.
func (t *Tmux) ListSessions(ctx context.Context) ([]model.Session, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}\t#{session_attached}\t#{session_windows}")
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}

	var sessions []model.Session
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		attached, _ := strconv.Atoi(parts[1])
		windows, _ := strconv.Atoi(parts[2])
		sessions = append(sessions, model.Session{Name: parts[0], Attached: attached > 0, Windows: windows})
	}
	return sessions, nil
}

// ListPanes lists the panes of session:window in index order.
func (t *Tmux) ListPanes(ctx context.Context, session, window string) ([]Pane, error) {
	format := "#{pane_id}\t#{pane_index}\t#{pane_active}\t#{pane_title}\t#{pane_current_command}"
	out, err := t.run(ctx, "list-panes", "-t", windowTarget(session, window), "-F", format)
	if err != nil {
		return nil, fmt.Errorf("tmux list-panes -t %s:%s: %w", session, window, err)
	}

	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "\t", 5)
		if len(parts) != 5 {
			continue
		}
		idx, _ := strconv.Atoi(parts[1])
		panes = append(panes, Pane{
			ID:      parts[0],
			Index:   idx,
			Active:  parts[2] == "1",
			Title:   parts[3],
			Command: parts[4],
		})
	}
	return panes, nil
}

// resolve turns a Target into a tmux -t argument. Pane ids are global in
// tmux, so a pane target is checked to belong to the named window.
func (t *Tmux) resolve(ctx context.Context, tgt Target) (string, error) {
	if tgt.Pane == "" {
		return windowTarget(tgt.Session, tgt.Window), nil
	}
	panes, err := t.ListPanes(ctx, tgt.Session, tgt.Window)
	if err != nil {
		return "", err
	}
	for _, p := range panes {
		if p.ID == tgt.Pane {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("pane %s in %s:%s: %w", tgt.Pane, tgt.Session, tgt.Window, model.ErrNotFound)
}

// run executes a tmux command and maps well-known failures onto the model
// error taxonomy.
func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	out, err := t.runner.Run(ctx, args...)
	if err != nil {
		return "", classify(err)
	}
	return out, nil
}

var notFoundMarkers = []string{
	"can't find session",
	"can't find window",
	"can't find pane",
	"session not found",
	"window not found",
	"pane not found",
	"no server running",
	"error connecting to",
}

// classify wraps tmux errors with model.ErrNotFound or model.ErrAlreadyExists
// based on tmux's stderr text.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "duplicate session") {
		return fmt.Errorf("%w: %w", model.ErrAlreadyExists, err)
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", model.ErrNotFound, err)
		}
	}
	return err
}

// windowTarget addresses a window by exact session name.
func windowTarget(session, window string) string {
	return "=" + session + ":" + window
}

func lockKey(tgt Target) string {
	if tgt.Pane != "" {
		return tgt.Pane
	}
	return tgt.Session + ":" + tgt.Window
}

func firstLine(out, fallback string) string {
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if line == "" {
		return fallback
	}
	return line
}

// shellQuote quotes s for the /bin/sh command line tmux runs pipe-pane with.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
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

// AttachSession attaches the current terminal to session. Inside tmux it
// switches the client instead of nesting.
func (t *Tmux) AttachSession(ctx context.Context, session string) error {
	sub := "attach-session"
	if os.Getenv("TMUX") != "" {
		sub = "switch-client"
	}
	cmd := exec.CommandContext(ctx, t.bin(), sub, "-t", "="+session)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux %s -t %s: %w", sub, session, err)
	}
	return nil
}

func (t *Tmux) bin() string {
	if r, ok := t.runner.(ExecRunner); ok && r.Bin != "" {
		return r.Bin
	}
	return "tmux"
}
