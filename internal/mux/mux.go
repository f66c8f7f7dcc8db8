// Package mux provides an adapter over the tmux terminal multiplexer.
//
// The adapter holds no cache of sessions, windows or panes: every call
// resolves its target against the live tmux server, so a resource removed
// out-of-band is detected on next use. Missing resources surface as errors
// wrapping model.ErrNotFound, and session name collisions as
// model.ErrAlreadyExists.
package mux

import (
	"context"

	"github.com/timvw/pane-conductor/internal/model"
)

// Multiplexer abstracts the terminal multiplexer operations the orchestrator
// needs. *Tmux is the only implementation.
type Multiplexer interface {
	// Name returns the multiplexer name (e.g., "tmux").
	Name() string

	// CreateSession creates a detached session with one window and returns
	// the window name. terminalID is exported into the window environment.
	CreateSession(ctx context.Context, session, window, terminalID, cwd string) (string, error)
	// CreateWindow adds a window to an existing session and returns its name.
	CreateWindow(ctx context.Context, session, window, terminalID, cwd string) (string, error)
	// CreatePane splits a pane of session:window and returns the new pane id.
	CreatePane(ctx context.Context, session, window, terminalID string, opts SplitOptions) (string, error)

	// SendKeys types text into the target followed by a carriage return.
	SendKeys(ctx context.Context, t Target, text string) error
	// History captures the last tailLines lines of the target, escape
	// sequences included. tailLines <= 0 uses the configured default.
	History(ctx context.Context, t Target, tailLines int) (string, error)

	// PipePane mirrors the target's output into path (append-only).
	PipePane(ctx context.Context, t Target, path string) error
	// StopPipePane stops mirroring the target's output.
	StopPipePane(ctx context.Context, t Target) error

	SelectLayout(ctx context.Context, session, window, layout string) error
	SetWindowOption(ctx context.Context, session, window, key, value string) error
	EnablePaneBorders(ctx context.Context, session, window string) error
	SetPaneTitle(ctx context.Context, t Target, title string) error
	ResizePane(ctx context.Context, t Target, opts ResizeOptions) error

	KillSession(ctx context.Context, session string) error
	SessionExists(ctx context.Context, session string) (bool, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	ListPanes(ctx context.Context, session, window string) ([]Pane, error)
	// AttachSession hands the calling terminal over to session.
	AttachSession(ctx context.Context, session string) error
}

// Target addresses a window, or a pane within it when Pane is set.
type Target struct {
	Session string
	Window  string
	Pane    string
}

// TargetFor returns the target a terminal record lives at.
func TargetFor(t model.Terminal) Target {
	return Target{Session: t.Session, Window: t.Window, Pane: t.PaneID}
}

// String returns a human-readable form, e.g. "conductor-1a2b:dev-9f3c.%4".
func (t Target) String() string {
	s := t.Session + ":" + t.Window
	if t.Pane != "" {
		s += "." + t.Pane
	}
	return s
}

// SplitOptions controls CreatePane.
type SplitOptions struct {
	// Vertical splits side by side; false stacks the new pane below.
	Vertical bool
	// TargetPane is the pane to split. Empty splits the active pane.
	TargetPane string
	// SizePct is the new pane's size as a percentage (1-99). 0 lets tmux decide.
	SizePct int
	// Cwd is the working directory for the new pane.
	Cwd string
}

// ResizeOptions controls ResizePane. Zero fields are ignored.
type ResizeOptions struct {
	Height  int // lines
	Width   int // columns
	Percent int // height as a percentage of the window
}

// Pane describes one pane of a window.
type Pane struct {
	ID      string `json:"id"`
	Index   int    `json:"index"`
	Active  bool   `json:"active"`
	Title   string `json:"title"`
	Command string `json:"command"`
}
