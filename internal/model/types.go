package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the readiness state of an agent CLI, derived from its rendered
// output. It is never persisted.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ParseStatus converts a status name (case-insensitive) into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusIdle:
		return StatusIdle, nil
	case StatusProcessing:
		return StatusProcessing, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusError:
		return StatusError, nil
	}
	return "", fmt.Errorf("unknown status %q (supported: idle, processing, completed, error)", s)
}

// ProviderType identifies a supported agent CLI.
type ProviderType string

const (
	ProviderQ      ProviderType = "q_cli"
	ProviderKiro   ProviderType = "kiro_cli"
	ProviderClaude ProviderType = "claude_code"
	ProviderCodex  ProviderType = "codex_cli"
	ProviderGemini ProviderType = "gemini_cli"
)

// ProviderTypes lists every supported provider in display order.
func ProviderTypes() []ProviderType {
	return []ProviderType{ProviderQ, ProviderKiro, ProviderClaude, ProviderCodex, ProviderGemini}
}

// ParseProviderType validates a provider name.
func ParseProviderType(s string) (ProviderType, error) {
	for _, p := range ProviderTypes() {
		if string(p) == s {
			return p, nil
		}
	}
	names := make([]string, 0, len(ProviderTypes()))
	for _, p := range ProviderTypes() {
		names = append(names, string(p))
	}
	return "", fmt.Errorf("unknown provider %q (supported: %s)", s, strings.Join(names, ", "))
}

// OutputMode selects how much of a terminal's history GetOutput returns.
type OutputMode string

const (
	// OutputFull returns the captured history verbatim.
	OutputFull OutputMode = "full"
	// OutputLast returns only the agent's last response.
	OutputLast OutputMode = "last"
)

// ParseOutputMode validates an output mode name.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(s) {
	case OutputFull, "":
		return OutputFull, nil
	case OutputLast:
		return OutputLast, nil
	}
	return "", fmt.Errorf("unknown output mode %q (supported: full, last)", s)
}

// Terminal is one running agent CLI bound to a tmux window or pane.
type Terminal struct {
	// ID is the short opaque terminal identifier (8 hex chars).
	ID string `json:"id"`
	// Provider is the agent CLI running in the terminal.
	Provider ProviderType `json:"provider"`
	// AgentProfile is a free-text label, e.g. "developer".
	AgentProfile string `json:"agent_profile"`
	// Session is the tmux session name.
	Session string `json:"session"`
	// Window is the tmux window name.
	Window string `json:"window"`
	// PaneID is set only when the terminal was created by splitting a pane
	// (e.g. "%3"). Empty means the terminal owns the whole window.
	PaneID string `json:"pane_id,omitempty"`
	// Cwd is the working directory the CLI was started in.
	Cwd string `json:"cwd,omitempty"`
	// Status is recomputed from live output on every read.
	Status Status `json:"status,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// OwnsPane reports whether the terminal lives in a pane of a shared window.
func (t Terminal) OwnsPane() bool {
	return t.PaneID != ""
}

// Name returns the display name: the window, suffixed with the pane id in
// pane mode.
func (t Terminal) Name() string {
	if t.OwnsPane() {
		return t.Window + ":" + t.PaneID
	}
	return t.Window
}

// Session is a tmux session owned by the orchestrator.
type Session struct {
	Name     string `json:"name"`
	Attached bool   `json:"attached"`
	Windows  int    `json:"windows"`
}

// InboxMessage is a queued message from one terminal to another.
type InboxMessage struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	Delivered   bool      `json:"delivered"`
	DeliveredAt time.Time `json:"delivered_at,omitempty"`
}
