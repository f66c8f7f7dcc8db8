package model

import "errors"

// Error conditions shared by the multiplexer adapter, providers and the
// orchestrator. Callers match them with errors.Is.
var (
	// ErrNotFound means a session, window, pane, terminal or record is absent.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a session name collides with a live session.
	ErrAlreadyExists = errors.New("already exists")
	// ErrTimeout means a readiness or completion wait exceeded its bound.
	ErrTimeout = errors.New("timed out")
	// ErrUnavailable means the agent CLI executable is not on the search path.
	ErrUnavailable = errors.New("cli unavailable")
	// ErrIncompleteResponse means no idle prompt follows the agent output.
	ErrIncompleteResponse = errors.New("incomplete response: no idle prompt detected")
	// ErrEmptyResponse means the agent output holds no content lines.
	ErrEmptyResponse = errors.New("empty response: no content found")
)
