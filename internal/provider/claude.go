package provider

import (
	"regexp"

	"github.com/timvw/pane-conductor/internal/model"
)

// Claude Code pads its "❯" prompt with non-breaking spaces. While a turn
// runs it shows a star spinner with an ellipsised verb ("✻ Pondering…")
// and an "esc to interrupt" hint.
var claudePatterns = Patterns{
	Idle:       regexp.MustCompile(`[>❯][\s\x{a0}]*$`),
	IdleLog:    regexp.MustCompile(`[>❯][\s\x{a0}]`),
	Processing: regexp.MustCompile(`[✶✢✽✻·✳].*…|esc to interrupt`),
}

// NewClaude returns the Claude Code provider.
func NewClaude(string) *CLI {
	return newCLI(model.ProviderClaude, "claude", nil, "npm install -g @anthropic-ai/claude-code", "/exit", claudePatterns)
}
