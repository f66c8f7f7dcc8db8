package provider

import (
	"regexp"

	"github.com/timvw/pane-conductor/internal/model"
)

// Codex CLI renders a ratatui TUI with a ">" composer prompt and a braille
// or circle spinner while a turn is running.
var codexPatterns = Patterns{
	Idle:       regexp.MustCompile(`>\s*$`),
	IdleLog:    regexp.MustCompile(`>\s*`),
	Processing: regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏●○◐◑◒◓]|\.{2,}`),
}

// NewCodex returns the OpenAI Codex CLI provider. Codex has no agent flag;
// profiles are picked up from AGENTS.md files instead.
func NewCodex(string) *CLI {
	return newCLI(model.ProviderCodex, "codex", nil, "npm install -g @openai/codex", "/exit", codexPatterns)
}
