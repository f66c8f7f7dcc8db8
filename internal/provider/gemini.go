package provider

import (
	"regexp"

	"github.com/timvw/pane-conductor/internal/model"
)

var geminiPatterns = Patterns{
	Idle:            regexp.MustCompile(`[>❯]\s*$`),
	IdleLog:         regexp.MustCompile(`[>❯]\s*`),
	Processing:      regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏●○◐◑◒◓⣾⣽⣻⢿⡿⣟⣯⣷]|(?i:thinking)|\.{3,}`),
	ErrorIndicators: append(append([]string(nil), defaultErrorIndicators...), "API error"),
}

// NewGemini returns the Google Gemini CLI provider.
func NewGemini(string) *CLI {
	return newCLI(model.ProviderGemini, "gemini", nil, "npm install -g @google/gemini-cli", "/exit", geminiPatterns)
}
