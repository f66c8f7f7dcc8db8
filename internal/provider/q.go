package provider

import (
	"regexp"

	"github.com/timvw/pane-conductor/internal/model"
)

// Amazon Q and Kiro share a chat REPL whose prompt names the active agent,
// e.g. "[developer] > ".
var qPatterns = Patterns{
	Idle:       regexp.MustCompile(`\[[\w-]+\]\s*>\s*$`),
	IdleLog:    regexp.MustCompile(`\[[\w-]+\]\s*>`),
	Processing: regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]|Thinking`),
}

// NewQ returns the Amazon Q Developer CLI provider for an agent profile.
func NewQ(profile string) *CLI {
	return newCLI(model.ProviderQ, "q", agentArgs(profile), "brew install amazon-q", "/quit", qPatterns)
}

// NewKiro returns the Kiro CLI provider for an agent profile.
func NewKiro(profile string) *CLI {
	return newCLI(model.ProviderKiro, "kiro-cli", agentArgs(profile), "curl -fsSL https://cli.kiro.dev/install | bash", "/quit", qPatterns)
}

func agentArgs(profile string) []string {
	if profile == "" {
		return []string{"chat"}
	}
	return []string{"chat", "--agent", profile}
}
