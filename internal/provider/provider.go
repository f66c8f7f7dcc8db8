// Package provider classifies the rendered output of interactive agent CLIs.
//
// Each supported CLI is described by a handful of regular expressions: the
// idle prompt, processing indicators (spinners, "thinking") and error
// keywords. Status classification and last-response extraction are shared
// across all CLIs and driven by those patterns. This is plain text
// matching against what the CLI renders; there is no terminal emulation.
package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/timvw/pane-conductor/internal/model"
)

// Provider drives one agent CLI inside one terminal.
type Provider interface {
	// Type returns the provider identifier.
	Type() model.ProviderType
	// Command returns the command line that launches the CLI.
	Command() string
	// InstallHint returns human-readable install instructions.
	InstallHint() string

	// Initialize checks the CLI is installed, waits for the shell and
	// launches the CLI. It does not wait for the CLI to become idle.
	Initialize(ctx context.Context, console Console) error

	// Status classifies captured terminal text.
	Status(text string) model.Status
	// ExtractLastMessage returns the agent's final response from captured text.
	ExtractLastMessage(text string) (string, error)
	// IdlePatternForLogs matches the idle prompt in raw pipe-pane logs.
	IdlePatternForLogs() *regexp.Regexp

	// ExitCommand returns the text that makes the CLI quit.
	ExitCommand() string
	// Cleanup releases provider state. Safe to call more than once.
	Cleanup()
}

// Console is the terminal a provider types into during startup.
type Console interface {
	SendInput(ctx context.Context, text string) error
	History(ctx context.Context) (string, error)
}

// UnavailableError reports a CLI executable missing from the search path.
type UnavailableError struct {
	Command     string
	InstallHint string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("cli tool %q not found in PATH; install with: %s", e.Command, e.InstallHint)
}

// Unwrap makes errors.Is(err, model.ErrUnavailable) hold.
func (e *UnavailableError) Unwrap() error {
	return model.ErrUnavailable
}

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	escapePattern  = regexp.MustCompile(`\[[?0-9;]*[a-zA-Z]`)
	controlPattern = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
)

// defaultErrorIndicators are matched case-insensitively.
var defaultErrorIndicators = []string{
	"Error:",
	"error:",
	"failed",
	"Failed",
	"Unable to",
	"Cannot",
}

// Patterns describes how a CLI renders its states.
type Patterns struct {
	// Idle matches the input prompt at the very end of captured text.
	Idle *regexp.Regexp
	// IdleLog matches the input prompt anywhere in raw log output.
	IdleLog *regexp.Regexp
	// Processing matches spinners and progress indicators.
	Processing *regexp.Regexp
	// ErrorIndicators are substrings that signal a failure.
	ErrorIndicators []string
}

// StripANSI removes SGR color sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Classify maps captured text to a status. Checks run in a fixed order:
// error keywords, processing indicators, missing prompt, then idle versus
// completed by the amount of content above the prompt.
// An empty capture means the pane is gone or never drew; blank lines alone
// are a shell still starting and fall through to the prompt checks.
func (p Patterns) Classify(text string) model.Status {
	if text == "" {
		return model.StatusError
	}

	clean := StripANSI(text)
	idle := p.Idle.MatchString(clean)

	if !idle && p.hasError(clean) {
		return model.StatusError
	}
	if !idle && p.Processing != nil && p.Processing.MatchString(clean) {
		return model.StatusProcessing
	}
	if !idle {
		return model.StatusProcessing
	}
	if nonEmptyLines(clean) > 1 {
		return model.StatusCompleted
	}
	return model.StatusIdle
}

func (p Patterns) hasError(clean string) bool {
	lower := strings.ToLower(clean)
	for _, indicator := range p.ErrorIndicators {
		if strings.Contains(lower, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}

// Extract returns the response that precedes the last idle prompt. A
// leading echo of the launch command (or a "$" shell line) is dropped; the
// echo must start with binary as a whole word.
func (p Patterns) Extract(text, binary string) (string, error) {
	clean := StripANSI(text)

	matches := p.Idle.FindAllStringIndex(clean, -1)
	if len(matches) == 0 {
		return "", model.ErrIncompleteResponse
	}
	body := strings.TrimSpace(clean[:matches[len(matches)-1][0]])

	var lines []string
	skipFirst := true
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if skipFirst && (isLaunchEcho(trimmed, binary) || strings.HasPrefix(trimmed, "$")) {
			skipFirst = false
			continue
		}
		if trimmed != "" {
			lines = append(lines, trimmed)
			skipFirst = false
		}
	}
	if len(lines) == 0 {
		return "", model.ErrEmptyResponse
	}

	answer := strings.Join(lines, "\n")
	answer = ansiPattern.ReplaceAllString(answer, "")
	answer = escapePattern.ReplaceAllString(answer, "")
	answer = controlPattern.ReplaceAllStringFunc(answer, func(s string) string {
		if s == "\n" {
			return s
		}
		return ""
	})
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", model.ErrEmptyResponse
	}
	return answer, nil
}

func isLaunchEcho(line, binary string) bool {
	return binary != "" && (line == binary || strings.HasPrefix(line, binary+" "))
}

func nonEmptyLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
