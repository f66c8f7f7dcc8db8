package provider

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/wait"
)

const (
	// DefaultShellTimeout bounds the wait for a fresh shell to settle.
	DefaultShellTimeout = 10 * time.Second
	// DefaultShellInterval is how often the shell is polled while settling.
	DefaultShellInterval = 500 * time.Millisecond
)

// CLI is a Provider for one agent CLI, parameterized by its launch command
// and output patterns.
type CLI struct {
	typ         model.ProviderType
	binary      string
	args        []string
	installHint string
	exit        string
	patterns    Patterns

	lookPath      func(string) (string, error)
	shellTimeout  time.Duration
	shellInterval time.Duration

	mu          sync.Mutex
	initialized bool
}

func newCLI(typ model.ProviderType, binary string, args []string, installHint, exit string, p Patterns) *CLI {
	if p.ErrorIndicators == nil {
		p.ErrorIndicators = defaultErrorIndicators
	}
	return &CLI{
		typ:           typ,
		binary:        binary,
		args:          args,
		installHint:   installHint,
		exit:          exit,
		patterns:      p,
		lookPath:      exec.LookPath,
		shellTimeout:  DefaultShellTimeout,
		shellInterval: DefaultShellInterval,
	}
}

func (c *CLI) Type() model.ProviderType { return c.typ }

func (c *CLI) Command() string {
	return strings.Join(append([]string{c.binary}, c.args...), " ")
}

func (c *CLI) InstallHint() string { return c.installHint }

func (c *CLI) ExitCommand() string { return c.exit }

func (c *CLI) IdlePatternForLogs() *regexp.Regexp { return c.patterns.IdleLog }

func (c *CLI) Status(text string) model.Status {
	return c.patterns.Classify(text)
}

func (c *CLI) ExtractLastMessage(text string) (string, error) {
	msg, err := c.patterns.Extract(text, c.binary)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.typ, err)
	}
	return msg, nil
}

// Initialize launches the CLI once the shell prompt has settled, i.e. the
// captured history is non-empty and unchanged across two polls.
func (c *CLI) Initialize(ctx context.Context, console Console) error {
	if _, err := c.lookPath(c.binary); err != nil {
		return &UnavailableError{Command: c.binary, InstallHint: c.installHint}
	}

	var prev string
	settled := wait.Until(ctx, func(ctx context.Context) (bool, error) {
		h, err := console.History(ctx)
		if err != nil {
			return false, err
		}
		h = strings.TrimSpace(h)
		ok := h != "" && h == prev
		prev = h
		return ok, nil
	}, c.shellTimeout, c.shellInterval)
	if !settled {
		return fmt.Errorf("%s: shell not ready after %s: %w", c.typ, c.shellTimeout, model.ErrTimeout)
	}

	if err := console.SendInput(ctx, c.Command()); err != nil {
		return fmt.Errorf("%s: launching %q: %w", c.typ, c.Command(), err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// Initialized reports whether Initialize completed and Cleanup has not run.
func (c *CLI) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *CLI) Cleanup() {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
}
