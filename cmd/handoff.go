package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-conductor/internal/config"
	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/mux"
	"github.com/timvw/pane-conductor/internal/terminal"
)

var flagHandoffTimeout time.Duration

var handoffCmd = &cobra.Command{
	Use:   "handoff <agent> <message>...",
	Short: "Give an agent one task and print its answer",
	Long: `Start an agent, wait for its prompt, send the message, wait until the
agent has answered, print the answer and ask the agent to exit.

Run from inside an agent terminal, the new agent joins the caller's
session and inherits its provider and working directory unless flags say
otherwise.

The terminal record stays in place so the session can be inspected
afterwards; 'shutdown' removes it.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			target, err := resolveTaskTarget(ctx, a.cfg, a.orch, os.Getenv(mux.TerminalIDEnv), args[0], taskFlags())
			if err != nil {
				return err
			}
			timeout := flagHandoffTimeout
			if timeout <= 0 {
				timeout = a.cfg.HandoffTimeoutDuration
			}

			res, err := a.orch.Handoff(ctx, terminal.HandoffRequest{
				Provider: target.Provider,
				Profile:  args[0],
				Message:  strings.Join(args[1:], " "),
				Session:  target.Session,
				Cwd:      target.Cwd,
				Timeout:  timeout,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s (%s) answered in %s:%s\n",
				res.Terminal.ID, res.Terminal.Provider, res.Terminal.Session, res.Terminal.Window)
			fmt.Println(res.Output)
			return nil
		})
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign <agent> <message>...",
	Short: "Start an agent on a task without waiting for the answer",
	Long: `Start an agent, wait for its prompt and send the message. The agent keeps
working in the background; it can report back with 'inbox send'.

Run from inside an agent terminal, the new agent joins the caller's
session and inherits its provider and working directory unless flags say
otherwise.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			target, err := resolveTaskTarget(ctx, a.cfg, a.orch, os.Getenv(mux.TerminalIDEnv), args[0], taskFlags())
			if err != nil {
				return err
			}
			t, err := a.orch.Assign(ctx, terminal.AssignRequest{
				Provider: target.Provider,
				Profile:  args[0],
				Message:  strings.Join(args[1:], " "),
				Session:  target.Session,
				Cwd:      target.Cwd,
			})
			if err != nil {
				return err
			}
			return printJSON(t)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{handoffCmd, assignCmd} {
		c.Flags().StringVar(&flagProvider, "provider", "", "agent CLI (default: configured provider for the agent)")
		c.Flags().StringVar(&flagSession, "session", "", "existing session to add the agent's window to (default: new session)")
		c.Flags().StringVar(&flagCwd, "cwd", "", "working directory")
	}
	handoffCmd.Flags().DurationVar(&flagHandoffTimeout, "timeout", 0, "how long to wait for the answer (default: handoff_timeout)")
	rootCmd.AddCommand(handoffCmd, assignCmd)
}

type terminalLookup interface {
	Lookup(ctx context.Context, id string) (model.Terminal, error)
}

// taskOptions are the placement flags shared by handoff and assign.
type taskOptions struct {
	Session  string
	Provider string
	Cwd      string
}

func taskFlags() taskOptions {
	return taskOptions{Session: flagSession, Provider: flagProvider, Cwd: flagCwd}
}

// taskTarget is where a delegated agent starts. An empty Session means a
// new one.
type taskTarget struct {
	Session  string
	Provider model.ProviderType
	Cwd      string
}

// resolveTaskTarget fills what the flags leave empty from the calling
// terminal, then from configuration. A caller id naming a deleted terminal
// is ignored.
func resolveTaskTarget(ctx context.Context, cfg *config.Config, terms terminalLookup, callerID, profile string, opts taskOptions) (taskTarget, error) {
	var caller model.Terminal
	if callerID != "" {
		t, err := terms.Lookup(ctx, callerID)
		switch {
		case err == nil:
			caller = t
		case errors.Is(err, model.ErrNotFound):
		default:
			return taskTarget{}, fmt.Errorf("calling terminal %s: %w", callerID, err)
		}
	}

	target := taskTarget{Session: opts.Session, Cwd: opts.Cwd}
	if target.Session == "" {
		target.Session = caller.Session
	}
	if target.Cwd == "" {
		target.Cwd = caller.Cwd
	}
	switch {
	case opts.Provider != "":
		p, err := model.ParseProviderType(opts.Provider)
		if err != nil {
			return taskTarget{}, err
		}
		target.Provider = p
	case caller.Provider != "":
		target.Provider = caller.Provider
	default:
		target.Provider = cfg.ProviderFor(profile)
	}
	return target, nil
}
