package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/terminal"
)

var (
	flagAgent    string
	flagProvider string
	flagSession  string
	flagCwd      string
	flagHeadless bool
	flagNoWait   bool
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start an agent in a new tmux session or window",
	Long: `Start an agent CLI for an agent profile.

Without --session a new session is created and, unless --headless is set,
attached. With --session the agent gets a new window in that existing
session. The provider comes from --provider, else the agent_providers
entry for the profile, else default_provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := resolveProvider(a, flagAgent, flagProvider)
			if err != nil {
				return err
			}
			cwd := flagCwd
			if cwd == "" {
				cwd, _ = os.Getwd()
			}

			t, err := a.orch.CreateTerminal(ctx, terminal.CreateRequest{
				Provider:     p,
				Profile:      flagAgent,
				Session:      flagSession,
				NewSession:   flagSession == "",
				Cwd:          cwd,
				WaitForReady: !flagNoWait,
			})
			if err != nil {
				return fmt.Errorf("launch %s: %w", flagAgent, err)
			}
			fmt.Fprintf(os.Stderr, "started %s (%s) in %s:%s\n", t.ID, t.Provider, t.Session, t.Window)

			if flagHeadless {
				return printJSON(t)
			}
			return a.mux.AttachSession(ctx, t.Session)
		})
	},
}

func init() {
	launchCmd.Flags().StringVar(&flagAgent, "agent", "developer", "agent profile")
	launchCmd.Flags().StringVar(&flagProvider, "provider", "", "agent CLI: q_cli, kiro_cli, claude_code, codex_cli, gemini_cli")
	launchCmd.Flags().StringVar(&flagSession, "session", "", "existing session to add a window to")
	launchCmd.Flags().StringVar(&flagCwd, "cwd", "", "working directory (default: current directory)")
	launchCmd.Flags().BoolVar(&flagHeadless, "headless", false, "do not attach; print the terminal as JSON")
	launchCmd.Flags().BoolVar(&flagNoWait, "no-wait", false, "do not wait for the agent prompt")
	rootCmd.AddCommand(launchCmd)
}

// resolveProvider picks the explicit provider, else the configured one for
// the profile.
func resolveProvider(a *app, profile, explicit string) (model.ProviderType, error) {
	if explicit != "" {
		return model.ParseProviderType(explicit)
	}
	return a.cfg.ProviderFor(profile), nil
}
