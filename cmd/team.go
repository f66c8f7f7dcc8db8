package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/terminal"
)

var (
	flagTeamSession  string
	flagTeamHeadless bool
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Work with the team of agents from the config file",
}

var teamStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start every team member in one session",
	Long: `Start the agents listed under 'team' in the config file. The first
member opens the session (or joins --session), the others get a window
each.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if len(a.cfg.Team) == 0 {
				return errors.New("no team configured (add a 'team' list to the config file)")
			}
			cwd, _ := os.Getwd()

			session := flagTeamSession
			var started []model.Terminal
			for _, member := range a.cfg.Team {
				p, err := resolveProvider(a, member.Agent, member.Provider)
				if err != nil {
					return fmt.Errorf("team member %s: %w", member.Agent, err)
				}
				t, err := a.orch.CreateTerminal(ctx, terminal.CreateRequest{
					Provider:     p,
					Profile:      member.Agent,
					Session:      session,
					NewSession:   session == "",
					Cwd:          cwd,
					WaitForReady: true,
				})
				if err != nil {
					return fmt.Errorf("team member %s: %w", member.Agent, err)
				}
				a.logger.Info("team member started",
					zap.String("agent", member.Agent), zap.String("terminal_id", t.ID))
				session = t.Session
				started = append(started, t)
			}

			if flagTeamHeadless {
				return printJSON(started)
			}
			return a.mux.AttachSession(ctx, session)
		})
	},
}

func init() {
	teamStartCmd.Flags().StringVar(&flagTeamSession, "session", "", "existing session to join (default: new session)")
	teamStartCmd.Flags().BoolVar(&flagTeamHeadless, "headless", false, "do not attach; print the terminals as JSON")
	teamCmd.AddCommand(teamStartCmd)
	rootCmd.AddCommand(teamCmd)
}
