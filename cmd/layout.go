package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	flagSupervisorPane    string
	flagSupervisorProfile string
)

var layoutCmd = &cobra.Command{
	Use:   "layout <session> <window>",
	Short: "Arrange a window as a team: supervisor on top, workers below",
	Long: `Apply the team layout to a window: the main pane takes the top 40%,
the remaining panes share the bottom, and pane borders show each agent's
name. Running it again is harmless.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.orch.ApplyTeamLayout(ctx, args[0], args[1], flagSupervisorPane, flagSupervisorProfile)
		})
	},
}

func init() {
	layoutCmd.Flags().StringVar(&flagSupervisorPane, "supervisor-pane", "", "pane to title as the supervisor, e.g. %0")
	layoutCmd.Flags().StringVar(&flagSupervisorProfile, "supervisor-profile", "supervisor", "title for the supervisor pane")
	rootCmd.AddCommand(layoutCmd)
}
