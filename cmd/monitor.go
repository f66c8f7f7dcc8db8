package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-conductor/internal/config"
	"github.com/timvw/pane-conductor/internal/monitor"
)

var (
	flagTheme          string
	flagMonitorSession string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive dashboard of running agents",
	Long: `Show every agent terminal with its live status, grouped by session.
Select a terminal to type a message into it (enter) or to preview its last
response (o). Logs go to monitor.log in the data directory while the
dashboard owns the screen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel() // cancels in-flight snapshots when the TUI exits

		if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
			return err
		}
		a, err := newApp(ctx, cmd.CommandPath(), filepath.Join(config.DataDir(), "monitor.log"))
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))

		mon := &monitor.Monitor{
			Source:  a.orch,
			Session: flagMonitorSession,
			Refresh: a.cfg.RefreshDuration,
			Theme:   monitor.ThemeByName(flagTheme),
		}
		return mon.Run(ctx)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&flagTheme, "theme", "dark", "Color theme: dark, light")
	monitorCmd.Flags().StringVar(&flagMonitorSession, "session", "", "only show this session")
	rootCmd.AddCommand(monitorCmd)
}
