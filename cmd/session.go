package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagShutdownAll     bool
	flagShutdownSession string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect pane-conductor tmux sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions created by pane-conductor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sessions, err := a.orch.Sessions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if flagJSON {
				return printJSON(sessions)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tWINDOWS\tATTACHED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d\t%t\n", s.Name, s.Windows, s.Attached)
			}
			return w.Flush()
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Kill sessions and forget their terminals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagShutdownAll == (flagShutdownSession != "") {
			return errors.New("specify exactly one of --all or --session")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if flagShutdownSession != "" {
				return a.orch.DeleteSession(ctx, flagShutdownSession)
			}

			sessions, err := a.orch.Sessions(ctx)
			if err != nil {
				return err
			}
			var errs []error
			for _, s := range sessions {
				if err := a.orch.DeleteSession(ctx, s.Name); err != nil {
					a.logger.Error("shutting down session", zap.String("session", s.Name), zap.Error(err))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(os.Stderr, "stopped %s\n", s.Name)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	sessionListCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")
	sessionCmd.AddCommand(sessionListCmd)

	shutdownCmd.Flags().BoolVar(&flagShutdownAll, "all", false, "stop every pane-conductor session")
	shutdownCmd.Flags().StringVar(&flagShutdownSession, "session", "", "stop one session")
	rootCmd.AddCommand(sessionCmd, shutdownCmd)
}
