package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/pane-conductor/internal/inbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Deliver inbox messages and clean up in the background",
	Long: `Run until interrupted. serve watches the terminal log directory and
types queued inbox messages into terminals as soon as they show their
prompt. Every retention period it also forgets terminals whose session is
gone and drops old delivered messages and stale logs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd.CommandPath())
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))

		watcher := inbox.NewWatcher(a.queue, a.cfg.LogDir,
			inbox.WithPollInterval(a.cfg.InboxPollIntervalDuration),
			inbox.WithWatcherLogger(a.logger.Named("watcher")),
		)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
		g.Go(func() error {
			return pruneLoop(ctx, a, a.cfg.RetentionDuration)
		})

		a.logger.Info("serving", zap.String("log_dir", a.cfg.LogDir), zap.String("db", a.store.Path()))
		err = g.Wait()
		a.logger.Info("stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// pruneLoop runs Prune once at startup and then every retention period.
// A zero retention disables cleanup.
func pruneLoop(ctx context.Context, a *app, retention time.Duration) error {
	if retention <= 0 {
		a.logger.Info("cleanup disabled")
		return nil
	}
	prune := func() {
		res, err := a.orch.Prune(ctx, retention)
		if err != nil {
			a.logger.Warn("cleanup failed", zap.Error(err))
			return
		}
		a.logger.Info("cleanup",
			zap.Int("terminals", res.Terminals),
			zap.Int64("messages", res.Messages),
			zap.Int("log_files", res.LogFiles))
	}

	prune()
	ticker := time.NewTicker(retention)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			prune()
		}
	}
}
