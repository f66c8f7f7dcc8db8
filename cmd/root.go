package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/pane-conductor/internal/config"
	"github.com/timvw/pane-conductor/internal/inbox"
	"github.com/timvw/pane-conductor/internal/logging"
	"github.com/timvw/pane-conductor/internal/mux"
	telem "github.com/timvw/pane-conductor/internal/otel"
	"github.com/timvw/pane-conductor/internal/provider"
	"github.com/timvw/pane-conductor/internal/store"
	"github.com/timvw/pane-conductor/internal/terminal"
)

var (
	// Global flags.
	flagConfig  string
	flagMux     string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pane-conductor",
	Short: "Run and coordinate CLI coding agents in tmux",
	Long: `pane-conductor starts CLI coding agents (Amazon Q, Kiro, Claude Code,
Codex, Gemini) in tmux windows and panes, tracks whether each one is idle
or busy by reading its screen, and passes messages between them.

Messages sent to a busy agent wait in its inbox and are typed in as soon
as the agent shows its prompt again. Run 'pane-conductor serve' to keep
inboxes flowing in the background.

Configuration is loaded from .pane-conductor.yaml,
~/.config/pane-conductor/config.yaml or PANE_CONDUCTOR_* variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("PANE_CONDUCTOR_CONFIG", ""), "config file (default: .pane-conductor.yaml, then ~/.config/pane-conductor/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagMux, "mux", envOrDefault("PANE_CONDUCTOR_MUX", ""), "terminal multiplexer: tmux (default: auto-detect)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")
}

// app is the wired core shared by every command that touches terminals.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	tel    *telem.Telemetry
	mux    mux.Multiplexer
	store  *store.Store
	orch   *terminal.Orchestrator
	queue  *inbox.Queue
}

// newApp loads configuration and builds the orchestrator and inbox for
// command. logOutputs redirects the logger, e.g. to a file while a TUI owns
// stderr.
func newApp(ctx context.Context, command string, logOutputs ...string) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, flagVerbose, logOutputs...)
	if err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		logger.Debug("config loaded", zap.String("path", cfg.ConfigFile))
	}

	// Wire build version into OTEL service metadata
	telem.Version = Version

	// Initialize OTEL (no-op if no endpoint configured)
	tel, err := telem.Init(ctx, telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
		Command:  command,
	})
	if err != nil {
		logger.Warn("otel init failed", zap.Error(err))
	}
	var metrics *telem.Metrics
	if tel != nil {
		metrics = tel.Metrics
	}

	m, err := getMultiplexer(
		mux.WithLockDir(cfg.LockDir),
		mux.WithHistoryLines(cfg.HistoryLines),
		mux.WithLogger(logger.Named("mux")),
	)
	if err != nil {
		tel.Shutdown(ctx)
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		tel.Shutdown(ctx)
		return nil, err
	}

	settings := terminal.DefaultSettings()
	settings.LogDir = cfg.LogDir
	settings.SessionPrefix = cfg.SessionPrefix
	settings.HistoryLines = cfg.HistoryLines
	settings.ReadyTimeout = cfg.ReadyTimeoutDuration
	settings.PollInterval = cfg.PollIntervalDuration
	settings.Parallel = cfg.Parallel

	orch := terminal.New(m, st, provider.NewRegistry(), settings,
		terminal.WithLogger(logger.Named("terminal")),
		terminal.WithMetrics(metrics),
		terminal.WithMessages(st),
	)
	queue := inbox.NewQueue(orch, st,
		inbox.WithLogger(logger.Named("inbox")),
		inbox.WithMetrics(metrics),
		inbox.WithLockDir(cfg.LockDir),
		inbox.WithDeliverOnCompleted(cfg.DeliverOnCompleted),
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		tel:    tel,
		mux:    m,
		store:  st,
		orch:   orch,
		queue:  queue,
	}, nil
}

// Close flushes telemetry and closes the database.
func (a *app) Close(ctx context.Context) {
	a.tel.Shutdown(ctx)
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.CommandPath())
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

// getMultiplexer returns the configured or auto-detected multiplexer.
func getMultiplexer(opts ...mux.Option) (mux.Multiplexer, error) {
	if flagMux != "" {
		return mux.FromName(flagMux, opts...)
	}
	return mux.Detect(opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
