package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/terminal"
)

var (
	flagJSON        bool
	flagOutputMode  string
	flagWaitStatus  string
	flagWaitTimeout time.Duration

	flagSplitAgent  string
	flagTargetPane  string
	flagVertical    bool
	flagSizePct     int
	flagSplitNoWait bool
)

var terminalCmd = &cobra.Command{
	Use:   "terminal",
	Short: "Inspect and drive individual agent terminals",
}

var terminalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List terminals with their live status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			terms, err := a.orch.Snapshot(ctx, flagSession)
			if err != nil {
				return fmt.Errorf("failed to list terminals: %w", err)
			}
			if flagJSON {
				return printJSON(terms)
			}
			printTerminals(terms)
			return nil
		})
	},
}

var terminalGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a terminal record with its live status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			t, err := a.orch.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(t)
		})
	},
}

var terminalStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Print the live status of a terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.orch.Status(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(s)
			return nil
		})
	},
}

var terminalSendCmd = &cobra.Command{
	Use:   "send <id> <text>...",
	Short: "Type text into a terminal and press Enter",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.orch.SendInput(ctx, args[0], strings.Join(args[1:], " "))
		})
	},
}

var terminalOutputCmd = &cobra.Command{
	Use:   "output <id>",
	Short: "Print a terminal's captured output",
	Long: `Print the captured output of a terminal.

--mode full prints the visible history; --mode last prints only the
agent's last response and fails when the agent has not finished one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := model.ParseOutputMode(flagOutputMode)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out, err := a.orch.GetOutput(ctx, args[0], mode)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		})
	},
}

var terminalWaitCmd = &cobra.Command{
	Use:   "wait <id>",
	Short: "Wait until a terminal reaches a status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := model.ParseStatus(flagWaitStatus)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if _, err := a.orch.Lookup(ctx, args[0]); err != nil {
				return err
			}
			if !a.orch.WaitForStatus(ctx, args[0], target, flagWaitTimeout, 0) {
				return fmt.Errorf("terminal %s did not reach %s within %s: %w", args[0], target, flagWaitTimeout, model.ErrTimeout)
			}
			fmt.Println(target)
			return nil
		})
	},
}

var terminalExitCmd = &cobra.Command{
	Use:   "exit <id>",
	Short: "Ask the agent CLI to quit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.orch.ExitTerminal(ctx, args[0])
		})
	},
}

var terminalDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Forget a terminal and stop logging its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			existed, err := a.orch.DeleteTerminal(ctx, args[0])
			if err != nil {
				return err
			}
			if !existed {
				return fmt.Errorf("terminal %s: %w", args[0], model.ErrNotFound)
			}
			return nil
		})
	},
}

var terminalSplitCmd = &cobra.Command{
	Use:   "split <session> <window>",
	Short: "Start an agent in a new pane of an existing window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := resolveProvider(a, flagSplitAgent, flagProvider)
			if err != nil {
				return err
			}
			t, pane, err := a.orch.CreateTerminalAsPane(ctx, terminal.PaneRequest{
				Provider:     p,
				Profile:      flagSplitAgent,
				Session:      args[0],
				Window:       args[1],
				TargetPane:   flagTargetPane,
				Vertical:     flagVertical,
				SizePct:      flagSizePct,
				Cwd:          flagCwd,
				WaitForReady: !flagSplitNoWait,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "started %s (%s) in pane %s\n", t.ID, t.Provider, pane)
			return printJSON(t)
		})
	},
}

func init() {
	terminalListCmd.Flags().StringVar(&flagSession, "session", "", "only terminals of this session")
	terminalListCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")

	terminalOutputCmd.Flags().StringVar(&flagOutputMode, "mode", "full", "output mode: full, last")

	terminalWaitCmd.Flags().StringVar(&flagWaitStatus, "status", "idle", "status to wait for: idle, processing, completed, error")
	terminalWaitCmd.Flags().DurationVar(&flagWaitTimeout, "timeout", 30*time.Second, "how long to wait")

	terminalSplitCmd.Flags().StringVar(&flagSplitAgent, "agent", "developer", "agent profile")
	terminalSplitCmd.Flags().StringVar(&flagProvider, "provider", "", "agent CLI (default: configured provider for the agent)")
	terminalSplitCmd.Flags().StringVar(&flagTargetPane, "target-pane", "", "pane to split, e.g. %3 (default: active pane)")
	terminalSplitCmd.Flags().BoolVar(&flagVertical, "vertical", false, "split side by side instead of stacked")
	terminalSplitCmd.Flags().IntVar(&flagSizePct, "size", 0, "new pane size in percent")
	terminalSplitCmd.Flags().StringVar(&flagCwd, "cwd", "", "working directory")
	terminalSplitCmd.Flags().BoolVar(&flagSplitNoWait, "no-wait", false, "do not wait for the agent prompt")

	terminalCmd.AddCommand(
		terminalListCmd,
		terminalGetCmd,
		terminalStatusCmd,
		terminalSendCmd,
		terminalOutputCmd,
		terminalWaitCmd,
		terminalExitCmd,
		terminalDeleteCmd,
		terminalSplitCmd,
	)
	rootCmd.AddCommand(terminalCmd)
}

func printTerminals(terms []model.Terminal) {
	if len(terms) == 0 {
		fmt.Fprintln(os.Stderr, "no terminals")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tNAME\tAGENT\tPROVIDER\tSTATUS\tLAST ACTIVE")
	for _, t := range terms {
		last := "-"
		if !t.LastActive.IsZero() {
			last = t.LastActive.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Session, t.Name(), t.AgentProfile, t.Provider, t.Status, last)
	}
	w.Flush()
}
