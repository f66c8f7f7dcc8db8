package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-conductor/internal/mux"
)

var flagFrom string

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Queue messages for agents",
	Long: `Each terminal has an inbox. A message is typed into the receiving
terminal as soon as it shows its idle prompt, one message at a time and in
the order they were sent.`,
}

var inboxSendCmd = &cobra.Command{
	Use:   "send <receiver> <message>...",
	Short: "Queue a message for a terminal",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender := flagFrom
		if sender == "" {
			sender = os.Getenv(mux.TerminalIDEnv)
		}
		if sender == "" {
			sender = "cli"
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			msg, err := a.queue.Submit(ctx, sender, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(msg)
		})
	},
}

var inboxListCmd = &cobra.Command{
	Use:   "list <receiver>",
	Short: "List the messages sent to a terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			msgs, err := a.queue.List(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(msgs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFROM\tSENT\tDELIVERED\tMESSAGE")
			for _, m := range msgs {
				delivered := "pending"
				if m.Delivered {
					delivered = m.DeliveredAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					m.ID, m.SenderID, m.CreatedAt.Local().Format(time.DateTime), delivered, oneLine(m.Body, 60))
			}
			return w.Flush()
		})
	},
}

var inboxDeliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Deliver one pending message to every idle terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.queue.DeliverAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "delivered %d message(s)\n", n)
			return nil
		})
	},
}

func init() {
	inboxSendCmd.Flags().StringVar(&flagFrom, "from", "", "sender id (default: $PANE_CONDUCTOR_TERMINAL_ID, else \"cli\")")
	inboxListCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")
	inboxCmd.AddCommand(inboxSendCmd, inboxListCmd, inboxDeliverCmd)
	rootCmd.AddCommand(inboxCmd)
}

// oneLine flattens s and cuts it to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
