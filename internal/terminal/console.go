package terminal

import (
	"context"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/mux"
	"github.com/timvw/pane-conductor/internal/wait"
)

// console adapts one terminal's window or pane to provider.Console.
type console struct {
	mux    mux.Multiplexer
	target mux.Target
	lines  int
}

func (c console) SendInput(ctx context.Context, text string) error {
	return c.mux.SendKeys(ctx, c.target, text)
}

func (c console) History(ctx context.Context) (string, error) {
	return c.mux.History(ctx, c.target, c.lines)
}

func (o *Orchestrator) console(t model.Terminal) console {
	return console{mux: o.mux, target: mux.TargetFor(t), lines: o.settings.HistoryLines}
}

// probe classifies a terminal's current output without reloading its
// record.
func (o *Orchestrator) probe(t model.Terminal) wait.StatusFunc {
	return func(ctx context.Context) (model.Status, error) {
		return o.statusOf(ctx, t)
	}
}
