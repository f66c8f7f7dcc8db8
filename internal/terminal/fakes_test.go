package terminal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/mux"
	"github.com/timvw/pane-conductor/internal/provider"
)

type sentKeys struct {
	Target mux.Target
	Text   string
}

// fakeMux is an in-memory multiplexer. Every terminal renders
// defaultScreen unless a per-target screen is set.
type fakeMux struct {
	mu            sync.Mutex
	sessions      map[string]bool
	screens       map[string]string
	defaultScreen string
	failHistory   map[string]error
	errs          map[string]error
	calls         []string
	sent          []sentKeys
	pipes         map[string]string
	titles        map[string]string
	nextPane      int

	// onSend runs after text is typed into a target.
	onSend func(t mux.Target, text string)
}

func newFakeMux() *fakeMux {
	return &fakeMux{
		sessions:    make(map[string]bool),
		screens:     make(map[string]string),
		failHistory: make(map[string]error),
		errs:        make(map[string]error),
		pipes:       make(map[string]string),
		titles:      make(map[string]string),
		nextPane:    10,
	}
}

func (f *fakeMux) record(op string) error {
	f.calls = append(f.calls, op)
	return f.errs[op]
}

func (f *fakeMux) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeMux) setScreen(screen string) {
	f.mu.Lock()
	f.defaultScreen = screen
	f.mu.Unlock()
}

func (f *fakeMux) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.Text)
	}
	return out
}

func (f *fakeMux) Name() string { return "fake" }

func (f *fakeMux) CreateSession(_ context.Context, session, window, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateSession"); err != nil {
		return "", err
	}
	if f.sessions[session] {
		return "", fmt.Errorf("duplicate session: %s: %w", session, model.ErrAlreadyExists)
	}
	f.sessions[session] = true
	return window, nil
}

func (f *fakeMux) CreateWindow(_ context.Context, session, window, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateWindow"); err != nil {
		return "", err
	}
	if !f.sessions[session] {
		return "", model.ErrNotFound
	}
	return window, nil
}

func (f *fakeMux) CreatePane(_ context.Context, session, _, _ string, _ mux.SplitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePane"); err != nil {
		return "", err
	}
	if !f.sessions[session] {
		return "", model.ErrNotFound
	}
	f.nextPane++
	return fmt.Sprintf("%%%d", f.nextPane), nil
}

func (f *fakeMux) SendKeys(_ context.Context, t mux.Target, text string) error {
	f.mu.Lock()
	if err := f.record("SendKeys"); err != nil {
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, sentKeys{Target: t, Text: text})
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(t, text)
	}
	return nil
}

func (f *fakeMux) History(_ context.Context, t mux.Target, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failHistory[t.String()]; ok {
		return "", err
	}
	if s, ok := f.screens[t.String()]; ok {
		return s, nil
	}
	return f.defaultScreen, nil
}

func (f *fakeMux) PipePane(_ context.Context, t mux.Target, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PipePane"); err != nil {
		return err
	}
	f.pipes[t.String()] = path
	return nil
}

func (f *fakeMux) StopPipePane(_ context.Context, t mux.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("StopPipePane"); err != nil {
		return err
	}
	delete(f.pipes, t.String())
	return nil
}

func (f *fakeMux) SelectLayout(context.Context, string, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SelectLayout")
}

func (f *fakeMux) SetWindowOption(_ context.Context, _, _, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SetWindowOption " + key + "=" + value)
}

func (f *fakeMux) EnablePaneBorders(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("EnablePaneBorders")
}

func (f *fakeMux) SetPaneTitle(_ context.Context, t mux.Target, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetPaneTitle"); err != nil {
		return err
	}
	f.titles[t.Pane] = title
	return nil
}

func (f *fakeMux) ResizePane(context.Context, mux.Target, mux.ResizeOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ResizePane")
}

func (f *fakeMux) KillSession(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("KillSession"); err != nil {
		return err
	}
	if !f.sessions[session] {
		return fmt.Errorf("can't find session: %s: %w", session, model.ErrNotFound)
	}
	delete(f.sessions, session)
	return nil
}

func (f *fakeMux) SessionExists(_ context.Context, session string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[session], nil
}

func (f *fakeMux) ListSessions(context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for name := range f.sessions {
		out = append(out, model.Session{Name: name, Windows: 1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeMux) ListPanes(context.Context, string, string) ([]mux.Pane, error) {
	return nil, nil
}

func (f *fakeMux) AttachSession(context.Context, string) error {
	return nil
}

// fakeRegistry is an in-memory Registry and MessagePruner.
type fakeRegistry struct {
	mu      sync.Mutex
	records map[string]model.Terminal
	touched map[string]int
	pruned  []time.Time
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		records: make(map[string]model.Terminal),
		touched: make(map[string]int),
	}
}

func (r *fakeRegistry) PutTerminal(_ context.Context, t model.Terminal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[t.ID]; ok {
		return model.ErrAlreadyExists
	}
	r.records[t.ID] = t
	return nil
}

func (r *fakeRegistry) GetTerminal(_ context.Context, id string) (model.Terminal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.records[id]
	if !ok {
		return model.Terminal{}, fmt.Errorf("terminal %s: %w", id, model.ErrNotFound)
	}
	return t, nil
}

func (r *fakeRegistry) DeleteTerminal(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	delete(r.records, id)
	return ok, nil
}

func (r *fakeRegistry) ListTerminals(_ context.Context, session string) ([]model.Terminal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Terminal
	for _, t := range r.records {
		if session == "" || t.Session == session {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRegistry) TouchLastActive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return model.ErrNotFound
	}
	r.touched[id]++
	return nil
}

func (r *fakeRegistry) PruneDelivered(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned = append(r.pruned, before)
	return 2, nil
}

func (r *fakeRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fixture struct {
	mux      *fakeMux
	registry *fakeRegistry
	orch     *Orchestrator
}

func found(string) (string, error)   { return "/usr/bin/agent", nil }
func missing(string) (string, error) { return "", fmt.Errorf("not found") }

func newFixture(t *testing.T, lookPath func(string) (string, error)) *fixture {
	t.Helper()
	m := newFakeMux()
	reg := newFakeRegistry()
	providers := provider.NewRegistry(
		provider.WithLookPath(lookPath),
		provider.WithShellWait(time.Second, time.Millisecond),
	)

	var seq int
	var seqMu sync.Mutex
	orch := New(m, reg, providers, Settings{
		LogDir:        t.TempDir(),
		ReadyTimeout:  50 * time.Millisecond,
		PollInterval:  time.Millisecond,
		HandoffPoll:   time.Millisecond,
		HandoffSettle: 0,
	},
		WithLogger(zaptest.NewLogger(t)),
		WithMessages(reg),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("%08x", seq)
		}),
	)
	return &fixture{mux: m, registry: reg, orch: orch}
}
