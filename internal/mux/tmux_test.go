package mux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/timvw/pane-conductor/internal/model"
)

// fakeRunner records tmux invocations and returns canned output keyed by
// the joined argv.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	output map[string]string
	errs   map[string]error
	// prefixErrs fail any call whose argv starts with the key.
	prefixErrs map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		output:     make(map[string]string),
		errs:       make(map[string]error),
		prefixErrs: make(map[string]error),
	}
}

func key(args ...string) string {
	return strings.Join(args, " ")
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))
	k := key(args...)
	if err, ok := f.errs[k]; ok {
		return "", err
	}
	for prefix, err := range f.prefixErrs {
		if strings.HasPrefix(k, prefix) {
			return "", err
		}
	}
	return f.output[k], nil
}

// findCalls returns every call for the given tmux subcommand.
func (f *fakeRunner) findCalls(subcmd string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, call := range f.calls {
		if len(call) > 0 && call[0] == subcmd {
			out = append(out, call)
		}
	}
	return out
}

func callHasArg(call []string, arg string) bool {
	for _, a := range call {
		if a == arg {
			return true
		}
	}
	return false
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestTmux(r Runner) *Tmux {
	return NewTmux(WithRunner(r), WithSleep(noSleep))
}

const paneFormat = "#{pane_id}\t#{pane_index}\t#{pane_active}\t#{pane_title}\t#{pane_current_command}"

func TestCreateSession_Args(t *testing.T) {
	r := newFakeRunner()
	r.output[key("new-session", "-d", "-s", "conductor-ab12cd34", "-n", "dev-1f2e",
		"-P", "-F", "#{window_name}", "-e", TerminalIDEnv+"=deadbeef", "-c", "/work")] = "dev-1f2e\n"
	tm := newTestTmux(r)

	got, err := tm.CreateSession(context.Background(), "conductor-ab12cd34", "dev-1f2e", "deadbeef", "/work")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if got != "dev-1f2e" {
		t.Errorf("window = %q, want dev-1f2e", got)
	}
	calls := r.findCalls("new-session")
	if len(calls) != 1 {
		t.Fatalf("expected 1 new-session call, got %d", len(calls))
	}
	if !callHasArg(calls[0], TerminalIDEnv+"=deadbeef") {
		t.Errorf("terminal id not exported: %v", calls[0])
	}
}

func TestCreateSession_Duplicate(t *testing.T) {
	r := newFakeRunner()
	r.prefixErrs["new-session"] = fmt.Errorf("exit status 1: duplicate session: conductor-x")
	tm := newTestTmux(r)

	_, err := tm.CreateSession(context.Background(), "conductor-x", "dev-0000", "id", "")
	if !errors.Is(err, model.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"can't find session: conductor-x", model.ErrNotFound},
		{"can't find window: dev", model.ErrNotFound},
		{"can't find pane: %9", model.ErrNotFound},
		{"no server running on /tmp/tmux-0/default", model.ErrNotFound},
		{"error connecting to /tmp/tmux-0/default (No such file or directory)", model.ErrNotFound},
		{"duplicate session: conductor-x", model.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			err := classify(fmt.Errorf("exit status 1: %s", tt.stderr))
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%q) = %v, want %v", tt.stderr, err, tt.want)
			}
		})
	}

	plain := classify(errors.New("exit status 1: unknown option"))
	if errors.Is(plain, model.ErrNotFound) || errors.Is(plain, model.ErrAlreadyExists) {
		t.Errorf("unrelated error was classified: %v", plain)
	}
}

func TestSessionExists(t *testing.T) {
	r := newFakeRunner()
	r.errs[key("has-session", "-t", "=gone")] = errors.New("exit status 1: can't find session: gone")
	tm := newTestTmux(r)

	ok, err := tm.SessionExists(context.Background(), "live")
	if err != nil || !ok {
		t.Errorf("SessionExists(live) = %v, %v; want true, nil", ok, err)
	}
	ok, err = tm.SessionExists(context.Background(), "gone")
	if err != nil || ok {
		t.Errorf("SessionExists(gone) = %v, %v; want false, nil", ok, err)
	}
}

func TestSendKeys_ChunksAndEnter(t *testing.T) {
	r := newFakeRunner()
	tm := newTestTmux(r)

	words := make([]string, 0, 50)
	for len(strings.Join(words, " ")) < 250 {
		words = append(words, "word")
	}
	msg := strings.Join(words, " ")[:250]
	// Trailing partial word is fine; it is still never split across chunks.

	if err := tm.SendKeys(context.Background(), Target{Session: "s", Window: "w"}, msg); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}

	calls := r.findCalls("send-keys")
	if len(calls) < 3 {
		t.Fatalf("expected at least 2 chunks plus Enter, got %d calls", len(calls))
	}
	last := calls[len(calls)-1]
	if diff := cmp.Diff([]string{"send-keys", "-t", "=s:w", "C-m"}, last); diff != "" {
		t.Errorf("final call mismatch (-want +got):\n%s", diff)
	}

	var rebuilt strings.Builder
	for _, call := range calls[:len(calls)-1] {
		if !callHasArg(call, "-l") {
			t.Errorf("chunk not sent literally: %v", call)
		}
		rebuilt.WriteString(call[len(call)-1])
	}
	if rebuilt.String() != msg {
		t.Errorf("chunks do not reassemble:\n got %q\nwant %q", rebuilt.String(), msg)
	}
}

func TestSendKeys_EmptyTextSendsOnlyEnter(t *testing.T) {
	r := newFakeRunner()
	tm := newTestTmux(r)

	if err := tm.SendKeys(context.Background(), Target{Session: "s", Window: "w"}, ""); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	calls := r.findCalls("send-keys")
	if len(calls) != 1 || !callHasArg(calls[0], "C-m") {
		t.Errorf("expected a lone C-m, got %v", calls)
	}
}

func TestSendKeys_PaneMustBelongToWindow(t *testing.T) {
	r := newFakeRunner()
	r.output[key("list-panes", "-t", "=s:w", "-F", paneFormat)] = "%1\t0\t1\tlead\tzsh\n%2\t1\t0\tdev\tzsh\n"
	tm := newTestTmux(r)

	if err := tm.SendKeys(context.Background(), Target{Session: "s", Window: "w", Pane: "%2"}, "hi"); err != nil {
		t.Fatalf("SendKeys to owned pane: %v", err)
	}
	first := r.findCalls("send-keys")[0]
	if diff := cmp.Diff([]string{"send-keys", "-t", "%2", "-l", "--", "hi"}, first); diff != "" {
		t.Errorf("send-keys mismatch (-want +got):\n%s", diff)
	}

	err := tm.SendKeys(context.Background(), Target{Session: "s", Window: "w", Pane: "%7"}, "hi")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign pane, got %v", err)
	}
}

func TestSendKeys_FailureSurfaces(t *testing.T) {
	r := newFakeRunner()
	r.prefixErrs["send-keys"] = errors.New("exit status 1: can't find window: w")
	tm := newTestTmux(r)

	err := tm.SendKeys(context.Background(), Target{Session: "s", Window: "w"}, "hello")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePane(t *testing.T) {
	r := newFakeRunner()
	r.output[key("list-panes", "-t", "=s:w", "-F", paneFormat)] = "%1\t0\t1\tlead\tzsh\n"
	r.output[key("split-window", "-h", "-t", "%1", "-P", "-F", "#{pane_id}",
		"-e", TerminalIDEnv+"=abcd", "-l", "30%")] = "%5\n"
	tm := newTestTmux(r)

	id, err := tm.CreatePane(context.Background(), "s", "w", "abcd",
		SplitOptions{Vertical: true, TargetPane: "%1", SizePct: 30})
	if err != nil {
		t.Fatalf("CreatePane: %v", err)
	}
	if id != "%5" {
		t.Errorf("pane id = %q, want %%5", id)
	}

	if _, err := tm.CreatePane(context.Background(), "s", "w", "abcd", SplitOptions{SizePct: 150}); err == nil {
		t.Error("expected error for size over 99%")
	}
}

func TestHistory(t *testing.T) {
	r := newFakeRunner()
	r.output[key("capture-pane", "-e", "-p", "-S", "-200", "-t", "=s:w")] = "line1\nline2\n"
	r.output[key("capture-pane", "-e", "-p", "-S", "-50", "-t", "=s:w")] = "tail\n"
	tm := newTestTmux(r)

	got, err := tm.History(context.Background(), Target{Session: "s", Window: "w"}, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got != "line1\nline2" {
		t.Errorf("History = %q", got)
	}
	got, _ = tm.History(context.Background(), Target{Session: "s", Window: "w"}, 50)
	if got != "tail" {
		t.Errorf("History(50) = %q, want tail", got)
	}
}

func TestPipePane_QuotesPath(t *testing.T) {
	r := newFakeRunner()
	tm := newTestTmux(r)

	if err := tm.PipePane(context.Background(), Target{Session: "s", Window: "w"}, "/tmp/it's.log"); err != nil {
		t.Fatalf("PipePane: %v", err)
	}
	call := r.findCalls("pipe-pane")[0]
	want := []string{"pipe-pane", "-o", "-t", "=s:w", `cat >> '/tmp/it'\''s.log'`}
	if diff := cmp.Diff(want, call); diff != "" {
		t.Errorf("pipe-pane mismatch (-want +got):\n%s", diff)
	}
}

func TestListSessions(t *testing.T) {
	r := newFakeRunner()
	r.output[key("list-sessions", "-F", "#{session_name}\t#{session_attached}\t#{session_windows}")] =
		"conductor-aa\t1\t3\nother\t0\t1\n"
	tm := newTestTmux(r)

	got, err := tm.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	want := []model.Session{
		{Name: "conductor-aa", Attached: true, Windows: 3},
		{Name: "other", Attached: false, Windows: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestListSessions_NoServer(t *testing.T) {
	r := newFakeRunner()
	r.prefixErrs["list-sessions"] = errors.New("exit status 1: no server running on /tmp/tmux-0/default")
	tm := newTestTmux(r)

	got, err := tm.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no sessions, got %v", got)
	}
}

func TestListPanes(t *testing.T) {
	r := newFakeRunner()
	r.output[key("list-panes", "-t", "=s:w", "-F", paneFormat)] = "%1\t0\t1\tsupervisor\tclaude\n%4\t1\t0\tdev\tcodex\n"
	tm := newTestTmux(r)

	got, err := tm.ListPanes(context.Background(), "s", "w")
	if err != nil {
		t.Fatalf("ListPanes: %v", err)
	}
	want := []Pane{
		{ID: "%1", Index: 0, Active: true, Title: "supervisor", Command: "claude"},
		{ID: "%4", Index: 1, Active: false, Title: "dev", Command: "codex"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("panes mismatch (-want +got):\n%s", diff)
	}
}

func TestResizePane_NoSizeIsNoop(t *testing.T) {
	r := newFakeRunner()
	tm := newTestTmux(r)

	if err := tm.ResizePane(context.Background(), Target{Session: "s", Window: "w"}, ResizeOptions{}); err != nil {
		t.Fatalf("ResizePane: %v", err)
	}
	if len(r.findCalls("resize-pane")) != 0 {
		t.Error("resize-pane should not run without a size")
	}
}

func TestEnablePaneBorders(t *testing.T) {
	r := newFakeRunner()
	tm := newTestTmux(r)

	if err := tm.EnablePaneBorders(context.Background(), "s", "w"); err != nil {
		t.Fatalf("EnablePaneBorders: %v", err)
	}
	calls := r.findCalls("set-window-option")
	if len(calls) != 2 {
		t.Fatalf("expected 2 set-window-option calls, got %d", len(calls))
	}
	if !callHasArg(calls[0], "pane-border-status") || !callHasArg(calls[1], " #{pane_title} ") {
		t.Errorf("unexpected border options: %v", calls)
	}
}

func TestFromName(t *testing.T) {
	if _, err := FromName("tmux"); err != nil {
		t.Errorf("FromName(tmux): %v", err)
	}
	if _, err := FromName("screen"); err == nil {
		t.Error("expected error for unknown multiplexer")
	}
}
