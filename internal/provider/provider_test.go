package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/timvw/pane-conductor/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		provider *CLI
		text     string
		want     model.Status
	}{
		{"empty", NewCodex(""), "", model.StatusError},
		{"whitespace only", NewCodex(""), "  \n \n", model.StatusProcessing},
		{"blank fresh pane", NewQ("dev"), "\n\n\n", model.StatusProcessing},
		{"codex idle prompt only", NewCodex(""), "> ", model.StatusIdle},
		{"codex completed", NewCodex(""), "$ codex\nHere is the fix.\n> ", model.StatusCompleted},
		{"codex spinner", NewCodex(""), "$ codex\n⠋ Working", model.StatusProcessing},
		{"codex no prompt", NewCodex(""), "$ codex\nloading model", model.StatusProcessing},
		{"codex error without prompt", NewCodex(""), "$ codex\nError: rate limited", model.StatusError},
		{"codex error above prompt", NewCodex(""), "Error: retrying\ndone\n> ", model.StatusCompleted},
		{"codex ansi colored prompt", NewCodex(""), "\x1b[32m>\x1b[0m ", model.StatusIdle},
		{"gemini thinking", NewGemini(""), "gemini\nTHINKING about it", model.StatusProcessing},
		{"gemini api error", NewGemini(""), "gemini\nAPI Error 429", model.StatusError},
		{"gemini chevron idle", NewGemini(""), "❯ ", model.StatusIdle},
		{"claude nbsp prompt", NewClaude(""), "Welcome\n❯ ", model.StatusCompleted},
		{"claude spinner", NewClaude(""), "✻ Pondering… (esc to interrupt)", model.StatusProcessing},
		{"q idle", NewQ("dev"), "[dev] > ", model.StatusIdle},
		{"q completed", NewQ("dev"), "q chat --agent dev\nAll tests pass.\n[dev] > ", model.StatusCompleted},
		{"kiro thinking", NewKiro("dev"), "kiro-cli chat --agent dev\nThinking", model.StatusProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.provider.Status(tt.text); got != tt.want {
				t.Errorf("Status(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

// Properties that hold for every CLI: a bare prompt is idle, content plus
// a prompt is completed, and a trailing spinner without prompt is processing.
func TestClassify_AllProviders(t *testing.T) {
	r := NewRegistry()
	prompts := map[model.ProviderType]string{
		model.ProviderCodex:  "> ",
		model.ProviderGemini: "> ",
		model.ProviderClaude: "> ",
		model.ProviderQ:      "[dev] > ",
		model.ProviderKiro:   "[dev] > ",
	}
	for _, typ := range model.ProviderTypes() {
		t.Run(string(typ), func(t *testing.T) {
			p, err := r.New(typ, "dev")
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			prompt := prompts[typ]

			if got := p.Status(prompt); got != model.StatusIdle {
				t.Errorf("bare prompt: got %s, want idle", got)
			}
			if got := p.Status("answer line\n" + prompt); got != model.StatusCompleted {
				t.Errorf("content + prompt: got %s, want completed", got)
			}
			if got := p.Status("answer\n⠋"); got != model.StatusProcessing {
				t.Errorf("spinner: got %s, want processing", got)
			}
			if got := p.Status("\x1b[31mCannot connect\x1b[0m"); got != model.StatusError {
				t.Errorf("error keyword: got %s, want error", got)
			}
		})
	}
}

func TestExtractLastMessage(t *testing.T) {
	tests := []struct {
		name     string
		provider *CLI
		text     string
		want     string
		wantErr  error
	}{
		{
			name:     "drops command echo",
			provider: NewCodex(""),
			text:     "codex\nThe answer is 42.\n\nSecond line.\n> ",
			want:     "The answer is 42.\nSecond line.",
		},
		{
			name:     "drops shell line",
			provider: NewGemini(""),
			text:     "$ gemini\n  result  \n❯ ",
			want:     "result",
		},
		{
			name:     "keeps first line that is not an echo",
			provider: NewCodex(""),
			text:     "Summary\nbody\n> ",
			want:     "Summary\nbody",
		},
		{
			name:     "strips escapes and control chars",
			provider: NewClaude(""),
			text:     "\x1b[1mBold\x1b[0m text[?25l\x07\n❯ ",
			want:     "Bold text",
		},
		{
			name:     "multi-line answer before agent prompt",
			provider: NewQ("dev"),
			text:     "q chat --agent dev\nfirst answer\nsecond answer\n[dev] > ",
			want:     "first answer\nsecond answer",
		},
		{
			name:     "answer starting with the binary name",
			provider: NewQ("dev"),
			text:     "quick fix applied to main.go\nall tests pass\n[dev] > ",
			want:     "quick fix applied to main.go\nall tests pass",
		},
		{
			name:     "answer starting with the binary as a word",
			provider: NewCodex(""),
			text:     "codex-style output follows\n> ",
			want:     "codex-style output follows",
		},
		{
			name:     "no prompt",
			provider: NewCodex(""),
			text:     "still working",
			wantErr:  model.ErrIncompleteResponse,
		},
		{
			name:     "only command echo",
			provider: NewCodex(""),
			text:     "codex\n\n> ",
			wantErr:  model.ErrEmptyResponse,
		},
		{
			name:     "only prompt",
			provider: NewGemini(""),
			text:     "> ",
			wantErr:  model.ErrEmptyResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.provider.ExtractLastMessage(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v (msg %q)", tt.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractLastMessage: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdlePatternForLogs(t *testing.T) {
	r := NewRegistry()
	for _, typ := range model.ProviderTypes() {
		p, _ := r.New(typ, "dev")
		if p.IdlePatternForLogs() == nil {
			t.Errorf("%s: missing log idle pattern", typ)
		}
	}
	q, _ := r.New(model.ProviderQ, "dev")
	if !q.IdlePatternForLogs().MatchString("\x1b[0m[dev] > \x1b[K") {
		t.Error("q log pattern should match a prompt mid-stream")
	}
}

func TestCommandAndExit(t *testing.T) {
	tests := []struct {
		p        *CLI
		wantCmd  string
		wantExit string
	}{
		{NewCodex("dev"), "codex", "/exit"},
		{NewGemini("dev"), "gemini", "/exit"},
		{NewClaude("dev"), "claude", "/exit"},
		{NewQ("developer"), "q chat --agent developer", "/quit"},
		{NewKiro("reviewer"), "kiro-cli chat --agent reviewer", "/quit"},
	}
	for _, tt := range tests {
		if got := tt.p.Command(); got != tt.wantCmd {
			t.Errorf("%s Command() = %q, want %q", tt.p.Type(), got, tt.wantCmd)
		}
		if got := tt.p.ExitCommand(); got != tt.wantExit {
			t.Errorf("%s ExitCommand() = %q, want %q", tt.p.Type(), got, tt.wantExit)
		}
	}
}

// fakeConsole renders a fixed sequence of history snapshots and records
// everything typed into it.
type fakeConsole struct {
	mu      sync.Mutex
	history []string
	calls   int
	sent    []string
	sendErr error
}

func (c *fakeConsole) History(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.history) {
		idx = len(c.history) - 1
	}
	c.calls++
	if idx < 0 {
		return "", nil
	}
	return c.history[idx], nil
}

func (c *fakeConsole) SendInput(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func found(string) (string, error)   { return "/usr/local/bin/x", nil }
func missing(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

func TestInitialize_LaunchesAfterShellSettles(t *testing.T) {
	r := NewRegistry(WithLookPath(found), WithShellWait(time.Second, time.Millisecond))
	p, _ := r.New(model.ProviderQ, "developer")
	console := &fakeConsole{history: []string{"", "user@host", "user@host $", "user@host $"}}

	if err := p.Initialize(context.Background(), console); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if diff := cmp.Diff([]string{"q chat --agent developer"}, console.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if !p.(*CLI).Initialized() {
		t.Error("provider should be initialized")
	}

	p.Cleanup()
	p.Cleanup()
	if p.(*CLI).Initialized() {
		t.Error("Cleanup should reset the initialized flag")
	}
}

func TestInitialize_Unavailable(t *testing.T) {
	r := NewRegistry(WithLookPath(missing))
	p, _ := r.New(model.ProviderCodex, "")
	console := &fakeConsole{history: []string{"$"}}

	err := p.Initialize(context.Background(), console)
	if !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnavailableError, got %T", err)
	}
	if !strings.Contains(ue.InstallHint, "@openai/codex") {
		t.Errorf("install hint = %q", ue.InstallHint)
	}
	if len(console.sent) != 0 {
		t.Errorf("nothing should be typed, got %v", console.sent)
	}
}

func TestInitialize_ShellNeverSettles(t *testing.T) {
	r := NewRegistry(WithLookPath(found), WithShellWait(30*time.Millisecond, time.Millisecond))
	p, _ := r.New(model.ProviderGemini, "")
	console := &fakeConsole{history: []string{""}}

	err := p.Initialize(context.Background(), console)
	if !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(WithLookPath(func(cmd string) (string, error) {
		if cmd == "claude" {
			return "/opt/bin/claude", nil
		}
		return "", errors.New("not found")
	}))

	if _, err := r.New("opencode", "dev"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown provider, got %v", err)
	}

	var installed []string
	for _, a := range r.Availability() {
		if a.Installed {
			installed = append(installed, string(a.Type)+"="+a.Path)
		}
	}
	if diff := cmp.Diff([]string{"claude_code=/opt/bin/claude"}, installed); diff != "" {
		t.Errorf("availability mismatch (-want +got):\n%s", diff)
	}

	info, ok := r.Info(model.ProviderKiro)
	if !ok || info.Command != "kiro-cli" {
		t.Errorf("Info(kiro) = %+v, %v", info, ok)
	}
	if got := len(r.Infos()); got != len(model.ProviderTypes()) {
		t.Errorf("Infos() has %d entries, want %d", got, len(model.ProviderTypes()))
	}
}

// recordingProvider is a variant that is not pattern-driven.
type recordingProvider struct {
	Provider
	profile  string
	settings Settings
}

func TestRegistry_CustomFactory(t *testing.T) {
	lookPath := func(string) (string, error) { return "/usr/bin/true", nil }
	r := NewRegistry(WithLookPath(lookPath), WithShellWait(3*time.Second, 7*time.Millisecond))
	r.Register(Info{Type: model.ProviderCodex, Command: "codex"}, func(profile string, s Settings) Provider {
		return &recordingProvider{Provider: NewCodex(profile), profile: profile, settings: s}
	})

	p, err := r.New(model.ProviderCodex, "reviewer")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rp, ok := p.(*recordingProvider)
	if !ok {
		t.Fatalf("New returned %T, want *recordingProvider", p)
	}
	if rp.profile != "reviewer" {
		t.Errorf("profile = %q", rp.profile)
	}
	if rp.settings.ShellTimeout != 3*time.Second || rp.settings.ShellInterval != 7*time.Millisecond {
		t.Errorf("settings = %+v", rp.settings)
	}
	if path, _ := rp.settings.LookPath("codex"); path != "/usr/bin/true" {
		t.Errorf("LookPath not passed through, got %q", path)
	}
}
