package provider

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/timvw/pane-conductor/internal/model"
)

// Info describes a provider for listings and install diagnostics.
type Info struct {
	Type        model.ProviderType `json:"type"`
	Command     string             `json:"command"`
	Description string             `json:"description"`
	InstallHint string             `json:"install"`
	DocsURL     string             `json:"docs"`
}

// Availability is the install status of one provider on this machine.
type Availability struct {
	Info
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
}

// Settings are the machine-level knobs every provider is built with.
type Settings struct {
	// LookPath resolves the CLI executable; exec.LookPath by default.
	LookPath func(string) (string, error)
	// ShellTimeout and ShellInterval bound the wait for a fresh shell.
	ShellTimeout  time.Duration
	ShellInterval time.Duration
}

// Factory builds a provider for an agent profile.
type Factory func(profile string, s Settings) Provider

// cliFactory adapts a pattern-driven CLI constructor to a Factory.
func cliFactory(newCLI func(profile string) *CLI) Factory {
	return func(profile string, s Settings) Provider {
		c := newCLI(profile)
		c.lookPath = s.LookPath
		c.shellTimeout = s.ShellTimeout
		c.shellInterval = s.ShellInterval
		return c
	}
}

type entry struct {
	info    Info
	factory Factory
}

// Registry maps provider types to factories. Adding a CLI means adding one
// entry here plus its patterns.
type Registry struct {
	entries map[model.ProviderType]entry

	lookPath      func(string) (string, error)
	shellTimeout  time.Duration
	shellInterval time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLookPath replaces exec.LookPath for availability checks.
func WithLookPath(f func(string) (string, error)) Option {
	return func(r *Registry) { r.lookPath = f }
}

// WithShellWait sets how long Initialize waits for the shell to settle.
func WithShellWait(timeout, interval time.Duration) Option {
	return func(r *Registry) {
		r.shellTimeout = timeout
		r.shellInterval = interval
	}
}

// NewRegistry creates a registry with every supported CLI.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:       make(map[model.ProviderType]entry),
		lookPath:      exec.LookPath,
		shellTimeout:  DefaultShellTimeout,
		shellInterval: DefaultShellInterval,
	}
	r.Register(Info{
		Type:        model.ProviderQ,
		Command:     "q",
		Description: "Amazon Q Developer CLI",
		InstallHint: "brew install amazon-q",
		DocsURL:     "https://docs.aws.amazon.com/amazonq/latest/qdeveloper-ug/command-line-getting-started-installing.html",
	}, cliFactory(NewQ))
	r.Register(Info{
		Type:        model.ProviderKiro,
		Command:     "kiro-cli",
		Description: "Kiro CLI",
		InstallHint: "curl -fsSL https://cli.kiro.dev/install | bash",
		DocsURL:     "https://kiro.dev/docs/cli",
	}, cliFactory(NewKiro))
	r.Register(Info{
		Type:        model.ProviderClaude,
		Command:     "claude",
		Description: "Claude Code CLI (Anthropic)",
		InstallHint: "npm install -g @anthropic-ai/claude-code",
		DocsURL:     "https://docs.anthropic.com/en/docs/claude-code",
	}, cliFactory(NewClaude))
	r.Register(Info{
		Type:        model.ProviderCodex,
		Command:     "codex",
		Description: "Codex CLI (OpenAI)",
		InstallHint: "npm install -g @openai/codex",
		DocsURL:     "https://github.com/openai/codex",
	}, cliFactory(NewCodex))
	r.Register(Info{
		Type:        model.ProviderGemini,
		Command:     "gemini",
		Description: "Gemini CLI (Google)",
		InstallHint: "npm install -g @google/gemini-cli",
		DocsURL:     "https://geminicli.com/docs/",
	}, cliFactory(NewGemini))

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(info Info, f Factory) {
	r.entries[info.Type] = entry{info: info, factory: f}
}

// New builds a provider instance for a terminal.
func (r *Registry) New(t model.ProviderType, profile string) (Provider, error) {
	e, ok := r.entries[t]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", t, model.ErrNotFound)
	}
	return e.factory(profile, Settings{
		LookPath:      r.lookPath,
		ShellTimeout:  r.shellTimeout,
		ShellInterval: r.shellInterval,
	}), nil
}

// Info returns the metadata for a provider type.
func (r *Registry) Info(t model.ProviderType) (Info, bool) {
	e, ok := r.entries[t]
	return e.info, ok
}

// Infos lists registered providers in display order.
func (r *Registry) Infos() []Info {
	var out []Info
	for _, t := range model.ProviderTypes() {
		if e, ok := r.entries[t]; ok {
			out = append(out, e.info)
		}
	}
	return out
}

// Availability checks which provider CLIs are installed.
func (r *Registry) Availability() []Availability {
	infos := r.Infos()
	out := make([]Availability, 0, len(infos))
	for _, info := range infos {
		a := Availability{Info: info}
		if path, err := r.lookPath(info.Command); err == nil {
			a.Installed = true
			a.Path = path
		}
		out = append(out, a)
	}
	return out
}
