// Package config loads pane-conductor configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (PANE_CONDUCTOR_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. .pane-conductor.yaml in current directory
//  2. ~/.config/pane-conductor/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timvw/pane-conductor/internal/model"
)

const localFile = ".pane-conductor.yaml"

// TeamMember is one agent started by `team start`.
type TeamMember struct {
	Agent    string `yaml:"agent"`
	Provider string `yaml:"provider,omitempty"` // empty uses ProviderFor(Agent)
}

// Config holds all pane-conductor configuration.
type Config struct {
	// Providers
	DefaultProvider string            `yaml:"default_provider"`
	AgentProviders  map[string]string `yaml:"agent_providers,omitempty"`

	// Terminals
	SessionPrefix string `yaml:"session_prefix"`
	HistoryLines  int    `yaml:"history_lines"`
	Parallel      int    `yaml:"parallel"`

	// State locations
	DBPath  string `yaml:"db_path"`
	LogDir  string `yaml:"log_dir"`
	LockDir string `yaml:"lock_dir"`

	// Timing (Go duration strings, e.g. "30s")
	ReadyTimeout      string `yaml:"ready_timeout"`
	PollInterval      string `yaml:"poll_interval"`
	InboxPollInterval string `yaml:"inbox_poll_interval"`
	HandoffTimeout    string `yaml:"handoff_timeout"`
	Retention         string `yaml:"retention"` // "0"/"off" disables cleanup
	Refresh           string `yaml:"refresh"`   // monitor refresh

	// Inbox
	DeliverOnCompleted bool `yaml:"deliver_on_completed"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs

	Team []TeamMember `yaml:"team,omitempty"`

	// Parsed durations (not from YAML, set after loading)
	ReadyTimeoutDuration      time.Duration `yaml:"-"`
	PollIntervalDuration      time.Duration `yaml:"-"`
	InboxPollIntervalDuration time.Duration `yaml:"-"`
	HandoffTimeoutDuration    time.Duration `yaml:"-"`
	RetentionDuration         time.Duration `yaml:"-"`
	RefreshDuration           time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// DataDir is where the database, logs and locks live by default.
func DataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "pane-conductor")
	}
	return filepath.Join(os.TempDir(), "pane-conductor")
}

// UserConfigPath is the per-user config file.
func UserConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "pane-conductor", "config.yaml")
	}
	return localFile
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	data := DataDir()
	return &Config{
		DefaultProvider:   string(model.ProviderQ),
		SessionPrefix:     "conductor-",
		HistoryLines:      200,
		Parallel:          8,
		DBPath:            filepath.Join(data, "conductor.db"),
		LogDir:            filepath.Join(data, "logs"),
		LockDir:           filepath.Join(data, "locks"),
		ReadyTimeout:      "30s",
		PollInterval:      "500ms",
		InboxPollInterval: "5s",
		HandoffTimeout:    "10m",
		Retention:         "168h",
		Refresh:           "2s",
		LogLevel:          "info",
	}
}

// Load reads configuration from path (or the search locations when path is
// empty) and environment variables. Environment variables always override
// file values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	var data []byte
	var err error
	if path != "" {
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		path, data, err = findConfigFile()
	}
	if err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	}

	mergeEnv(cfg)

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) parseDurations() error {
	fields := []struct {
		name     string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"ready timeout", cfg.ReadyTimeout, 30 * time.Second, &cfg.ReadyTimeoutDuration},
		{"poll interval", cfg.PollInterval, 500 * time.Millisecond, &cfg.PollIntervalDuration},
		{"inbox poll interval", cfg.InboxPollInterval, 5 * time.Second, &cfg.InboxPollIntervalDuration},
		{"handoff timeout", cfg.HandoffTimeout, 10 * time.Minute, &cfg.HandoffTimeoutDuration},
		{"retention", cfg.Retention, 7 * 24 * time.Hour, &cfg.RetentionDuration},
		{"refresh interval", cfg.Refresh, 2 * time.Second, &cfg.RefreshDuration},
	}
	for _, f := range fields {
		d, err := parseDurationOrDisable(f.raw, f.fallback)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	if data, err := os.ReadFile(localFile); err == nil {
		return localFile, data, nil
	}

	path := UserConfigPath()
	if data, err := os.ReadFile(path); err == nil {
		return path, data, nil
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.DefaultProvider != "" {
		cfg.DefaultProvider = file.DefaultProvider
	}
	if len(file.AgentProviders) > 0 {
		cfg.AgentProviders = file.AgentProviders
	}
	if file.SessionPrefix != "" {
		cfg.SessionPrefix = file.SessionPrefix
	}
	if file.HistoryLines > 0 {
		cfg.HistoryLines = file.HistoryLines
	}
	if file.Parallel > 0 {
		cfg.Parallel = file.Parallel
	}
	if file.DBPath != "" {
		cfg.DBPath = file.DBPath
	}
	if file.LogDir != "" {
		cfg.LogDir = file.LogDir
	}
	if file.LockDir != "" {
		cfg.LockDir = file.LockDir
	}
	if file.ReadyTimeout != "" {
		cfg.ReadyTimeout = file.ReadyTimeout
	}
	if file.PollInterval != "" {
		cfg.PollInterval = file.PollInterval
	}
	if file.InboxPollInterval != "" {
		cfg.InboxPollInterval = file.InboxPollInterval
	}
	if file.HandoffTimeout != "" {
		cfg.HandoffTimeout = file.HandoffTimeout
	}
	if file.Retention != "" {
		cfg.Retention = file.Retention
	}
	if file.Refresh != "" {
		cfg.Refresh = file.Refresh
	}
	if file.DeliverOnCompleted {
		cfg.DeliverOnCompleted = true
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
	if len(file.Team) > 0 {
		cfg.Team = file.Team
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	strs := []struct {
		key string
		dst *string
	}{
		{"PANE_CONDUCTOR_DEFAULT_PROVIDER", &cfg.DefaultProvider},
		{"PANE_CONDUCTOR_SESSION_PREFIX", &cfg.SessionPrefix},
		{"PANE_CONDUCTOR_DB_PATH", &cfg.DBPath},
		{"PANE_CONDUCTOR_LOG_DIR", &cfg.LogDir},
		{"PANE_CONDUCTOR_LOCK_DIR", &cfg.LockDir},
		{"PANE_CONDUCTOR_READY_TIMEOUT", &cfg.ReadyTimeout},
		{"PANE_CONDUCTOR_POLL_INTERVAL", &cfg.PollInterval},
		{"PANE_CONDUCTOR_INBOX_POLL_INTERVAL", &cfg.InboxPollInterval},
		{"PANE_CONDUCTOR_HANDOFF_TIMEOUT", &cfg.HandoffTimeout},
		{"PANE_CONDUCTOR_RETENTION", &cfg.Retention},
		{"PANE_CONDUCTOR_REFRESH", &cfg.Refresh},
		{"PANE_CONDUCTOR_LOG_LEVEL", &cfg.LogLevel},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTELEndpoint},
		{"OTEL_EXPORTER_OTLP_HEADERS", &cfg.OTELHeaders},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("PANE_CONDUCTOR_HISTORY_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryLines = n
		}
	}
	if v := os.Getenv("PANE_CONDUCTOR_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Parallel = n
		}
	}
	if v := os.Getenv("PANE_CONDUCTOR_DELIVER_ON_COMPLETED"); v == "true" || v == "1" {
		cfg.DeliverOnCompleted = true
	}
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Provider returns the validated default provider, falling back to q_cli.
func (cfg *Config) Provider() model.ProviderType {
	if p, err := model.ParseProviderType(cfg.DefaultProvider); err == nil {
		return p
	}
	return model.ProviderQ
}

// ProviderFor returns the provider configured for an agent profile, or the
// default provider when there is no valid override.
func (cfg *Config) ProviderFor(profile string) model.ProviderType {
	if name, ok := cfg.AgentProviders[profile]; ok {
		if p, err := model.ParseProviderType(name); err == nil {
			return p
		}
	}
	return cfg.Provider()
}

// SetProvider sets the default provider, or the override for profile when
// profile is non-empty.
func (cfg *Config) SetProvider(profile, name string) error {
	p, err := model.ParseProviderType(name)
	if err != nil {
		return err
	}
	if profile == "" {
		cfg.DefaultProvider = string(p)
		return nil
	}
	if cfg.AgentProviders == nil {
		cfg.AgentProviders = make(map[string]string)
	}
	cfg.AgentProviders[profile] = string(p)
	return nil
}

// Save writes the configuration to path as YAML.
func (cfg *Config) Save(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
