package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Workspace is the trusted root. Descriptor paths outside it are
	// rejected before any tool invocation.
	Workspace string `yaml:"workspace"`

	Flake       FlakeConfig       `yaml:"flake"`
	Nix         NixConfig         `yaml:"nix"`
	State       StateConfig       `yaml:"state"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// FlakeConfig holds the workspace-scoped descriptor settings shared with
// the host's configuration store.
type FlakeConfig struct {
	// Path points at the flake file to resolve. Relative paths are
	// resolved against the workspace root.
	Path string `yaml:"path"`

	// Impure prepends --impure to the resolution invocation.
	Impure bool `yaml:"impure"`

	// ExtraFlags are appended verbatim after the descriptor argument.
	ExtraFlags []string `yaml:"extra_flags"`

	// AutoActivate resolves the environment on startup when no restore
	// snapshot is present.
	AutoActivate bool `yaml:"auto_activate"`

	// Watch re-publishes a descriptor-changed event when the flake file
	// is modified while active. It never re-runs the resolver by itself.
	Watch bool `yaml:"watch"`
}

type NixConfig struct {
	// Command is the resolution tool binary name or path.
	Command string `yaml:"command"`

	// ResolveTimeout bounds one print-dev-env invocation (e.g. "60s").
	ResolveTimeout string `yaml:"resolve_timeout"`

	// ProbeTimeout bounds the availability pre-check (e.g. "5s").
	ProbeTimeout string `yaml:"probe_timeout"`
}

type StateConfig struct {
	// Path of the durable activation state file, relative to the
	// workspace unless absolute.
	Path string `yaml:"path"`
}

type DiagnosticsConfig struct {
	// Path of the sqlite transcript store, relative to the workspace
	// unless absolute.
	Path string `yaml:"path"`

	// MaxAttempts caps retained resolution attempts; older rows are
	// pruned on insert.
	MaxAttempts int `yaml:"max_attempts"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying
// environment overrides. Intended for testing where env vars should not
// interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}

	if cfg.Nix.Command == "" {
		cfg.Nix.Command = "nix"
	}
	if cfg.Nix.ResolveTimeout == "" {
		cfg.Nix.ResolveTimeout = "60s"
	}
	if cfg.Nix.ProbeTimeout == "" {
		cfg.Nix.ProbeTimeout = "5s"
	}

	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(".vscode", "flakenv.state.yaml")
	}
	if cfg.Diagnostics.Path == "" {
		cfg.Diagnostics.Path = filepath.Join(".vscode", "flakenv.db")
	}
	if cfg.Diagnostics.MaxAttempts <= 0 {
		cfg.Diagnostics.MaxAttempts = 50
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:7391"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLAKENV_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("FLAKENV_FLAKE"); v != "" {
		cfg.Flake.Path = v
	}
	if v := os.Getenv("FLAKENV_NIX_COMMAND"); v != "" {
		cfg.Nix.Command = v
	}
	if v := os.Getenv("FLAKENV_IMPURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Flake.Impure = b
		}
	}
	if v := os.Getenv("FLAKENV_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if !filepath.IsAbs(cfg.Workspace) {
		abs, err := filepath.Abs(cfg.Workspace)
		if err != nil {
			return fmt.Errorf("workspace abs: %w", err)
		}
		cfg.Workspace = abs
	}

	if _, err := cfg.ResolveTimeout(); err != nil {
		return fmt.Errorf("nix.resolve_timeout: %w", err)
	}
	if _, err := cfg.ProbeTimeout(); err != nil {
		return fmt.Errorf("nix.probe_timeout: %w", err)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}
	return nil
}

func (c *Config) ResolveTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Nix.ResolveTimeout)
}

func (c *Config) ProbeTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Nix.ProbeTimeout)
}

// FlakePath returns the configured descriptor path resolved against the
// workspace, or "" when none is configured.
func (c *Config) FlakePath() string {
	if c.Flake.Path == "" {
		return ""
	}
	if filepath.IsAbs(c.Flake.Path) {
		return filepath.Clean(c.Flake.Path)
	}
	return filepath.Join(c.Workspace, c.Flake.Path)
}

// StatePath returns the durable state file path resolved against the
// workspace.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.State.Path) {
		return c.State.Path
	}
	return filepath.Join(c.Workspace, c.State.Path)
}

// DiagnosticsPath returns the transcript store path resolved against the
// workspace.
func (c *Config) DiagnosticsPath() string {
	if filepath.IsAbs(c.Diagnostics.Path) {
		return c.Diagnostics.Path
	}
	return filepath.Join(c.Workspace, c.Diagnostics.Path)
}
