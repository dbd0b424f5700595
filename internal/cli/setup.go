package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flakenv/flakenv/internal/artifact"
	"github.com/flakenv/flakenv/internal/config"
	"github.com/flakenv/flakenv/internal/diag"
	"github.com/flakenv/flakenv/internal/envstate"
	"github.com/flakenv/flakenv/internal/events"
	"github.com/flakenv/flakenv/internal/nix"
	"github.com/flakenv/flakenv/internal/persist"
)

func configPath(cmd *cobra.Command, cfgWorkspace string) string {
	if p, _ := cmd.Root().PersistentFlags().GetString("config"); p != "" {
		return p
	}
	return filepath.Join(cfgWorkspace, ".vscode", "flakenv.yaml")
}

// loadConfig reads the config file when present, otherwise starts from
// defaults. The --workspace flag wins over both.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	workspace, _ := cmd.Root().PersistentFlags().GetString("workspace")
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getwd: %w", err)
		}
		workspace = wd
	}

	path := configPath(cmd, workspace)
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	if flagWS, _ := cmd.Root().PersistentFlags().GetString("workspace"); flagWS != "" {
		abs, err := filepath.Abs(flagWS)
		if err != nil {
			return nil, fmt.Errorf("workspace abs: %w", err)
		}
		cfg.Workspace = abs
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildManager assembles the manager and its collaborators from config.
// The diagnostics store is optional; a failure to open it degrades to
// unrecorded transcripts rather than blocking the command.
func buildManager(cfg *config.Config, logger *slog.Logger) (*envstate.Manager, *diag.Store, error) {
	bridge, err := persist.NewBridge(cfg.StatePath())
	if err != nil {
		return nil, nil, err
	}
	bridge.Settings = persist.Settings{
		Impure:       cfg.Flake.Impure,
		ExtraFlags:   cfg.Flake.ExtraFlags,
		AutoActivate: cfg.Flake.AutoActivate,
	}
	bridge.Logger = logger

	resolveTimeout, err := cfg.ResolveTimeout()
	if err != nil {
		return nil, nil, err
	}
	probeTimeout, err := cfg.ProbeTimeout()
	if err != nil {
		return nil, nil, err
	}

	diagStore, err := diag.Open(cfg.DiagnosticsPath(), cfg.Diagnostics.MaxAttempts)
	if err != nil {
		logger.Warn("diagnostics store unavailable", "error", err)
		diagStore = nil
	}

	resolve := func(ctx context.Context, flakePath string, observe nix.Observer) (map[string]string, error) {
		r := &nix.Resolver{
			Command:    cfg.Nix.Command,
			Timeout:    resolveTimeout,
			Impure:     cfg.Flake.Impure,
			ExtraFlags: cfg.Flake.ExtraFlags,
			Observer:   observe,
			Logger:     logger,
		}
		return r.Resolve(ctx, flakePath)
	}
	probe := func(ctx context.Context) bool {
		return nix.Probe(ctx, cfg.Nix.Command, probeTimeout)
	}

	opts := envstate.Options{
		Workspace: cfg.Workspace,
		Resolve:   resolve,
		Probe:     probe,
		Bridge:    bridge,
		Artifacts: &artifact.Writer{Logger: logger},
		Broker:    events.NewBroker(),
		Logger:    logger,
	}
	if diagStore != nil {
		opts.Recorder = diagStore
	}
	return envstate.New(opts), diagStore, nil
}

// restoreFromDurable rebuilds activation state from the durable slots.
// Never invokes the resolution tool. A corrupt state file reads as
// absent, so callers still reach deactivation.
func restoreFromDurable(m *envstate.Manager, cfg *config.Config, logger *slog.Logger) (bool, error) {
	bridge, err := persist.NewBridge(cfg.StatePath())
	if err != nil {
		return false, err
	}
	bridge.Logger = logger
	snap, err := bridge.Read()
	if err != nil {
		return false, err
	}
	return m.Restore(snap), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
