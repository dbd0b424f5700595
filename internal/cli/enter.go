package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flakenv/flakenv/internal/envstate"
	"github.com/flakenv/flakenv/internal/nix"
)

func newEnterCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "enter [FLAKE_PATH]",
		Short: "Resolve the flake environment and activate it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			m, diagStore, err := buildManager(cfg, logger)
			if err != nil {
				return err
			}
			if diagStore != nil {
				defer diagStore.Close()
			}

			if restored, err := restoreFromDurable(m, cfg, logger); err != nil {
				return err
			} else if restored {
				return NewExitError(0, "environment already active (restored from saved state); run `flakenv exit` first to re-enter")
			}

			flakePath := cfg.FlakePath()
			if len(args) == 1 {
				flakePath = args[0]
			}
			if flakePath == "" {
				return NewExitError(2, "no flake configured; run `flakenv select` or pass a path")
			}

			vars, err := m.Activate(cmd.Context(), flakePath)
			if err != nil {
				return enterError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "environment active: %d variables from %s\n", len(vars), flakePath)
			return nil
		},
	}
	return c
}

// enterError maps activation failures onto concise one-line messages.
// Full transcripts stay in the diagnostics store; they are never echoed
// here.
func enterError(err error) error {
	var (
		vErr   *envstate.ValidationError
		resErr *nix.ResolutionError
		toErr  *nix.TimeoutError
	)
	switch {
	case errors.As(err, &vErr):
		return NewExitError(2, err.Error())
	case errors.Is(err, envstate.ErrToolUnavailable):
		return NewExitError(3, "nix is not installed or not on PATH")
	case errors.As(err, &toErr):
		return NewExitError(4, fmt.Sprintf("%v; see `flakenv diagnostics` for the transcript", toErr))
	case errors.As(err, &resErr):
		return NewExitError(5, fmt.Sprintf("nix exited with code %d; see `flakenv diagnostics` for the transcript", resErr.ExitCode))
	default:
		return err
	}
}
