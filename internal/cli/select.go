package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flakenv/flakenv/internal/discover"
)

func newSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select [FLAKE_PATH]",
		Short: "Select the flake descriptor; without an argument, list candidates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				candidates, err := discover.Candidates(cfg.Workspace)
				if err != nil {
					return err
				}
				if len(candidates) == 0 {
					return NewExitError(2, "no flake.nix found in the workspace")
				}
				for _, c := range candidates {
					marker := " "
					if c == cfg.FlakePath() {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, c)
				}
				return nil
			}

			if err := cfg.SelectFlake(args[0]); err != nil {
				return NewExitError(2, err.Error())
			}
			if err := cfg.Save(configPath(cmd, cfg.Workspace)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected %s\n", cfg.FlakePath())
			return nil
		},
	}
}
