package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Deactivate the environment and remove derived state",
		Args:  cobra.NoArgs,
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

			// Restore first so the deactivation event reflects whether
			// anything was actually active; deactivate itself clears
			// durable state either way.
			if _, err := restoreFromDurable(m, cfg, logger); err != nil {
				return err
			}
			if err := m.Deactivate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "environment deactivated")
			return nil
		},
	}
}
