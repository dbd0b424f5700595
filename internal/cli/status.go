package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show activation state rebuilt from durable storage",
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

			if _, err := restoreFromDurable(m, cfg, logger); err != nil {
				return err
			}
			return printJSON(cmd, m.Status())
		},
	}
}
