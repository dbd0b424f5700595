package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDiagnosticsCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "diagnostics [ATTEMPT_ID]",
		Short: "List recent resolution attempts or dump one transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			_, diagStore, err := buildManager(cfg, logger)
			if err != nil {
				return err
			}
			if diagStore == nil {
				return NewExitError(2, "diagnostics store unavailable")
			}
			defer diagStore.Close()

			if len(args) == 1 {
				lines, err := diagStore.Transcript(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, l := range lines {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", l.Stream, l.Line)
				}
				return nil
			}

			attempts, err := diagStore.RecentAttempts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, attempts)
		},
	}
	c.Flags().IntVar(&limit, "limit", 10, "Number of attempts to list")
	return c
}
