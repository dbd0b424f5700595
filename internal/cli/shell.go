package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flakenv/flakenv/internal/inject"
	"github.com/flakenv/flakenv/internal/shell"
	"github.com/flakenv/flakenv/pkg/types"
)

func newShellCmd() *cobra.Command {
	var shellBin string
	c := &cobra.Command{
		Use:   "shell [FLAKE_PATH]",
		Short: "Open an interactive shell inside the resolved environment",
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

			// Reuse a surviving activation when one exists; otherwise
			// resolve fresh before spawning the shell.
			restored, err := restoreFromDurable(m, cfg, logger)
			if err != nil {
				return err
			}
			if !restored {
				flakePath := cfg.FlakePath()
				if len(args) == 1 {
					flakePath = args[0]
				}
				if flakePath == "" {
					return NewExitError(2, "no flake configured; run `flakenv select` or pass a path")
				}
				if _, err := m.Activate(cmd.Context(), flakePath); err != nil {
					return enterError(err)
				}
			}

			broker := m.Broker()
			injector := &inject.Injector{
				Tool: cfg.Nix.Command,
				State: func() inject.Snapshot {
					return inject.Snapshot{Active: m.Active(), FlakeDir: m.FlakeDir()}
				},
				Logger: logger,
				Injected: func(sessionID string) {
					broker.Publish(types.Event{
						Type:      types.EventSessionInjected,
						SessionID: sessionID,
					})
				},
			}

			_, _, vars := m.Current()
			opts := shell.Options{
				Shell: shellBin,
				Dir:   cfg.Workspace,
				Env:   vars,
				OnSession: func(s *shell.Session) {
					broker.Publish(types.Event{
						Type:      types.EventSessionCreated,
						SessionID: s.ID(),
					})
					if err := injector.OnNewSession(s); err != nil {
						logger.Warn("session injection failed", "error", err)
					}
				},
			}
			if opts.Shell == "" {
				opts.Shell = shell.DefaultShell()
			}

			if err := shell.Run(cmd.Context(), opts); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "flakenv shell closed")
			return nil
		},
	}
	c.Flags().StringVar(&shellBin, "shell", "", "Shell binary to spawn (default: $SHELL)")
	return c
}
