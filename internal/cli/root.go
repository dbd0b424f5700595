// Package cli wires the cobra command surface: enter, exit, select,
// status, diagnostics, shell, and serve.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "flakenv",
		Short:         "flakenv: nix flake development environment manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("flakenv {{.Version}}\n")

	cmd.PersistentFlags().String("config", "", "Config file path (default: .vscode/flakenv.yaml in the workspace)")
	cmd.PersistentFlags().String("workspace", "", "Workspace root (default: current directory)")

	cmd.AddCommand(newEnterCmd())
	cmd.AddCommand(newExitCmd())
	cmd.AddCommand(newSelectCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDiagnosticsCmd())
	cmd.AddCommand(newShellCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}
