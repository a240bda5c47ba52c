package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/harness"
)

// newHarnessCmd is the worker entry point the executor spawns. It reads no
// config so it runs unchanged inside a bare container.
func newHarnessCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "harness <program>",
		Short:  "Run one generated evaluation program",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(harness.Main(args[0], cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
}
