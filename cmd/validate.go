package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/agent"
	"github.com/signalnine/ratchet/internal/result"
)

func newValidateCmd() *cobra.Command {
	var structureOnly bool
	cmd := &cobra.Command{
		Use:   "validate <agent.star>",
		Short: "Run the promotion checks on an agent without promoting it",
		Long: "Check that the file defines Agent with select_action, learn and decay_exploration, " +
			"then run it for the validation episodes against the live configuration.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := agent.CheckStructure(args[0], string(src)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "structure: ok")
			if structureOnly {
				return nil
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLive(); err != nil {
				return err
			}
			exec, err := a.executor()
			if err != nil {
				return err
			}
			r := a.gate(exec).CheckFunctional(cmd.Context(), args[0])
			fmt.Fprintf(a.out, "functional: %s %s\n", r.Status,
				result.FormatLine(r.Metrics.AvgReturn(), r.Metrics.SuccessRate()))
			if !r.OK() {
				return fmt.Errorf("functional check failed: %s", r.Detail)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&structureOnly, "structure-only", false, "skip the functional run")
	return cmd
}
