package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/report"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise recorded rounds per track",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			return report.Generate(cmd.Context(), l, flagFormat, a.out)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
