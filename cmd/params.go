package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/params"
)

func newParamsCmd() *cobra.Command {
	var check string
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the tunable parameters and their bounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if check != "" {
				if _, err := params.Load(check); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: ok\n", check)
				return nil
			}
			defaults := params.Default()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCATEGORY\tKIND\tMIN\tMAX\tDEFAULT")
			fmt.Fprintln(tw, strings.Repeat("-", 64))
			for _, b := range params.Registry {
				upper := b.Max.String()
				if b.MaxParam != "" {
					upper = "<= " + b.MaxParam
				}
				def, _ := defaults.Get(b.Name)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%g\n", b.Name, b.Category, b.Kind, b.Min, upper, def)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&check, "check", "", "validate a configuration document instead")
	return cmd
}
