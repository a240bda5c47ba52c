package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/config"
)

var (
	cfgFile      string
	flagLogLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ratchet",
		Short:        "Evaluate candidate agents and configurations and promote only improvements",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.AddCommand(newInitCmd())
	root.AddCommand(newEvalCmd())
	root.AddCommand(newRoundCmd())
	root.AddCommand(newLoopCmd())
	root.AddCommand(newHarnessCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newRestoreCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newParamsCmd())
	return root
}
