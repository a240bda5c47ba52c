package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/harness"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
)

func newEvalCmd() *cobra.Command {
	var (
		agentPath  string
		configPath string
		episodes   int
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run one isolated evaluation and print its result line",
		Long: "Evaluate an agent under a configuration in a fresh worker. Without flags the " +
			"live agent and live configuration are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLive(); err != nil {
				return err
			}

			spec := harness.Spec{
				CandidatePath:  agentPath,
				LiveAgentPath:  a.agents.LivePath,
				LiveConfigPath: a.configs.LivePath,
				Episodes:       a.cfg.Evaluation.Episodes,
				Seed:           a.cfg.Evaluation.Seed,
			}
			if cmd.Flags().Changed("episodes") {
				spec.Episodes = episodes
			}
			if cmd.Flags().Changed("seed") {
				spec.Seed = seed
			}
			if configPath != "" {
				doc, err := params.Load(configPath)
				if err != nil {
					return err
				}
				spec.Config = doc
			}
			prog, err := harness.Generate(spec)
			if err != nil {
				return err
			}
			exec, err := a.executor()
			if err != nil {
				return err
			}

			r := exec.Execute(cmd.Context(), prog, "eval")
			fmt.Fprintln(a.out, result.FormatLine(r.Metrics.AvgReturn(), r.Metrics.SuccessRate()))
			if !r.OK() {
				return fmt.Errorf("evaluation %s (exit %d): %s", r.Status, r.ExitCode, r.Detail)
			}
			a.log.Info("evaluation finished", "duration", r.Duration, "episodes", spec.Episodes)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentPath, "agent", "", "agent source to evaluate (default: live agent)")
	cmd.Flags().StringVar(&configPath, "config-file", "", "configuration document (default: live config)")
	cmd.Flags().IntVar(&episodes, "episodes", 0, "episode count (default: evaluation.episodes)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default: evaluation.seed)")
	return cmd
}
