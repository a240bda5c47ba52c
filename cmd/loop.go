package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/advisor"
	"github.com/signalnine/ratchet/internal/candidate"
	"github.com/signalnine/ratchet/internal/harness"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
	"github.com/signalnine/ratchet/internal/round"
	"github.com/signalnine/ratchet/internal/validation"
)

// evaluateLive scores the live agent under the live configuration.
func (a *app) evaluateLive(ctx context.Context, episodes int) (result.Metrics, error) {
	prog, err := harness.Generate(harness.Spec{
		LiveAgentPath:  a.agents.LivePath,
		LiveConfigPath: a.configs.LivePath,
		Episodes:       episodes,
		Seed:           a.cfg.Evaluation.Seed,
	})
	if err != nil {
		return nil, err
	}
	exec, err := a.executor()
	if err != nil {
		return nil, err
	}
	r := exec.Execute(ctx, prog, "live")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.OK() {
		a.log.Warn("live evaluation failed", "status", r.Status, "detail", r.Detail)
	}
	return r.Metrics, nil
}

// liveMetrics feeds advisor prompts. A file source ignores the prompt, so
// the evaluation is skipped when evaluate is false.
func (a *app) liveMetrics(ctx context.Context, evaluate bool) (result.Metrics, error) {
	if !evaluate {
		return result.Metrics{}, nil
	}
	return a.evaluateLive(ctx, a.cfg.Evaluation.Episodes)
}

func newLoopCmd() *cobra.Command {
	var cycles int
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Drive rounds from advisor decisions until it says stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLive(); err != nil {
				return err
			}
			if cmd.Flags().Changed("cycles") {
				a.cfg.Loop.MaxCycles = cycles
			}
			ctx := cmd.Context()
			a.serveMetrics(ctx)

			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			adv, err := a.advisor(ctx, "", eng.NextRoundID)
			if err != nil {
				return err
			}
			return runLoop(ctx, a, adv, eng)
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 0, "maximum cycles (default: loop.max_cycles)")
	return cmd
}

func runLoop(ctx context.Context, a *app, adv *advisor.Advisor, eng *round.Engine) error {
	n := a.cfg.Advisor.Candidates
	for cycle := 1; cycle <= a.cfg.Loop.MaxCycles; cycle++ {
		log := a.log.With("cycle", cycle)
		m, err := a.evaluateLive(ctx, a.cfg.Loop.EpisodesPerCycle)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "cycle %d: %s\n", cycle, result.FormatLine(m.AvgReturn(), m.SuccessRate()))

		doc, err := params.Load(a.configs.LivePath)
		if err != nil {
			return err
		}

		var d advisor.Decision
		if validation.ShouldForceRewrite(m) {
			d = advisor.Decision{RewriteAgent: true, Reason: "performance below rewrite floor"}
			log.Warn("forcing agent rewrite", "avg_return", m.AvgReturn(), "success_rate", m.SuccessRate())
		} else {
			d, err = adv.Decide(ctx, m, doc)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("no usable decision, skipping cycle", "err", err)
				continue
			}
		}
		log.Info("advisor decision", "stop", d.Stop, "rewrite_agent", d.RewriteAgent,
			"agent_configs", d.OptimizeAgentConfigs, "training_configs", d.OptimizeTrainingConfigs, "reason", d.Reason)

		if d.Stop {
			fmt.Fprintf(a.out, "advisor stopped the loop: %s\n", d.Reason)
			return nil
		}

		var out round.Outcome
		switch {
		case d.RewriteAgent:
			live, rerr := a.agents.ReadLive()
			if rerr != nil {
				return rerr
			}
			srcs, perr := adv.ProposeAgents(ctx, m, string(live), n)
			if perr != nil {
				log.Warn("agent proposals failed", "err", perr)
				continue
			}
			out, err = eng.RunAgentRound(ctx, candidate.Agents(srcs))
		case d.OptimizeAgentConfigs, d.OptimizeTrainingConfigs:
			focus := params.FocusAgent
			if !d.OptimizeAgentConfigs {
				focus = params.FocusTraining
			}
			patches, perr := adv.ProposeVariants(ctx, m, doc, focus, n)
			if perr != nil {
				log.Warn("variant proposals failed", "err", perr)
				continue
			}
			out, err = eng.RunConfigRound(ctx, patches, focus)
		default:
			log.Info("advisor chose no action")
			continue
		}
		fmt.Fprintln(a.out, out)
		if err != nil {
			if errors.Is(err, round.ErrInconsistent) || ctx.Err() != nil {
				return err
			}
			log.Warn("round failed", "err", err)
		}
	}
	fmt.Fprintf(a.out, "reached %d cycles\n", a.cfg.Loop.MaxCycles)
	return nil
}
