package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/advisor"
	"github.com/signalnine/ratchet/internal/candidate"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/round"
)

func newRoundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "round",
		Short: "Run one selection and promotion round",
	}
	cmd.AddCommand(newRoundAgentCmd())
	cmd.AddCommand(newRoundConfigCmd())
	return cmd
}

func newRoundAgentCmd() *cobra.Command {
	var (
		files     []string
		proposals string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Select among candidate agents and promote the winner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) > 0 && proposals != "" {
				return errors.New("--candidates and --proposals are mutually exclusive")
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLive(); err != nil {
				return err
			}
			ctx := cmd.Context()
			a.serveMetrics(ctx)

			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			var cands []candidate.Agent
			if len(files) > 0 {
				cands, err = readAgentFiles(files)
			} else {
				var srcs []string
				srcs, err = proposeAgents(a, cmd, eng, proposals)
				cands = candidate.Agents(srcs)
			}
			if err != nil {
				return err
			}
			out, err := eng.RunAgentRound(ctx, cands)
			fmt.Fprintln(a.out, out)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&files, "candidates", nil, "candidate agent source files, in evaluation order")
	cmd.Flags().StringVar(&proposals, "proposals", "", "advisor reply file with # AGENT sections")
	return cmd
}

func proposeAgents(a *app, cmd *cobra.Command, eng *round.Engine, proposals string) ([]string, error) {
	adv, err := a.advisor(cmd.Context(), proposals, eng.NextRoundID)
	if err != nil {
		return nil, err
	}
	live, err := a.agents.ReadLive()
	if err != nil {
		return nil, err
	}
	m, err := a.liveMetrics(cmd.Context(), proposals == "")
	if err != nil {
		return nil, err
	}
	return adv.ProposeAgents(cmd.Context(), m, string(live), a.cfg.Advisor.Candidates)
}

func readAgentFiles(paths []string) ([]candidate.Agent, error) {
	cands := make([]candidate.Agent, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading candidate: %w", err)
		}
		cands[i] = candidate.Agent{Label: candidate.Label(i), Source: string(data)}
	}
	return cands, nil
}

func newRoundConfigCmd() *cobra.Command {
	var (
		variants string
		focus    string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Select among configuration variants and write the winner",
		RunE: func(cmd *cobra.Command, args []string) error {
			area, err := params.ParseFocus(focus)
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLive(); err != nil {
				return err
			}
			ctx := cmd.Context()
			a.serveMetrics(ctx)

			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}
			var patches []params.Patch
			if variants != "" {
				patches, err = readPatches(variants, a.log)
			} else {
				patches, err = proposeVariants(a, cmd, eng, area)
			}
			if err != nil {
				return err
			}
			out, err := eng.RunConfigRound(ctx, patches, area)
			fmt.Fprintln(a.out, out)
			return err
		},
	}
	cmd.Flags().StringVar(&variants, "variants", "", "patch file: a JSON array of patches or # VARIANT sections")
	cmd.Flags().StringVar(&focus, "focus", string(params.FocusAll), "parameters a patch may touch (all, environment, agent, training)")
	return cmd
}

func proposeVariants(a *app, cmd *cobra.Command, eng *round.Engine, area params.FocusArea) ([]params.Patch, error) {
	adv, err := a.advisor(cmd.Context(), "", eng.NextRoundID)
	if err != nil {
		return nil, err
	}
	doc, err := params.Load(a.configs.LivePath)
	if err != nil {
		return nil, err
	}
	m, err := a.liveMetrics(cmd.Context(), true)
	if err != nil {
		return nil, err
	}
	return adv.ProposeVariants(cmd.Context(), m, doc, area, a.cfg.Advisor.Candidates)
}

// readPatches accepts either a JSON array of patch objects or an advisor
// reply with # VARIANT sections. Malformed sections are dropped with a
// warning, so a reply with none usable yields an empty round.
func readPatches(path string, log *slog.Logger) ([]params.Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading variants: %w", err)
	}
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		var patches []params.Patch
		if err := json.Unmarshal(data, &patches); err != nil {
			return nil, fmt.Errorf("parsing variants: %w", err)
		}
		return patches, nil
	}
	patches, dropped := advisor.ExtractVariants(string(data))
	if dropped > 0 {
		log.Warn("dropped malformed variants", "file", path, "dropped", dropped, "kept", len(patches))
	}
	return patches, nil
}
