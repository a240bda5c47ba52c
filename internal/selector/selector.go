// Package selector evaluates a baseline and an ordered list of candidates
// and picks the one that beats the running best by the track's margin.
package selector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signalnine/ratchet/internal/candidate"
	"github.com/signalnine/ratchet/internal/harness"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
	"github.com/signalnine/ratchet/internal/runner"
	"github.com/signalnine/ratchet/internal/store"
)

type Track string

const (
	TrackAgent  Track = "agent"
	TrackConfig Track = "config"
)

// BaselineLabel names the live artifact in results.
const BaselineLabel = "baseline"

type Selector struct {
	Exec   runner.Executor
	Agents *store.Store

	LiveAgentPath  string
	LiveConfigPath string
	Episodes       int
	Seed           int64

	AgentRule  Rule
	ConfigRule Rule
	Parallel   int
	Logger     *slog.Logger

	// OnResult, when set, sees every evaluation as it is judged.
	OnResult func(Track, result.Result)
}

// Selection is the outcome of one selection pass.
type Selection struct {
	// Index of the winner, result.BaselineIndex when the live artifact stays.
	Index    int
	Label    string
	Metrics  result.Metrics
	Baseline result.Result
	Results  []result.Result
	// Aborted is set when the baseline could not be scored and no
	// candidates were evaluated.
	Aborted bool
}

func (s Selection) Replaced() bool { return !s.Aborted && s.Index != result.BaselineIndex }

func (s *Selector) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Selector) agentRule() Rule {
	if s.AgentRule != nil {
		return s.AgentRule
	}
	return Relative{Margin: AgentMargin}
}

func (s *Selector) configRule() Rule {
	if s.ConfigRule != nil {
		return s.ConfigRule
	}
	return Absolute{Margin: ConfigMargin}
}

func (s *Selector) evaluate(ctx context.Context, spec harness.Spec, label string, index int) result.Result {
	spec.LiveAgentPath = s.LiveAgentPath
	spec.LiveConfigPath = s.LiveConfigPath
	spec.Episodes = s.Episodes
	spec.Seed = s.Seed
	prog, err := harness.Generate(spec)
	if err != nil {
		r := runner.Normalize(label, runner.Outcome{StartErr: fmt.Errorf("generating program: %w", err)})
		r.Index = index
		return r
	}
	r := s.Exec.Execute(ctx, prog, label)
	r.Label = label
	r.Index = index
	return r
}

// SelectAgents scores the live agent and then each candidate agent against
// the live configuration. A failing baseline scores as the sentinel and the
// pass continues.
func (s *Selector) SelectAgents(ctx context.Context, cands []candidate.Agent) (Selection, error) {
	log := s.logger().With("track", TrackAgent)
	defer func() {
		if err := s.Agents.ClearStaged(); err != nil {
			log.Warn("clearing staged candidates", "err", err)
		}
	}()

	baseline := s.evaluate(ctx, harness.Spec{}, BaselineLabel, result.BaselineIndex)
	if err := ctx.Err(); err != nil {
		return Selection{}, err
	}
	s.report(TrackAgent, baseline)
	if baseline.Metrics.Failed() {
		log.Warn("baseline agent failed, any working candidate wins", "status", baseline.Status, "detail", baseline.Detail)
	}

	specs := make([]func() (harness.Spec, error), len(cands))
	for i, c := range cands {
		specs[i] = func() (harness.Spec, error) {
			path, err := s.Agents.StageCandidate(labelOf(c.Label, i), []byte(c.Source))
			if err != nil {
				return harness.Spec{}, err
			}
			return harness.Spec{CandidatePath: path}, nil
		}
	}
	labels := make([]string, len(cands))
	for i, c := range cands {
		labels[i] = labelOf(c.Label, i)
	}
	results := s.evaluateAll(ctx, specs, labels)
	if err := ctx.Err(); err != nil {
		return Selection{}, err
	}
	return s.pick(TrackAgent, s.agentRule(), baseline, results, log), nil
}

// SelectConfigs scores the live agent under baseline and then under each
// candidate document. A failing baseline aborts the pass.
func (s *Selector) SelectConfigs(ctx context.Context, baselineDoc params.Document, cands []candidate.Config) (Selection, error) {
	log := s.logger().With("track", TrackConfig)

	baseline := s.evaluate(ctx, harness.Spec{Config: baselineDoc}, BaselineLabel, result.BaselineIndex)
	if err := ctx.Err(); err != nil {
		return Selection{}, err
	}
	s.report(TrackConfig, baseline)
	if baseline.Metrics.Failed() {
		log.Error("baseline configuration failed, aborting", "status", baseline.Status, "detail", baseline.Detail)
		return Selection{
			Index:    result.BaselineIndex,
			Label:    BaselineLabel,
			Metrics:  baseline.Metrics,
			Baseline: baseline,
			Aborted:  true,
		}, nil
	}

	specs := make([]func() (harness.Spec, error), len(cands))
	labels := make([]string, len(cands))
	for i, c := range cands {
		specs[i] = func() (harness.Spec, error) {
			if c.Document == nil {
				return harness.Spec{}, fmt.Errorf("candidate %s has no document", c.Label)
			}
			return harness.Spec{Config: c.Document}, nil
		}
		labels[i] = labelOf(c.Label, i)
	}
	results := s.evaluateAll(ctx, specs, labels)
	if err := ctx.Err(); err != nil {
		return Selection{}, err
	}
	return s.pick(TrackConfig, s.configRule(), baseline, results, log), nil
}

// evaluateAll fills one result slot per candidate, in parallel when asked.
func (s *Selector) evaluateAll(ctx context.Context, specs []func() (harness.Spec, error), labels []string) []result.Result {
	results := make([]result.Result, len(specs))
	jobs := make([]runner.Job, len(specs))
	for i := range specs {
		jobs[i] = func() error {
			spec, err := specs[i]()
			if err != nil {
				r := runner.Normalize(labels[i], runner.Outcome{StartErr: err})
				r.Index = i
				results[i] = r
				return nil
			}
			results[i] = s.evaluate(ctx, spec, labels[i], i)
			return nil
		}
	}
	runner.RunPool(s.Parallel, jobs)
	return results
}

// pick walks results in candidate order, skipping failures, and keeps the
// last candidate that beat the running best.
func (s *Selector) pick(track Track, rule Rule, baseline result.Result, results []result.Result, log *slog.Logger) Selection {
	sel := Selection{
		Index:    result.BaselineIndex,
		Label:    BaselineLabel,
		Metrics:  baseline.Metrics,
		Baseline: baseline,
		Results:  results,
	}
	best := baseline.Metrics.AvgReturn()
	for i, r := range results {
		s.report(track, r)
		if r.Metrics.Failed() {
			log.Warn("candidate failed, skipping", "label", r.Label, "status", r.Status, "detail", r.Detail)
			continue
		}
		avg := r.Metrics.AvgReturn()
		if rule.Improves(avg, best) {
			log.Info("new best", "label", r.Label, "avg_return", avg, "previous", best, "rule", rule.Name())
			best = avg
			sel.Index = i
			sel.Label = r.Label
			sel.Metrics = r.Metrics
		} else {
			log.Info("candidate not better", "label", r.Label, "avg_return", avg, "best", best, "rule", rule.Name())
		}
	}
	return sel
}

func (s *Selector) report(track Track, r result.Result) {
	if s.OnResult != nil {
		s.OnResult(track, r)
	}
}

func labelOf(label string, i int) string {
	if label != "" {
		return label
	}
	return candidate.Label(i)
}
