// Package round runs one selection and promotion round per track and
// records what happened.
package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/ratchet/internal/candidate"
	"github.com/signalnine/ratchet/internal/gitops"
	"github.com/signalnine/ratchet/internal/ledger"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
	"github.com/signalnine/ratchet/internal/selector"
	"github.com/signalnine/ratchet/internal/store"
	"github.com/signalnine/ratchet/internal/telemetry"
	"github.com/signalnine/ratchet/internal/validation"
)

type State string

const (
	Retained State = "retained"
	Replaced State = "replaced"
	Fatal    State = "fatal"
)

// ErrInconsistent is returned with a Fatal outcome: the live artifact was
// changed and could not be put back.
var ErrInconsistent = errors.New("live artifact left in an inconsistent state")

const reasonNoCandidates = "no candidates"

type Outcome struct {
	RoundID     string
	Track       selector.Track
	State       State
	WinnerIndex int
	WinnerLabel string
	Baseline    result.Result
	Winner      result.Metrics
	Reason      string
	DiffStat    string
	Candidates  int
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%s round %s: %s", o.Track, o.RoundID, o.State)
	if o.State == Replaced {
		s += fmt.Sprintf(" by %s (avg_return %.3f -> %.3f)", o.WinnerLabel,
			o.Baseline.Metrics.AvgReturn(), o.Winner.AvgReturn())
	}
	if o.Reason != "" {
		s += " (" + o.Reason + ")"
	}
	if o.DiffStat != "" {
		s += ", " + o.DiffStat
	}
	return s
}

// Engine wires the selector, gate, and version stores into rounds. Ledger
// is optional.
type Engine struct {
	Selector *selector.Selector
	Gate     *validation.Gate
	Agents   *store.Store
	Configs  *store.Store
	Ledger   *ledger.Ledger
	Logger   *slog.Logger

	now     func() time.Time
	newID   func() string
	pending string
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Engine) id() string {
	if e.newID != nil {
		return e.newID()
	}
	return uuid.NewString()
}

// NextRoundID reserves the ID of the next round so work done before it
// starts, such as advisor calls, can be attributed to it. Repeated calls
// return the same ID until a round consumes it.
func (e *Engine) NextRoundID() string {
	if e.pending == "" {
		e.pending = e.id()
	}
	return e.pending
}

func (e *Engine) begin(ctx context.Context, track selector.Track, n int) (Outcome, *slog.Logger) {
	id := e.NextRoundID()
	e.pending = ""
	out := Outcome{
		RoundID:     id,
		Track:       track,
		State:       Retained,
		WinnerIndex: result.BaselineIndex,
		WinnerLabel: selector.BaselineLabel,
		Candidates:  n,
	}
	log := e.logger().With("round", out.RoundID, "track", track)
	if e.Ledger != nil {
		if err := e.Ledger.StartRound(ctx, out.RoundID, string(track), e.clock()); err != nil {
			log.Warn("ledger: starting round", "err", err)
		}
	}
	log.Info("round started", "candidates", n)
	return out, log
}

func (e *Engine) finish(ctx context.Context, out Outcome, sel selector.Selection, log *slog.Logger) {
	telemetry.RecordRound(string(out.Track), string(out.State))
	if out.State != Fatal {
		live := out.Baseline.Metrics
		if out.State == Replaced {
			live = out.Winner
		}
		if live != nil && !live.Failed() {
			telemetry.RecordLive(string(out.Track), live.AvgReturn())
		}
	}
	log.Info("round finished", "state", out.State, "winner", out.WinnerLabel, "reason", out.Reason)
	if e.Ledger == nil {
		return
	}
	evals := sel.Results
	if sel.Baseline.Label != "" {
		evals = append([]result.Result{sel.Baseline}, evals...)
	}
	for _, r := range evals {
		if err := e.Ledger.AddEvaluation(ctx, out.RoundID, string(out.Track), r); err != nil {
			log.Warn("ledger: recording evaluation", "label", r.Label, "err", err)
		}
	}
	err := e.Ledger.FinishRound(ctx, ledger.Round{
		ID:          out.RoundID,
		FinishedAt:  e.clock(),
		State:       string(out.State),
		WinnerIndex: out.WinnerIndex,
		WinnerLabel: out.WinnerLabel,
		BaselineAvg: out.Baseline.Metrics.AvgReturn(),
		WinnerAvg:   out.Winner.AvgReturn(),
		Candidates:  out.Candidates,
		Reason:      out.Reason,
		DiffStat:    out.DiffStat,
	})
	if err != nil {
		log.Warn("ledger: finishing round", "err", err)
	}
}

func (e *Engine) recordBackup(ctx context.Context, out Outcome, s *store.Store, b store.Entry, log *slog.Logger) {
	if e.Ledger == nil || b.IsZero() {
		return
	}
	if err := e.Ledger.AddBackup(ctx, out.RoundID, string(s.Kind), b.Path, b.Created); err != nil {
		log.Warn("ledger: recording backup", "err", err)
	}
}

// diffStat summarises how the live artifact moved away from backup.
func diffStat(b store.Entry, livePath string, log *slog.Logger) string {
	if b.IsZero() {
		return ""
	}
	patch, err := gitops.DiffFiles(b.Path, livePath)
	if err != nil {
		log.Debug("diffing promoted artifact", "err", err)
		return ""
	}
	st, err := gitops.DiffStat(patch)
	if err != nil {
		log.Debug("reading diff stat", "err", err)
		return ""
	}
	return st.String()
}

func applySelection(out *Outcome, sel selector.Selection) {
	out.Baseline = sel.Baseline
	out.Winner = sel.Metrics
	out.WinnerIndex = sel.Index
	out.WinnerLabel = sel.Label
}

// RunAgentRound selects among cands and pushes the winner through the
// promotion gate.
func (e *Engine) RunAgentRound(ctx context.Context, cands []candidate.Agent) (Outcome, error) {
	out, log := e.begin(ctx, selector.TrackAgent, len(cands))
	if len(cands) == 0 {
		out.Reason = reasonNoCandidates
		e.finish(ctx, out, selector.Selection{}, log)
		return out, nil
	}

	sel, err := e.Selector.SelectAgents(ctx, cands)
	if err != nil {
		out.Reason = err.Error()
		e.finish(ctx, out, sel, log)
		return out, fmt.Errorf("selecting agents: %w", err)
	}
	applySelection(&out, sel)
	if !sel.Replaced() {
		out.Reason = "no candidate beat the baseline"
		e.finish(ctx, out, sel, log)
		return out, nil
	}

	d, err := e.Gate.Promote(ctx, cands[sel.Index])
	rollbackFailed := errors.Is(err, validation.ErrRollback)
	if d.RolledBack || rollbackFailed {
		telemetry.RecordRollback(string(out.Track), !rollbackFailed)
	}
	if rollbackFailed {
		out.State = Fatal
		out.Reason = err.Error()
		e.finish(ctx, out, sel, log)
		return out, fmt.Errorf("%w: %w", ErrInconsistent, err)
	}
	e.recordBackup(ctx, out, e.Agents, d.Backup, log)
	if err != nil {
		log.Error("promotion failed, live agent unchanged", "label", sel.Label, "err", err)
		out = retain(out, fmt.Sprintf("%s not promoted: %v", sel.Label, err))
		e.finish(ctx, out, sel, log)
		return out, nil
	}
	if !d.Promoted {
		out = retain(out, fmt.Sprintf("%s %s", sel.Label, d.Reason()))
		e.finish(ctx, out, sel, log)
		return out, nil
	}
	out.State = Replaced
	out.DiffStat = diffStat(d.Backup, e.Agents.LivePath, log)
	e.finish(ctx, out, sel, log)
	return out, nil
}

// RunConfigRound applies patches to the live configuration within focus,
// selects among the resulting documents, and writes the winner.
func (e *Engine) RunConfigRound(ctx context.Context, patches []params.Patch, focus params.FocusArea) (Outcome, error) {
	base, err := params.Load(e.Configs.LivePath)
	if err != nil {
		return Outcome{Track: selector.TrackConfig, State: Retained}, fmt.Errorf("reading live config: %w", err)
	}
	variants := params.GenerateVariants(base, patches, focus, e.logger())
	return e.SelectConfigs(ctx, base, candidate.Configs(variants))
}

// SelectConfigs runs a config round over prepared documents against base.
func (e *Engine) SelectConfigs(ctx context.Context, base params.Document, cands []candidate.Config) (Outcome, error) {
	out, log := e.begin(ctx, selector.TrackConfig, len(cands))
	if len(cands) == 0 {
		out.Reason = reasonNoCandidates
		e.finish(ctx, out, selector.Selection{}, log)
		return out, nil
	}

	sel, err := e.Selector.SelectConfigs(ctx, base, cands)
	if err != nil {
		out.Reason = err.Error()
		e.finish(ctx, out, sel, log)
		return out, fmt.Errorf("selecting configs: %w", err)
	}
	applySelection(&out, sel)
	if sel.Aborted {
		out.Reason = "baseline configuration failed"
		e.finish(ctx, out, sel, log)
		return out, nil
	}
	if !sel.Replaced() {
		out.Reason = "no candidate beat the baseline"
		e.finish(ctx, out, sel, log)
		return out, nil
	}

	data, err := cands[sel.Index].Document.Marshal()
	if err != nil {
		out = retain(out, err.Error())
		e.finish(ctx, out, sel, log)
		return out, err
	}
	backup, err := e.Configs.Backup()
	if err != nil {
		out = retain(out, err.Error())
		e.finish(ctx, out, sel, log)
		return out, fmt.Errorf("backing up live config: %w", err)
	}
	e.recordBackup(ctx, out, e.Configs, backup, log)

	if werr := e.Configs.WriteLive(data); werr != nil {
		log.Error("writing live config failed, restoring", "err", werr)
		_, ok, rerr := e.Configs.RestoreLatest()
		if rerr == nil && !ok {
			rerr = errors.New("no backup to restore")
		}
		telemetry.RecordRollback(string(out.Track), rerr == nil)
		if rerr != nil {
			out.State = Fatal
			out.Reason = fmt.Sprintf("write failed (%v), restore failed (%v)", werr, rerr)
			e.finish(ctx, out, sel, log)
			return out, fmt.Errorf("%w: %w", ErrInconsistent, rerr)
		}
		out = retain(out, "write failed, previous config restored")
		e.finish(ctx, out, sel, log)
		return out, nil
	}
	out.State = Replaced
	out.DiffStat = diffStat(backup, e.Configs.LivePath, log)
	e.finish(ctx, out, sel, log)
	return out, nil
}

func retain(out Outcome, reason string) Outcome {
	out.State = Retained
	out.WinnerIndex = result.BaselineIndex
	out.WinnerLabel = selector.BaselineLabel
	out.Winner = out.Baseline.Metrics
	out.Reason = reason
	return out
}
