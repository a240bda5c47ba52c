// Package validation guards promotion of a winning agent: a structural check
// on the source, a short functional run, and rollback when the live copy
// turns out bad.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/signalnine/ratchet/internal/agent"
	"github.com/signalnine/ratchet/internal/candidate"
	"github.com/signalnine/ratchet/internal/harness"
	"github.com/signalnine/ratchet/internal/result"
	"github.com/signalnine/ratchet/internal/runner"
	"github.com/signalnine/ratchet/internal/store"
)

var (
	ErrStructure  = errors.New("structural check failed")
	ErrFunctional = errors.New("functional check failed")
	// ErrRollback means the live artifact may be in an unknown state.
	ErrRollback = errors.New("rollback failed")
)

type Ordering string

const (
	// OrderingStaged validates a staged copy before anything live changes.
	OrderingStaged Ordering = "staged"
	// OrderingWriteThenValidate writes live first and restores the backup
	// when the live copy fails.
	OrderingWriteThenValidate Ordering = "write-then-validate"
)

type Gate struct {
	Exec           runner.Executor
	Agents         *store.Store
	LiveConfigPath string
	Episodes       int
	Seed           int64
	Ordering       Ordering
	Logger         *slog.Logger
}

// Decision reports what the gate did with one candidate.
type Decision struct {
	Promoted   bool
	RolledBack bool
	Backup     store.Entry
	Check      result.Result
	// Err is the rejection cause, wrapping ErrStructure or ErrFunctional.
	Err error
}

func (d Decision) Reason() string {
	switch {
	case d.Promoted:
		return "promoted"
	case d.Err != nil:
		return d.Err.Error()
	default:
		return "rejected"
	}
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// CheckFunctional runs agentPath for a short evaluation against the live
// configuration.
func (g *Gate) CheckFunctional(ctx context.Context, agentPath string) result.Result {
	episodes := g.Episodes
	if episodes < 1 {
		episodes = 1
	}
	prog, err := harness.Generate(harness.Spec{
		CandidatePath:  agentPath,
		LiveConfigPath: g.LiveConfigPath,
		Episodes:       episodes,
		Seed:           g.Seed,
	})
	if err != nil {
		return runner.Normalize("validation", runner.Outcome{StartErr: err})
	}
	return g.Exec.Execute(ctx, prog, "validation")
}

// Promote makes cand the live agent if it passes both checks. A returned
// error wrapping ErrRollback means the live agent could not be restored.
func (g *Gate) Promote(ctx context.Context, cand candidate.Agent) (Decision, error) {
	log := g.logger().With("label", cand.Label, "ordering", g.ordering())

	if err := agent.CheckStructure(cand.Label, cand.Source); err != nil {
		log.Warn("candidate rejected", "reason", "structure", "err", err)
		return Decision{Err: fmt.Errorf("%w: %v", ErrStructure, err)}, nil
	}

	if g.ordering() == OrderingWriteThenValidate {
		return g.writeThenValidate(ctx, cand, log)
	}
	return g.staged(ctx, cand, log)
}

func (g *Gate) ordering() Ordering {
	if g.Ordering == "" {
		return OrderingStaged
	}
	return g.Ordering
}

func (g *Gate) staged(ctx context.Context, cand candidate.Agent, log *slog.Logger) (Decision, error) {
	defer func() {
		if err := g.Agents.ClearStaged(); err != nil {
			log.Warn("clearing staged candidate", "err", err)
		}
	}()
	path, err := g.Agents.StageCandidate("promote_"+cand.Label, []byte(cand.Source))
	if err != nil {
		return Decision{}, fmt.Errorf("staging candidate: %w", err)
	}

	check := g.CheckFunctional(ctx, path)
	if !check.OK() {
		log.Warn("candidate rejected", "reason", "functional", "status", check.Status, "detail", check.Detail)
		return Decision{Check: check, Err: fmt.Errorf("%w: %s %s", ErrFunctional, check.Status, check.Detail)}, nil
	}

	backup, err := g.Agents.Backup()
	if err != nil {
		return Decision{Check: check}, fmt.Errorf("backing up live agent: %w", err)
	}
	d := Decision{Backup: backup, Check: check}
	if err := g.Agents.WriteLive([]byte(cand.Source)); err != nil {
		log.Error("writing live agent failed, rolling back", "err", err)
		if rbErr := g.rollback(log); rbErr != nil {
			return d, rbErr
		}
		d.RolledBack = true
		return d, fmt.Errorf("writing live agent: %w", err)
	}
	d.Promoted = true
	log.Info("candidate promoted", "backup", backup.Path)
	return d, nil
}

func (g *Gate) writeThenValidate(ctx context.Context, cand candidate.Agent, log *slog.Logger) (Decision, error) {
	backup, err := g.Agents.Backup()
	if err != nil {
		return Decision{}, fmt.Errorf("backing up live agent: %w", err)
	}
	d := Decision{Backup: backup}
	if err := g.Agents.WriteLive([]byte(cand.Source)); err != nil {
		log.Error("writing live agent failed, rolling back", "err", err)
		if rbErr := g.rollback(log); rbErr != nil {
			return d, rbErr
		}
		d.RolledBack = true
		return d, fmt.Errorf("writing live agent: %w", err)
	}

	d.Check = g.CheckFunctional(ctx, g.Agents.LivePath)
	if !d.Check.OK() {
		log.Warn("live candidate failed validation, rolling back", "status", d.Check.Status, "detail", d.Check.Detail)
		if rbErr := g.rollback(log); rbErr != nil {
			return d, rbErr
		}
		d.RolledBack = true
		d.Err = fmt.Errorf("%w: %s %s", ErrFunctional, d.Check.Status, d.Check.Detail)
		return d, nil
	}
	d.Promoted = true
	log.Info("candidate promoted", "backup", backup.Path)
	return d, nil
}

func (g *Gate) rollback(log *slog.Logger) error {
	e, ok, err := g.Agents.RestoreLatest()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRollback, err)
	}
	if !ok {
		return fmt.Errorf("%w: no backup to restore", ErrRollback)
	}
	log.Info("live agent restored", "backup", e.Path)
	return nil
}
