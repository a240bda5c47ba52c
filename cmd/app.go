package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/advisor"
	"github.com/signalnine/ratchet/internal/config"
	"github.com/signalnine/ratchet/internal/ledger"
	"github.com/signalnine/ratchet/internal/logging"
	"github.com/signalnine/ratchet/internal/pricing"
	"github.com/signalnine/ratchet/internal/result"
	"github.com/signalnine/ratchet/internal/round"
	"github.com/signalnine/ratchet/internal/runner"
	"github.com/signalnine/ratchet/internal/selector"
	"github.com/signalnine/ratchet/internal/store"
	"github.com/signalnine/ratchet/internal/telemetry"
	"github.com/signalnine/ratchet/internal/validation"
)

// app carries what most commands need: the loaded config, a logger, and
// the version stores. The ledger is opened on demand.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	agents  *store.Store
	configs *store.Store
	ledger  *ledger.Ledger
	out     io.Writer

	closers []io.Closer
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	log, closer, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
		Journal: cfg.Logging.Journal,
	}, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return &app{
		cfg:     cfg,
		log:     log,
		agents:  store.ForAgent(cfg.StateDir),
		configs: store.ForConfig(cfg.StateDir),
		out:     cmd.OutOrStdout(),
		closers: []io.Closer{closer},
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("closing", "err", err)
		}
	}
}

// requireLive fails unless `ratchet init` has populated the state dir.
func (a *app) requireLive() error {
	for _, p := range []string{a.agents.LivePath, a.configs.LivePath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%s not found; run `ratchet init` first", p)
			}
			return err
		}
	}
	return nil
}

func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	l, err := ledger.Open(a.cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	if err := l.Init(ctx); err != nil {
		l.Close()
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	a.ledger = l
	a.closers = append(a.closers, l)
	return l, nil
}

// serveMetrics exposes /metrics for the lifetime of ctx when configured.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := telemetry.Serve(ctx, a.cfg.Metrics.Addr); err != nil {
			a.log.Error("metrics server", "addr", a.cfg.Metrics.Addr, "err", err)
		}
	}()
	a.log.Info("serving metrics", "addr", a.cfg.Metrics.Addr)
}

func (a *app) programDir() (string, error) {
	dir := a.cfg.Executor.ProgramDir
	if dir == "" {
		dir = filepath.Join(a.cfg.StateDir, "programs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating program dir: %w", err)
	}
	return dir, nil
}

func (a *app) executor() (runner.Executor, error) {
	ex := a.cfg.Executor
	dir, err := a.programDir()
	if err != nil {
		return nil, err
	}
	switch ex.Backend {
	case "docker":
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		return &runner.Container{
			Image:          ex.Docker.Image,
			Binary:         self,
			StateDir:       a.cfg.StateDir,
			ProgramDir:     dir,
			Timeout:        ex.Timeout,
			CPULimit:       ex.Docker.CPULimit,
			MemoryLimit:    ex.Docker.MemoryLimit,
			MaxOutputBytes: ex.MaxOutputBytes,
			MaxExecSteps:   ex.MaxExecSteps,
			Logger:         a.log,
		}, nil
	default:
		p, err := runner.NewProcess(ex.Timeout)
		if err != nil {
			return nil, err
		}
		p.ProgramDir = dir
		p.MaxOutputBytes = ex.MaxOutputBytes
		p.MaxExecSteps = ex.MaxExecSteps
		p.Logger = a.log
		return p, nil
	}
}

func (a *app) gate(exec runner.Executor) *validation.Gate {
	return &validation.Gate{
		Exec:           exec,
		Agents:         a.agents,
		LiveConfigPath: a.configs.LivePath,
		Episodes:       a.cfg.Evaluation.ValidationEpisodes,
		Seed:           a.cfg.Evaluation.Seed,
		Ordering:       validation.Ordering(a.cfg.Promotion.Ordering),
		Logger:         a.log,
	}
}

func (a *app) engine(ctx context.Context) (*round.Engine, error) {
	exec, err := a.executor()
	if err != nil {
		return nil, err
	}
	rule, err := selector.AgentRule(a.cfg.Evaluation.AgentRule, a.cfg.Evaluation.AgentMargin)
	if err != nil {
		return nil, err
	}
	l, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	return &round.Engine{
		Selector: &selector.Selector{
			Exec:           exec,
			Agents:         a.agents,
			LiveAgentPath:  a.agents.LivePath,
			LiveConfigPath: a.configs.LivePath,
			Episodes:       a.cfg.Evaluation.Episodes,
			Seed:           a.cfg.Evaluation.Seed,
			AgentRule:      rule,
			ConfigRule:     selector.Absolute{Margin: a.cfg.Evaluation.ConfigMargin},
			Parallel:       a.cfg.Executor.Parallel,
			Logger:         a.log,
			OnResult: func(track selector.Track, r result.Result) {
				telemetry.RecordEvaluation(string(track), string(r.Status), r.Duration)
			},
		},
		Gate:    a.gate(exec),
		Agents:  a.agents,
		Configs: a.configs,
		Ledger:  l,
		Logger:  a.log,
	}, nil
}

// advisor builds the configured advisory producer. proposals overrides the
// configured provider with a file source when set. Each recorded call is
// attributed to the round roundID names at the time of the call.
func (a *app) advisor(ctx context.Context, proposals string, roundID func() string) (*advisor.Advisor, error) {
	ac := a.cfg.Advisor
	table, err := pricing.LoadOrDefault(ac.PricingFile)
	if err != nil {
		return nil, err
	}
	adv := &advisor.Advisor{Provider: ac.Provider, Pricing: table, Logger: a.log}

	switch {
	case proposals != "":
		adv.Client = advisor.FileSource{Path: proposals}
	case ac.Provider == "file":
		adv.Client = advisor.FileSource{Path: ac.ProposalsFile}
	case ac.Provider == "openai":
		key, err := advisor.APIKey(ac.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
		client, err := advisor.NewOpenAI(advisor.OpenAIOptions{
			APIKey:            key,
			BaseURL:           ac.BaseURL,
			Model:             ac.Model,
			MaxTokens:         ac.MaxTokens,
			Temperature:       ac.Temperature,
			RequestsPerMinute: ac.RequestsPerMinute,
			Logger:            a.log,
		})
		if err != nil {
			return nil, err
		}
		adv.Client = client
	default:
		return nil, errors.New("no advisor configured; set advisor.provider or pass a proposals file")
	}

	l, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	adv.OnUsage = func(u advisor.Usage) {
		telemetry.RecordAdvisorCall(u.Model, u.PromptTokens, u.CompletionTokens, u.CostUSD)
		err := l.AddAdvisorCall(ctx, ledger.AdvisorCall{
			RoundID:          roundID(),
			Model:            u.Model,
			Purpose:          string(u.Purpose),
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			CostUSD:          u.CostUSD,
			At:               time.Now(),
		})
		if err != nil {
			a.log.Warn("ledger: recording advisor call", "err", err)
		}
	}
	return adv, nil
}
