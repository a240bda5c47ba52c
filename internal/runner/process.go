package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/signalnine/ratchet/internal/result"
)

// Process runs each program in a fresh worker process. Command is the
// worker invocation; the program path is appended as the last argument.
type Process struct {
	Command        []string
	Env            []string
	ProgramDir     string
	Timeout        time.Duration
	MaxOutputBytes int
	MaxExecSteps   uint64
	Logger         *slog.Logger
}

var _ Executor = (*Process)(nil)

// NewProcess returns a Process that re-executes the running binary as
// `<binary> harness <program>`.
func NewProcess(timeout time.Duration) (*Process, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &Process{Command: []string{self, "harness"}, Timeout: timeout}, nil
}

func (p *Process) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Process) Execute(ctx context.Context, program, label string) result.Result {
	log := p.logger().With("label", label)
	if len(p.Command) == 0 {
		return Normalize(label, Outcome{StartErr: errors.New("no worker command configured")})
	}

	path, err := writeProgram(p.ProgramDir, program)
	if err != nil {
		return Normalize(label, Outcome{StartErr: err})
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("removing program file", "path", path, "err", err)
		}
	}()

	outcome := p.run(ctx, path)
	r := Normalize(label, outcome)
	if r.Status != result.StatusOK {
		log.Warn("evaluation failed",
			"status", r.Status,
			"exit_code", r.ExitCode,
			"detail", r.Detail,
			"stderr", tail(outcome.Stderr, 500))
	} else {
		log.Debug("evaluation finished", "avg_return", r.Metrics.AvgReturn(), "duration", r.Duration)
	}
	return r
}

func (p *Process) run(ctx context.Context, path string) Outcome {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := p.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, p.Command[1:]...), path)
	cmd := exec.CommandContext(runCtx, p.Command[0], args...)
	cmd.Env = append(os.Environ(), p.Env...)
	if p.MaxExecSteps > 0 {
		cmd.Env = append(cmd.Env, "RATCHET_MAX_EXEC_STEPS="+strconv.FormatUint(p.MaxExecSteps, 10))
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	setProcAttr(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{StartErr: err, Duration: time.Since(start)}
	}
	err := cmd.Wait()
	o := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		o.TimedOut = true
		return o
	}
	if ctx.Err() != nil {
		o.StartErr = ctx.Err()
		return o
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		o.ExitCode = 0
	case errors.As(err, &exitErr):
		o.ExitCode = exitErr.ExitCode()
	default:
		o.StartErr = err
	}
	return o
}
