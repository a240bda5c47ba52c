package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.starlark.net/syntax"

	"github.com/signalnine/ratchet/internal/agent"
	"github.com/signalnine/ratchet/internal/docker"
	"github.com/signalnine/ratchet/internal/result"
)

// containerBinary is where the ratchet binary is mounted inside the image.
const containerBinary = "/usr/local/bin/ratchet"

// Container runs each program in a throwaway container. The ratchet binary,
// the program, the state directory, and any module the program loads from
// elsewhere are bind-mounted read-only at their host paths so the absolute
// load() paths in the program resolve unchanged.
type Container struct {
	Image          string
	Binary         string
	StateDir       string
	ProgramDir     string
	Timeout        time.Duration
	CPULimit       float64
	MemoryLimit    int64
	MaxOutputBytes int
	MaxExecSteps   uint64
	Logger         *slog.Logger

	// run is swapped in tests.
	run func(context.Context, *docker.RunOpts) (*docker.RunResult, error)
}

var _ Executor = (*Container)(nil)

func (c *Container) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Container) Execute(ctx context.Context, program, label string) result.Result {
	log := c.logger().With("label", label, "backend", "docker")

	path, err := writeProgram(c.ProgramDir, program)
	if err != nil {
		return Normalize(label, Outcome{StartErr: err})
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("removing program file", "path", path, "err", err)
		}
	}()

	opts, err := c.runOpts(path, program)
	if err != nil {
		return Normalize(label, Outcome{StartErr: err})
	}
	run := c.run
	if run == nil {
		run = docker.RunContainer
	}
	res, err := run(ctx, opts)
	if err != nil {
		r := Normalize(label, Outcome{StartErr: err})
		log.Warn("container did not run", "err", err)
		return r
	}

	limit := c.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := res.Stdout
	if len(stdout) > limit {
		stdout = stdout[:limit]
	}
	o := Outcome{
		Stdout:   string(stdout),
		Stderr:   string(res.Stderr),
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}
	r := Normalize(label, o)
	if r.Status != result.StatusOK {
		log.Warn("evaluation failed", "status", r.Status, "exit_code", r.ExitCode, "detail", r.Detail)
	}
	return r
}

func (c *Container) runOpts(programPath, program string) (*docker.RunOpts, error) {
	binary := c.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		binary = self
	}
	programAbs, err := filepath.Abs(programPath)
	if err != nil {
		return nil, err
	}
	mounts := []docker.Mount{
		{Source: binary, Target: containerBinary, ReadOnly: true},
		{Source: programAbs, Target: programAbs, ReadOnly: true},
	}
	var stateAbs string
	if c.StateDir != "" {
		stateAbs, err = filepath.Abs(c.StateDir)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, docker.Mount{Source: stateAbs, Target: stateAbs, ReadOnly: true})
	}
	for _, m := range loadedModules(programAbs, program) {
		if stateAbs != "" && within(stateAbs, m) {
			continue
		}
		mounts = append(mounts, docker.Mount{Source: m, Target: m, ReadOnly: true})
	}

	env := map[string]string{}
	if c.MaxExecSteps > 0 {
		env["RATCHET_MAX_EXEC_STEPS"] = strconv.FormatUint(c.MaxExecSteps, 10)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &docker.RunOpts{
		Image:       c.Image,
		Command:     []string{containerBinary, "harness", programAbs},
		Env:         env,
		Timeout:     timeout,
		Mounts:      mounts,
		CPULimit:    c.CPULimit,
		MemoryLimit: c.MemoryLimit,
		UserID:      strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid()),
	}, nil
}

// loadedModules lists the absolute paths a program loads, so agents kept
// outside the state directory are visible inside the container too. A
// program that does not parse loads nothing; the harness reports why.
func loadedModules(programPath, program string) []string {
	f, err := agent.FileOptions.Parse(programPath, program, 0)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var paths []string
	for _, stmt := range f.Stmts {
		load, ok := stmt.(*syntax.LoadStmt)
		if !ok {
			continue
		}
		p := load.ModuleName()
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(programPath), p)
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
