package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.starlark.net/starlark"

	"github.com/signalnine/ratchet/internal/agent"
	"github.com/signalnine/ratchet/internal/result"
)

// Worker exit codes. Anything else is reported as a crash.
const (
	ExitCompleted        = 0
	ExitEvaluationFailed = 3
)

// EntryPoint is the function every harness program defines.
const EntryPoint = "main"

type Options struct {
	// MaxExecSteps bounds the Starlark computation. Zero means unbounded.
	MaxExecSteps uint64
}

// Run executes the program at path and writes its result line to stdout.
// Any failure, including a panic in a builtin, is reported on stderr and
// answered with the sentinel line, so stdout always carries exactly one
// RESULTS line.
func Run(path string, stdout, stderr io.Writer, opts Options) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "ERROR: panic: %v\n", r)
			fmt.Fprintln(stdout, result.SentinelLine())
			code = ExitEvaluationFailed
		}
	}()

	line, err := execute(path, stderr, opts)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			fmt.Fprintf(stderr, "ERROR: %s\n", evalErr.Backtrace())
		} else {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
		}
		fmt.Fprintln(stdout, result.SentinelLine())
		return ExitEvaluationFailed
	}
	fmt.Fprintln(stdout, line)
	return ExitCompleted
}

// Main is the worker entry point used by the hidden harness subcommand.
func Main(path string, stdout, stderr io.Writer) int {
	var opts Options
	if v := os.Getenv("RATCHET_MAX_EXEC_STEPS"); v != "" {
		if _, err := fmt.Sscan(v, &opts.MaxExecSteps); err != nil {
			fmt.Fprintf(stderr, "ERROR: RATCHET_MAX_EXEC_STEPS: %v\n", err)
			fmt.Fprintln(stdout, result.SentinelLine())
			return ExitEvaluationFailed
		}
	}
	return Run(path, stdout, stderr, opts)
}

// execute runs the program and returns the single result line it printed.
// Other printed output goes to stderr.
func execute(path string, stderr io.Writer, opts Options) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading program: %w", err)
	}

	var lines []string
	predeclared := Predeclared()
	ld := newLoader(path, predeclared, opts.MaxExecSteps)
	thread := &starlark.Thread{
		Name: "harness",
		Print: func(_ *starlark.Thread, msg string) {
			if strings.HasPrefix(msg, result.Prefix) {
				lines = append(lines, msg)
				return
			}
			fmt.Fprintln(stderr, msg)
		},
		Load: ld.load,
	}
	if opts.MaxExecSteps > 0 {
		thread.SetMaxExecutionSteps(opts.MaxExecSteps)
	}

	globals, err := starlark.ExecFileOptions(agent.FileOptions, thread, path, src, predeclared)
	if err != nil {
		return "", err
	}
	entry, ok := globals[EntryPoint]
	if !ok {
		return "", fmt.Errorf("program defines no %s()", EntryPoint)
	}
	if _, err := starlark.Call(thread, entry, nil, nil); err != nil {
		return "", err
	}

	switch len(lines) {
	case 0:
		return "", errors.New("program printed no result line")
	case 1:
	default:
		return "", fmt.Errorf("program printed %d result lines", len(lines))
	}
	if _, err := result.ParseLine(lines[0]); err != nil {
		return "", err
	}
	return lines[0], nil
}
