package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/signalnine/ratchet/internal/harness"
	"github.com/signalnine/ratchet/internal/result"
)

// ExitCodeTimeout is reported when the wall-clock limit killed the program,
// matching timeout(1).
const ExitCodeTimeout = 124

func ExitReasonFromCode(code int, timedOut bool) string {
	if timedOut {
		return "timeout"
	}
	switch code {
	case harness.ExitCompleted:
		return "completed"
	case harness.ExitEvaluationFailed:
		return "failed"
	default:
		return "crashed"
	}
}

// Outcome is what a backend observed about one program run.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	// StartErr is set when the program never ran.
	StartErr error
}

// Normalize maps a raw outcome to a Result. Only a clean exit with a
// parsable line yields real metrics; every other path carries the sentinel.
func Normalize(label string, o Outcome) result.Result {
	r := result.Result{
		Label:    label,
		Index:    -1,
		Metrics:  result.Sentinel(),
		ExitCode: o.ExitCode,
		Duration: o.Duration,
	}
	switch {
	case o.StartErr != nil:
		r.Status = result.StatusError
		r.Detail = o.StartErr.Error()
	case o.TimedOut:
		r.Status = result.StatusTimeout
		r.ExitCode = ExitCodeTimeout
		r.Detail = fmt.Sprintf("killed after %s", o.Duration.Round(time.Millisecond))
	case o.ExitCode == harness.ExitCompleted:
		m, ok := result.ParseOutput(o.Stdout)
		if !ok {
			r.Status = result.StatusMalformed
			r.Detail = "no parsable result line"
			break
		}
		r.Metrics = m
		r.Status = result.StatusOK
	case o.ExitCode == harness.ExitEvaluationFailed:
		r.Status = result.StatusFailed
		r.Detail = errorLine(o.Stderr)
	default:
		r.Status = result.StatusCrashed
		r.Detail = fmt.Sprintf("exit code %d", o.ExitCode)
	}
	return r
}

// errorLine picks the first ERROR: line the worker wrote.
func errorLine(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		if strings.HasPrefix(line, "ERROR: ") {
			return strings.TrimPrefix(line, "ERROR: ")
		}
	}
	return tail(stderr, 200)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
