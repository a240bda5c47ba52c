package runner_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/ratchet/internal/agent"
	"github.com/signalnine/ratchet/internal/harness"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
	"github.com/signalnine/ratchet/internal/runner"
)

// TestMain lets the test binary double as the harness worker.
func TestMain(m *testing.M) {
	switch os.Getenv("RATCHET_HARNESS_WORKER") {
	case "1":
		os.Exit(harness.Main(os.Args[len(os.Args)-1], os.Stdout, os.Stderr))
	case "crash":
		fmt.Println(result.FormatLine(5, 1))
		os.Exit(7)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func worker(t *testing.T, mode string, timeout time.Duration) (*runner.Process, string) {
	t.Helper()
	dir := t.TempDir()
	return &runner.Process{
		Command:    []string{os.Args[0]},
		Env:        []string{"RATCHET_HARNESS_WORKER=" + mode},
		ProgramDir: dir,
		Timeout:    timeout,
	}, dir
}

func program(t *testing.T, agentSrc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.star")
	if err := os.WriteFile(path, []byte(agentSrc), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := params.Default()
	doc[params.Training]["max_steps_per_episode"] = 30
	prog, err := harness.Generate(harness.Spec{CandidatePath: path, Config: doc, Episodes: 3, Seed: harness.DefaultSeed})
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

func assertNoPrograms(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".star" {
			t.Errorf("program file %s left behind", e.Name())
		}
	}
}

func TestProcessEvaluates(t *testing.T) {
	p, dir := worker(t, "1", 30*time.Second)
	prog := program(t, agent.DefaultSource)

	first := p.Execute(context.Background(), prog, "baseline")
	if first.Status != result.StatusOK {
		t.Fatalf("status %q: %s", first.Status, first.Detail)
	}
	second := p.Execute(context.Background(), prog, "baseline")
	if first.Metrics.AvgReturn() != second.Metrics.AvgReturn() ||
		first.Metrics.SuccessRate() != second.Metrics.SuccessRate() {
		t.Errorf("same program gave different metrics: %v vs %v", first.Metrics, second.Metrics)
	}
	assertNoPrograms(t, dir)
}

func TestProcessReportsFailure(t *testing.T) {
	p, dir := worker(t, "1", 30*time.Second)
	prog := program(t, "def Agent(env, config):\n    fail(\"broken\")\n")

	r := p.Execute(context.Background(), prog, "candidate_1")
	if r.Status != result.StatusFailed {
		t.Errorf("status = %q, want failed", r.Status)
	}
	if !r.Metrics.Failed() {
		t.Errorf("want sentinel metrics, got %v", r.Metrics)
	}
	assertNoPrograms(t, dir)
}

func TestProcessCrash(t *testing.T) {
	p, dir := worker(t, "crash", 30*time.Second)
	r := p.Execute(context.Background(), "unused", "candidate_2")
	if r.Status != result.StatusCrashed || r.ExitCode != 7 {
		t.Errorf("got status %q exit %d", r.Status, r.ExitCode)
	}
	if !r.Metrics.Failed() {
		t.Errorf("crash must carry the sentinel, got %v", r.Metrics)
	}
	assertNoPrograms(t, dir)
}

func TestProcessTimeout(t *testing.T) {
	p, dir := worker(t, "hang", 500*time.Millisecond)
	start := time.Now()
	r := p.Execute(context.Background(), "unused", "slow")
	if r.Status != result.StatusTimeout {
		t.Errorf("status = %q, want timeout", r.Status)
	}
	if r.ExitCode != runner.ExitCodeTimeout {
		t.Errorf("exit code = %d", r.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	assertNoPrograms(t, dir)
}

func TestProcessMissingBinary(t *testing.T) {
	dir := t.TempDir()
	p := &runner.Process{Command: []string{filepath.Join(dir, "nope")}, ProgramDir: dir, Timeout: time.Second}
	r := p.Execute(context.Background(), "x", "c")
	if r.Status != result.StatusError {
		t.Errorf("status = %q, want error", r.Status)
	}
	assertNoPrograms(t, dir)
}
