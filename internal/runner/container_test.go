package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/ratchet/internal/docker"
	"github.com/signalnine/ratchet/internal/result"
)

func TestContainerBuildsIsolatedRun(t *testing.T) {
	state := t.TempDir()
	progDir := t.TempDir()
	var got *docker.RunOpts
	c := &Container{
		Image:        "ratchet-eval:latest",
		Binary:       "/opt/ratchet",
		StateDir:     state,
		ProgramDir:   progDir,
		Timeout:      5 * time.Second,
		MaxExecSteps: 1000,
		run: func(_ context.Context, opts *docker.RunOpts) (*docker.RunResult, error) {
			got = opts
			if _, err := os.Stat(opts.Command[2]); err != nil {
				t.Errorf("program not present during run: %v", err)
			}
			return &docker.RunResult{Stdout: []byte(result.FormatLine(0.5, 0.75) + "\n")}, nil
		},
	}
	r := c.Execute(context.Background(), "def main(): pass\n", "baseline")
	if r.Status != result.StatusOK || r.Metrics.AvgReturn() != 0.5 {
		t.Fatalf("unexpected result %+v", r)
	}
	if got.Network {
		t.Error("evaluation containers must not have networking")
	}
	if got.Command[0] != containerBinary || got.Command[1] != "harness" {
		t.Errorf("command = %v", got.Command)
	}
	if got.Env["RATCHET_MAX_EXEC_STEPS"] != "1000" {
		t.Errorf("env = %v", got.Env)
	}
	for _, m := range got.Mounts {
		if !m.ReadOnly {
			t.Errorf("mount %s is writable", m.Target)
		}
	}
	if len(got.Mounts) != 3 {
		t.Errorf("want binary, program, and state mounts, got %d", len(got.Mounts))
	}
	entries, _ := os.ReadDir(progDir)
	if len(entries) != 0 {
		t.Errorf("program files left: %d", len(entries))
	}
}

func TestContainerMountsExternalModules(t *testing.T) {
	state := t.TempDir()
	external := filepath.Join(t.TempDir(), "candidate.star")
	live := filepath.Join(state, "agent.star")
	program := fmt.Sprintf("load(%q, \"Agent\")\nload(%q, Live = \"Agent\")\nload(%q, \"Agent\")\n",
		external, live, external)

	var got *docker.RunOpts
	c := &Container{
		Binary:     "/opt/ratchet",
		StateDir:   state,
		ProgramDir: t.TempDir(),
		run: func(_ context.Context, opts *docker.RunOpts) (*docker.RunResult, error) {
			got = opts
			return &docker.RunResult{Stdout: []byte(result.FormatLine(1, 1) + "\n")}, nil
		},
	}
	c.Execute(context.Background(), program, "candidate_1")
	if got == nil {
		t.Fatal("container not run")
	}

	var externalMounts int
	for _, m := range got.Mounts {
		if m.Source == live {
			t.Errorf("module under the state dir mounted separately")
		}
		if m.Source == external {
			externalMounts++
			if m.Target != external || !m.ReadOnly {
				t.Errorf("external mount = %+v", m)
			}
		}
	}
	if externalMounts != 1 {
		t.Errorf("external module mounted %d times, want 1", externalMounts)
	}
	if len(got.Mounts) != 4 {
		t.Errorf("want binary, program, state, and external mounts, got %d", len(got.Mounts))
	}
}

func TestContainerErrors(t *testing.T) {
	c := &Container{
		Binary:     "/opt/ratchet",
		ProgramDir: t.TempDir(),
		run: func(context.Context, *docker.RunOpts) (*docker.RunResult, error) {
			return nil, errors.New("daemon unavailable")
		},
	}
	r := c.Execute(context.Background(), "x", "c")
	if r.Status != result.StatusError || !strings.Contains(r.Detail, "daemon") {
		t.Errorf("unexpected result %+v", r)
	}

	c.run = func(context.Context, *docker.RunOpts) (*docker.RunResult, error) {
		return &docker.RunResult{ExitCode: 124, TimedOut: true}, nil
	}
	if r := c.Execute(context.Background(), "x", "c"); r.Status != result.StatusTimeout {
		t.Errorf("status = %q, want timeout", r.Status)
	}
}
