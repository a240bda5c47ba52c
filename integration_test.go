//go:build integration

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/ratchet/internal/agent"
)

// buildBinary compiles ratchet into a temp dir so the executor can spawn
// real harness workers.
func buildBinary(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "ratchet")
	c := exec.Command("go", "build", "-o", bin, ".")
	if out, err := c.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v: %s", err, out)
	}
	return bin
}

func ratchet(t *testing.T, bin, cfg string, args ...string) (string, error) {
	t.Helper()
	c := exec.Command(bin, append([]string{"--config", cfg}, args...)...)
	out, err := c.Output()
	return string(out), err
}

func TestAgentRoundIntegration(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	cfg := filepath.Join(dir, "ratchet.yaml")

	if out, err := ratchet(t, bin, cfg, "init"); err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}

	out, err := ratchet(t, bin, cfg, "eval", "--episodes", "5")
	if err != nil {
		t.Fatalf("eval: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "RESULTS: avg_return=") {
		t.Errorf("eval output: %q", out)
	}

	broken := filepath.Join(dir, "broken.star")
	os.WriteFile(broken, []byte("def Agent(env, config):\n    fail(\"nope\")\n"), 0o644)
	same := filepath.Join(dir, "same.star")
	os.WriteFile(same, []byte(agent.DefaultSource), 0o644)

	out, err = ratchet(t, bin, cfg, "round", "agent", "--candidates", broken+","+same)
	if err != nil {
		t.Fatalf("round: %v\n%s", err, out)
	}
	// The identical agent scores the same as the baseline under the fixed
	// seed; whether that counts as a win depends on the sign of the score
	// under the literal rule, so only the broken candidate is checked.
	if !strings.Contains(out, "agent round") || strings.Contains(out, "replaced by candidate_1") {
		t.Errorf("round output: %q", out)
	}

	live, err := os.ReadFile(filepath.Join(dir, ".ratchet", "agent.star"))
	if err != nil || string(live) != agent.DefaultSource {
		t.Errorf("live agent changed: %v", err)
	}
	staging, _ := os.ReadDir(filepath.Join(dir, ".ratchet", "staging", "agent"))
	if len(staging) != 0 {
		t.Errorf("staging not cleared: %d entries", len(staging))
	}

	out, err = ratchet(t, bin, cfg, "report", "--format", "json")
	if err != nil || !strings.Contains(out, `"track": "agent"`) {
		t.Errorf("report: %v\n%s", err, out)
	}
}

func TestDockerBackendIntegration(t *testing.T) {
	if os.Getenv("RATCHET_DOCKER_TESTS") == "" {
		t.Skip("set RATCHET_DOCKER_TESTS=1 to run docker integration tests")
	}
	bin := buildBinary(t)
	dir := t.TempDir()
	cfg := filepath.Join(dir, "ratchet.yaml")
	if out, err := ratchet(t, bin, cfg, "init"); err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}
	data, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(cfg, []byte(strings.Replace(string(data), "backend: process", "backend: docker", 1)), 0o644)

	out, err := ratchet(t, bin, cfg, "eval", "--episodes", "3")
	if err != nil {
		t.Fatalf("eval: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "RESULTS: ") {
		t.Errorf("eval output: %q", out)
	}
}
