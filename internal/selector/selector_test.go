package selector_test

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/signalnine/ratchet/internal/candidate"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
	"github.com/signalnine/ratchet/internal/runner"
	"github.com/signalnine/ratchet/internal/selector"
	"github.com/signalnine/ratchet/internal/store"
)

var (
	loadRe  = regexp.MustCompile(`load\("([^"]+)"`)
	scoreRe = regexp.MustCompile(`# score=(\S+)`)
	lrRe    = regexp.MustCompile(`"learning_rate": ([0-9.]+)`)
)

// fakeExec scores programs without running them. Agents carry their score
// in a "# score=" comment; configs are scored by learning rate.
type fakeExec struct {
	configScores map[float64]float64
	delay        func(program string) time.Duration

	mu       sync.Mutex
	programs []string
}

func (f *fakeExec) Execute(_ context.Context, program, label string) result.Result {
	f.mu.Lock()
	f.programs = append(f.programs, program)
	f.mu.Unlock()
	if f.delay != nil {
		time.Sleep(f.delay(program))
	}

	score, ok := f.score(program)
	if !ok {
		return runner.Normalize(label, runner.Outcome{Stdout: result.SentinelLine(), ExitCode: 3})
	}
	return runner.Normalize(label, runner.Outcome{Stdout: result.FormatLine(score, 0.5)})
}

func (f *fakeExec) score(program string) (float64, bool) {
	if m := lrRe.FindStringSubmatch(program); m != nil {
		lr, _ := strconv.ParseFloat(m[1], 64)
		s, ok := f.configScores[lr]
		return s, ok
	}
	m := loadRe.FindStringSubmatch(program)
	if m == nil {
		return 0, false
	}
	src, err := os.ReadFile(m[1])
	if err != nil {
		return 0, false
	}
	sm := scoreRe.FindSubmatch(src)
	if sm == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(sm[1]), 64)
	return v, err == nil
}

func agentSource(score string) string {
	return "# score=" + score + "\ndef Agent(env, config):\n    pass\n"
}

func newSelector(t *testing.T, exec runner.Executor, baselineScore string) (*selector.Selector, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	agents := store.ForAgent(dir)
	if err := agents.WriteLive([]byte(agentSource(baselineScore))); err != nil {
		t.Fatal(err)
	}
	configs := store.ForConfig(dir)
	if err := params.Default().Save(configs.LivePath); err != nil {
		t.Fatal(err)
	}
	return &selector.Selector{
		Exec:           exec,
		Agents:         agents,
		LiveAgentPath:  agents.LivePath,
		LiveConfigPath: configs.LivePath,
		Episodes:       10,
		Seed:           42,
	}, agents
}

func agents(scores ...string) []candidate.Agent {
	srcs := make([]string, len(scores))
	for i, s := range scores {
		if s == "fail" {
			srcs[i] = "def Agent(env, config):\n    pass\n"
			continue
		}
		srcs[i] = agentSource(s)
	}
	return candidate.Agents(srcs)
}

func TestRules(t *testing.T) {
	tests := []struct {
		rule       selector.Rule
		cand, best float64
		want       bool
	}{
		{selector.Relative{Margin: 0.1}, 11.1, 10, true},
		{selector.Relative{Margin: 0.1}, 11.0, 10, false},
		{selector.Relative{Margin: 0.1}, -4.30, -4.00, true},
		{selector.Relative{Margin: 0.1, Corrected: true}, -4.30, -4.00, false},
		{selector.Relative{Margin: 0.1, Corrected: true}, -3.50, -4.00, true},
		{selector.Relative{Margin: 0.1, Corrected: true}, 11.1, 10, true},
		{selector.Absolute{Margin: 0.05}, 1.04, 1.0, false},
		{selector.Absolute{Margin: 0.05}, 1.06, 1.0, true},
		{selector.Absolute{Margin: 0.05}, 1.05, 1.0, false},
	}
	for _, tt := range tests {
		if got := tt.rule.Improves(tt.cand, tt.best); got != tt.want {
			t.Errorf("%s.Improves(%v, %v) = %v, want %v", tt.rule.Name(), tt.cand, tt.best, got, tt.want)
		}
	}
}

func TestAgentRuleByName(t *testing.T) {
	if _, err := selector.AgentRule("fuzzy", 0.1); err == nil {
		t.Error("unknown rule accepted")
	}
	r, err := selector.AgentRule("corrected", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if !r.(selector.Relative).Corrected {
		t.Error("corrected rule not selected")
	}
}

func TestSelectAgentsFailureDoesNotBlock(t *testing.T) {
	s, _ := newSelector(t, &fakeExec{}, "-5.0")
	sel, err := s.SelectAgents(context.Background(), agents("-6.0", "fail", "-3.0"))
	if err != nil {
		t.Fatal(err)
	}
	if sel.Index != 2 || sel.Label != "candidate_3" {
		t.Errorf("winner = %d %s, want 2 candidate_3", sel.Index, sel.Label)
	}
	if sel.Results[1].Status != result.StatusFailed {
		t.Errorf("candidate_2 status = %q", sel.Results[1].Status)
	}
	if !sel.Replaced() {
		t.Error("expected replacement")
	}
}

func TestSelectAgentsAsymmetry(t *testing.T) {
	for _, tt := range []struct {
		name string
		rule selector.Rule
		want int
	}{
		{"literal", selector.Relative{Margin: 0.1}, 0},
		{"corrected", selector.Relative{Margin: 0.1, Corrected: true}, result.BaselineIndex},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newSelector(t, &fakeExec{}, "-4.00")
			s.AgentRule = tt.rule
			sel, err := s.SelectAgents(context.Background(), agents("-4.30"))
			if err != nil {
				t.Fatal(err)
			}
			if sel.Index != tt.want {
				t.Errorf("index = %d, want %d", sel.Index, tt.want)
			}
		})
	}
}

func TestSelectAgentsRunningBest(t *testing.T) {
	s, _ := newSelector(t, &fakeExec{}, "10")
	// 12 beats 10*1.1, then 13 must beat 12*1.1 and does not.
	sel, _ := s.SelectAgents(context.Background(), agents("12", "13"))
	if sel.Index != 0 {
		t.Errorf("index = %d, want 0", sel.Index)
	}
	s2, _ := newSelector(t, &fakeExec{}, "10")
	sel, _ = s2.SelectAgents(context.Background(), agents("12", "13.3"))
	if sel.Index != 1 {
		t.Errorf("index = %d, want 1", sel.Index)
	}
}

func TestSelectAgentsTieKeepsEarlier(t *testing.T) {
	s, _ := newSelector(t, &fakeExec{}, "1")
	sel, _ := s.SelectAgents(context.Background(), agents("2", "2"))
	if sel.Index != 0 {
		t.Errorf("index = %d, want 0", sel.Index)
	}
}

func TestSelectAgentsClearsStaging(t *testing.T) {
	s, st := newSelector(t, &fakeExec{}, "1")
	if _, err := s.SelectAgents(context.Background(), agents("2", "fail")); err != nil {
		t.Fatal(err)
	}
	names, err := st.Staged()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("staging not cleared: %v", names)
	}
}

func TestSelectAgentsBaselineUsesLiveArtifacts(t *testing.T) {
	exec := &fakeExec{}
	s, _ := newSelector(t, exec, "1")
	if _, err := s.SelectAgents(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(exec.programs) != 1 {
		t.Fatalf("programs = %d", len(exec.programs))
	}
	m := loadRe.FindStringSubmatch(exec.programs[0])
	if m == nil || m[1] != s.LiveAgentPath {
		t.Errorf("baseline did not load the live agent: %v", m)
	}
}

func TestSelectAgentsParallelPreservesOrder(t *testing.T) {
	exec := &fakeExec{delay: func(p string) time.Duration {
		// Earlier candidates finish last.
		if m := loadRe.FindStringSubmatch(p); m != nil {
			switch {
			case regexp.MustCompile(`candidate_1`).MatchString(m[1]):
				return 30 * time.Millisecond
			case regexp.MustCompile(`candidate_2`).MatchString(m[1]):
				return 15 * time.Millisecond
			}
		}
		return 0
	}}
	s, _ := newSelector(t, exec, "1")
	s.Parallel = 3
	sel, err := s.SelectAgents(context.Background(), agents("2", "2", "2.1"))
	if err != nil {
		t.Fatal(err)
	}
	if sel.Index != 0 {
		t.Errorf("index = %d, want 0", sel.Index)
	}
	for i, r := range sel.Results {
		if r.Index != i || r.Label != candidate.Label(i) {
			t.Errorf("slot %d holds %d %s", i, r.Index, r.Label)
		}
	}
}

func TestSelectConfigsThreshold(t *testing.T) {
	base := params.Default()
	low := base.Clone()
	low.Set("learning_rate", 0.2)
	high := base.Clone()
	high.Set("learning_rate", 0.3)

	exec := &fakeExec{configScores: map[float64]float64{0.1: 1.0, 0.2: 1.04, 0.3: 1.06}}
	s, _ := newSelector(t, exec, "0")
	sel, err := s.SelectConfigs(context.Background(), base, candidate.Configs([]params.Document{low, high}))
	if err != nil {
		t.Fatal(err)
	}
	if sel.Index != 1 {
		t.Errorf("index = %d, want 1", sel.Index)
	}
	if got := sel.Metrics.AvgReturn(); got != 1.06 {
		t.Errorf("winner avg = %v", got)
	}
}

func TestSelectConfigsNotSelected(t *testing.T) {
	base := params.Default()
	low := base.Clone()
	low.Set("learning_rate", 0.2)
	exec := &fakeExec{configScores: map[float64]float64{0.1: 1.0, 0.2: 1.04}}
	s, _ := newSelector(t, exec, "0")
	sel, _ := s.SelectConfigs(context.Background(), base, candidate.Configs([]params.Document{low}))
	if sel.Replaced() {
		t.Errorf("1.04 should not beat 1.0 by 0.05")
	}
}

func TestSelectConfigsAbortsOnFailedBaseline(t *testing.T) {
	cand := params.Default()
	cand.Set("learning_rate", 0.3)
	exec := &fakeExec{configScores: map[float64]float64{0.3: 5}}
	s, _ := newSelector(t, exec, "0")
	sel, err := s.SelectConfigs(context.Background(), params.Default(), candidate.Configs([]params.Document{cand}))
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Aborted || sel.Replaced() {
		t.Errorf("expected abort, got %+v", sel)
	}
	if len(exec.programs) != 1 {
		t.Errorf("candidates evaluated after failed baseline: %d programs", len(exec.programs))
	}
}

func TestSelectConfigsOnResult(t *testing.T) {
	exec := &fakeExec{configScores: map[float64]float64{0.1: 1.0}}
	s, _ := newSelector(t, exec, "0")
	var seen []string
	s.OnResult = func(track selector.Track, r result.Result) {
		if track != selector.TrackConfig {
			t.Errorf("track = %s", track)
		}
		seen = append(seen, r.Label)
	}
	s.SelectConfigs(context.Background(), params.Default(), candidate.Configs([]params.Document{params.Default()}))
	if len(seen) != 2 || seen[0] != selector.BaselineLabel || seen[1] != "candidate_1" {
		t.Errorf("seen = %v", seen)
	}
}
