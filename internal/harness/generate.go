// Package harness turns a candidate into a standalone Starlark program that
// plays a fixed number of seeded episodes and prints one result line, and
// provides the runtime the worker process executes such programs with.
package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/syntax"

	"github.com/signalnine/ratchet/internal/params"
)

// DefaultSeed is fixed so every candidate sees the same episode sequence.
const DefaultSeed = 42

type Spec struct {
	// CandidatePath is the agent under test. Empty means the live agent.
	CandidatePath string
	LiveAgentPath string
	// Config is embedded verbatim. Nil means the live configuration file is
	// read when the program runs.
	Config         params.Document
	LiveConfigPath string
	Episodes       int
	Seed           int64
}

// Generate renders the program text for spec.
func Generate(spec Spec) (string, error) {
	if spec.Episodes < 1 {
		return "", fmt.Errorf("episodes must be at least 1, got %d", spec.Episodes)
	}
	agentPath := spec.CandidatePath
	if agentPath == "" {
		agentPath = spec.LiveAgentPath
	}
	if agentPath == "" {
		return "", errors.New("no agent: neither candidate nor live agent path set")
	}
	agentPath, err := filepath.Abs(agentPath)
	if err != nil {
		return "", fmt.Errorf("resolving agent path: %w", err)
	}

	var configExpr string
	if spec.Config != nil {
		configExpr = ConfigLiteral(spec.Config)
	} else {
		if spec.LiveConfigPath == "" {
			return "", errors.New("no config: neither document nor live config path set")
		}
		livePath, err := filepath.Abs(spec.LiveConfigPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		configExpr = fmt.Sprintf("load_config(%s)", syntax.Quote(livePath, false))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by ratchet. Plays %d episode(s) and prints one RESULTS line.\n", spec.Episodes)
	fmt.Fprintf(&b, "load(%s, %q)\n\n", syntax.Quote(agentPath, false), "Agent")
	fmt.Fprintf(&b, "SEED = %d\n", spec.Seed)
	fmt.Fprintf(&b, "EPISODES = %d\n", spec.Episodes)
	fmt.Fprintf(&b, "CONFIG = %s\n", configExpr)
	b.WriteString(mainBody)
	return b.String(), nil
}

const mainBody = `
def main():
    seed(SEED)
    flat = {}
    for section in ("environment", "rewards", "agent", "training", "system"):
        flat.update(CONFIG[section])
    env = GridWorld(flat)
    agent = Agent(env, flat)
    max_steps = flat["max_steps_per_episode"]
    returns = []
    for _ in range(EPISODES):
        state = env.reset()
        total = 0.0
        for _ in range(max_steps):
            action = agent.select_action(state)
            next_state, reward, done, _ = env.step(action)
            agent.learn(state, action, reward, next_state, done)
            state = next_state
            total += reward
            if done:
                break
        agent.decay_exploration()
        returns.append(total)
    acc = 0.0
    wins = 0
    for r in returns:
        acc += r
        if r > 0:
            wins += 1
    print(results_line(acc / len(returns), wins / len(returns)))
`

// ConfigLiteral renders doc as a Starlark dict literal with sorted keys.
// Integer parameters are written as ints so range() accepts them.
func ConfigLiteral(doc params.Document) string {
	var b strings.Builder
	b.WriteString("{\n")
	for _, c := range params.Categories {
		section := doc[c]
		keys := make([]string, 0, len(section))
		for k := range section {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "    %s: {", syntax.Quote(string(c), false))
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", syntax.Quote(k, false), numberLiteral(k, section[k]))
		}
		b.WriteString("},\n")
	}
	b.WriteString("}")
	return b.String()
}

func numberLiteral(name string, v float64) string {
	if b, ok := params.Lookup(name); ok && b.Kind == params.Int {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
