package advisor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
)

func formatMetrics(m result.Metrics) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("CURRENT METRICS:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %.3f\n", k, m[k])
	}
	return b.String()
}

func formatConfig(doc params.Document) string {
	data, err := json.MarshalIndent(doc.Flatten(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func formatBounds(focus params.FocusArea) string {
	var b strings.Builder
	for _, p := range params.Registry {
		if !focus.Allows(p.Category) {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s, %s): min %s, max %s\n", p.Name, p.Category, p.Kind, p.Min, p.Max)
	}
	return b.String()
}

// DecisionPrompt asks what the next cycle should do.
func DecisionPrompt(m result.Metrics, doc params.Document) string {
	return fmt.Sprintf(`You are an RL expert tuning a grid-world agent.

%s
CURRENT CONFIG:
`+"```json\n%s\n```"+`

Choose your response:
1. To try new agent configs, reply: {"optimize_agent_configs": true, "reason": "..."}
2. To try new training configs, reply: {"optimize_training_configs": true, "reason": "..."}
3. To rewrite the agent, reply: {"rewrite_agent": true, "reason": "..."}
4. If performance is satisfactory, reply: {"stop": true}

Reply with JSON only.`, formatMetrics(m), formatConfig(doc))
}

// AgentPrompt asks for n rewritten agents.
func AgentPrompt(m result.Metrics, source string, n int) string {
	return fmt.Sprintf(`You are an RL expert. Write %d improved versions of the agent below.

%s
CURRENT AGENT (Starlark):
`+"```python\n%s\n```"+`

Rules:
- Starlark only: no imports, no classes, no while-true loops without a bound.
- Keep the entry point def Agent(env, config) returning
  struct(select_action = ..., learn = ..., decay_exploration = ...).
- random() and randrange(n) are available; env has reset(), step(a), state_shape(), n_actions().

Format each answer as "# AGENT <i>" followed by one fenced code block.`, n, formatMetrics(m), strings.TrimSpace(source))
}

// VariantPrompt asks for n parameter patches within focus.
func VariantPrompt(m result.Metrics, doc params.Document, focus params.FocusArea, n int) string {
	return fmt.Sprintf(`You are an RL expert. Propose %d alternative settings for the %s parameters.

%s
CURRENT CONFIG:
`+"```json\n%s\n```"+`

TUNABLE PARAMETERS:
%s
Format each answer as "# VARIANT <i>" followed by one fenced JSON object
mapping parameter names to new values. Only include parameters you change.`,
		n, focus, formatMetrics(m), formatConfig(doc), formatBounds(focus))
}
