package advisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/signalnine/ratchet/internal/params"
)

const (
	agentMarker   = "# AGENT"
	variantMarker = "# VARIANT"
)

// ErrNoJSON is returned when a reply carries no JSON object.
var ErrNoJSON = errors.New("reply contains no JSON object")

// fencedBlocks returns the text inside ``` fences of section, joined.
func fencedBlocks(section string) string {
	var lines []string
	in := false
	for _, line := range strings.Split(section, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			in = !in
			continue
		}
		if in {
			lines = append(lines, line)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractAgents pulls agent sources out of a reply split on "# AGENT"
// headers. Sections without a fenced block defining Agent are dropped and
// counted.
func ExtractAgents(text string) (agents []string, dropped int) {
	sections := strings.Split(text, agentMarker)
	for _, section := range sections[1:] {
		code := fencedBlocks(section)
		if code == "" || !strings.Contains(code, "def Agent(") {
			dropped++
			continue
		}
		agents = append(agents, code+"\n")
	}
	return agents, dropped
}

// ExtractVariants pulls parameter patches out of a reply split on
// "# VARIANT" headers. Each section holds one JSON object, either flat
// ({"learning_rate": 0.2}) or grouped by category.
func ExtractVariants(text string) (patches []params.Patch, dropped int) {
	sections := strings.Split(text, variantMarker)
	for _, section := range sections[1:] {
		raw := fencedBlocks(section)
		if raw == "" {
			dropped++
			continue
		}
		p, err := parsePatch([]byte(raw))
		if err != nil || len(p) == 0 {
			dropped++
			continue
		}
		patches = append(patches, p)
	}
	return patches, dropped
}

func parsePatch(data []byte) (params.Patch, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	p := params.Patch{}
	for k, v := range obj {
		switch val := v.(type) {
		case float64:
			p[k] = val
		case map[string]any:
			for nk, nv := range val {
				if f, ok := nv.(float64); ok {
					p[nk] = f
				}
			}
		}
	}
	return p, nil
}

// Decision is the advisor's choice of what the next cycle does.
type Decision struct {
	Stop                    bool   `json:"stop"`
	RewriteAgent            bool   `json:"rewrite_agent"`
	OptimizeAgentConfigs    bool   `json:"optimize_agent_configs"`
	OptimizeTrainingConfigs bool   `json:"optimize_training_configs"`
	Reason                  string `json:"reason"`
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseDecision reads the first-to-last brace span of text as a Decision.
func ParseDecision(text string) (Decision, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return Decision{}, ErrNoJSON
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("parsing decision: %w", err)
	}
	return d, nil
}
