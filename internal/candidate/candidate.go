// Package candidate holds the proposals a round evaluates.
package candidate

import (
	"fmt"

	"github.com/signalnine/ratchet/internal/params"
)

// Agent is a proposed replacement for the live agent source.
type Agent struct {
	Label  string
	Source string
}

// Config is a proposed configuration document.
type Config struct {
	Label    string
	Document params.Document
}

// Label names the i-th candidate (zero-based) the way rounds report it.
func Label(i int) string {
	return fmt.Sprintf("candidate_%d", i+1)
}

// Agents wraps raw sources as labeled candidates.
func Agents(sources []string) []Agent {
	out := make([]Agent, len(sources))
	for i, src := range sources {
		out[i] = Agent{Label: Label(i), Source: src}
	}
	return out
}

// Configs wraps documents as labeled candidates.
func Configs(docs []params.Document) []Config {
	out := make([]Config, len(docs))
	for i, d := range docs {
		out[i] = Config{Label: Label(i), Document: d}
	}
	return out
}
