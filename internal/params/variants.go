package params

import (
	"fmt"
	"log/slog"
	"sort"
)

// FocusArea restricts which sections a patch may touch.
type FocusArea string

const (
	FocusAll         FocusArea = "all"
	FocusEnvironment FocusArea = "environment"
	FocusAgent       FocusArea = "agent"
	FocusTraining    FocusArea = "training"
)

func ParseFocus(s string) (FocusArea, error) {
	switch f := FocusArea(s); f {
	case "", FocusAll:
		return FocusAll, nil
	case FocusEnvironment, FocusAgent, FocusTraining:
		return f, nil
	}
	return "", fmt.Errorf("unknown focus area %q", s)
}

// Allows reports whether a parameter in category c may be patched.
func (f FocusArea) Allows(c Category) bool {
	switch f {
	case FocusAgent:
		return c == Agent
	case FocusTraining:
		return c == Training
	case FocusEnvironment:
		return c == Environment || c == Rewards
	default:
		return true
	}
}

// Patch is a set of parameter overrides proposed for one variant.
type Patch map[string]float64

// GenerateVariants applies each patch to its own copy of base. Parameters that
// fall outside focus or fail validation are skipped one by one; the rest of
// the patch still applies.
func GenerateVariants(base Document, patches []Patch, focus FocusArea, logger *slog.Logger) []Document {
	if logger == nil {
		logger = slog.Default()
	}
	variants := make([]Document, 0, len(patches))
	for i, patch := range patches {
		variant := base.Clone()
		for _, name := range orderedKeys(patch) {
			value := patch[name]
			c, ok := CategoryOf(name)
			if !ok {
				logger.Warn("skipping unknown parameter", "variant", i+1, "param", name)
				continue
			}
			if !focus.Allows(c) {
				logger.Warn("skipping parameter outside focus", "variant", i+1, "param", name, "focus", string(focus))
				continue
			}
			if err := ValidateParameter(name, value, variant); err != nil {
				logger.Warn("skipping invalid parameter", "variant", i+1, "error", err)
				continue
			}
			variant.Set(name, value)
		}
		variants = append(variants, variant)
	}
	return variants
}

// orderedKeys returns patch keys in registry order, unknown keys last.
func orderedKeys(p Patch) []string {
	rank := make(map[string]int, len(Registry))
	for i, b := range Registry {
		rank[b.Name] = i
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
