// Package pricing estimates what advisor calls cost from per-model token
// prices.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type Table struct {
	Providers map[string]map[string]ModelPricing
}

// Default covers the models the advisor is usually pointed at. Prices are
// USD per 1K tokens.
func Default() *Table {
	return &Table{Providers: map[string]map[string]ModelPricing{
		"openai": {
			"gpt-4o":      {Input: 0.0025, Output: 0.01},
			"gpt-4o-mini": {Input: 0.00015, Output: 0.0006},
			"gpt-4.1":     {Input: 0.002, Output: 0.008},
		},
	}}
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	for provider, models := range providers {
		for model, p := range models {
			if p.Input < 0 || p.Output < 0 {
				return nil, fmt.Errorf("pricing for %s/%s is negative", provider, model)
			}
		}
	}
	return &Table{Providers: providers}, nil
}

// LoadOrDefault reads path, or returns Default when path is empty.
func LoadOrDefault(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Cost calculates total cost for a request. Prices are per 1K tokens.
func (t *Table) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	if t == nil || t.Providers == nil {
		return 0
	}
	models, ok := t.Providers[provider]
	if !ok {
		return 0
	}
	p, ok := models[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000.0)*p.Input + (float64(outputTokens)/1000.0)*p.Output
}

// Known reports whether the table has a price for model.
func (t *Table) Known(provider, model string) bool {
	if t == nil {
		return false
	}
	_, ok := t.Providers[provider][model]
	return ok
}
