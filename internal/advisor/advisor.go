package advisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/pricing"
	"github.com/signalnine/ratchet/internal/result"
)

// Purpose tags what an advisor call was for in the usage record.
type Purpose string

const (
	PurposeDecision Purpose = "decision"
	PurposeAgents   Purpose = "agents"
	PurposeVariants Purpose = "variants"
)

// Usage is reported once per completed call.
type Usage struct {
	Purpose          Purpose
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Advisor turns prompts into decisions and candidates and accounts for
// what each call cost.
type Advisor struct {
	Client   Client
	Provider string
	Pricing  *pricing.Table
	Logger   *slog.Logger
	OnUsage  func(Usage)
}

func (a *Advisor) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Advisor) ask(ctx context.Context, purpose Purpose, prompt string) (string, error) {
	c, err := a.Client.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("advisor %s: %w", purpose, err)
	}
	u := Usage{
		Purpose:          purpose,
		Model:            c.Model,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		CostUSD:          a.Pricing.Cost(a.Provider, c.Model, c.PromptTokens, c.CompletionTokens),
	}
	a.logger().Info("advisor call", "purpose", purpose, "model", u.Model,
		"prompt_tokens", u.PromptTokens, "completion_tokens", u.CompletionTokens, "cost_usd", u.CostUSD)
	if a.OnUsage != nil {
		a.OnUsage(u)
	}
	return c.Text, nil
}

// Decide asks what the next cycle should do.
func (a *Advisor) Decide(ctx context.Context, m result.Metrics, doc params.Document) (Decision, error) {
	text, err := a.ask(ctx, PurposeDecision, DecisionPrompt(m, doc))
	if err != nil {
		return Decision{}, err
	}
	return ParseDecision(text)
}

// ProposeAgents asks for n rewritten agents.
func (a *Advisor) ProposeAgents(ctx context.Context, m result.Metrics, source string, n int) ([]string, error) {
	text, err := a.ask(ctx, PurposeAgents, AgentPrompt(m, source, n))
	if err != nil {
		return nil, err
	}
	agents, dropped := ExtractAgents(text)
	if dropped > 0 {
		a.logger().Warn("dropped malformed agent proposals", "dropped", dropped)
	}
	return agents, nil
}

// ProposeVariants asks for n parameter patches within focus.
func (a *Advisor) ProposeVariants(ctx context.Context, m result.Metrics, doc params.Document, focus params.FocusArea, n int) ([]params.Patch, error) {
	text, err := a.ask(ctx, PurposeVariants, VariantPrompt(m, doc, focus, n))
	if err != nil {
		return nil, err
	}
	patches, dropped := ExtractVariants(text)
	if dropped > 0 {
		a.logger().Warn("dropped malformed variant proposals", "dropped", dropped)
	}
	return patches, nil
}
