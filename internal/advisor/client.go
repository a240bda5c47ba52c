// Package advisor asks a language model what to try next and turns its
// replies into candidates for the engine to evaluate.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Completion is one model reply with its token usage.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

type Client interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

type OpenAIOptions struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	Temperature       float32
	RequestsPerMinute float64
	Logger            *slog.Logger
}

type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
	logger      *slog.Logger
}

var _ Client = (*OpenAI)(nil)

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if opts.Model == "" {
		return nil, errors.New("no model configured")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(opts.RequestsPerMinute / 60)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (Completion, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return Completion{}, err
	}
	o.logger.Debug("querying advisor", "model", o.model, "prompt_bytes", len(prompt))
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: o.maxTokens,
		Temperature:         o.temperature,
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("OpenAI returned no choices")
	}
	o.logger.Debug("advisor replied", "finish_reason", resp.Choices[0].FinishReason)
	return Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            o.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// FileSource replays a prepared reply instead of calling a model, for
// offline rounds and tests.
type FileSource struct {
	Path string
}

var _ Client = FileSource{}

func (f FileSource) Complete(_ context.Context, _ string) (Completion, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Completion{}, fmt.Errorf("reading proposals: %w", err)
	}
	return Completion{Text: string(data), Model: "file"}, nil
}
