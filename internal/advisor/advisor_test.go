package advisor_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/ratchet/internal/advisor"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/pricing"
	"github.com/signalnine/ratchet/internal/result"
)

const twoAgents = "Here you go.\n\n# AGENT 1\n```python\ndef Agent(env, config):\n    return None\n```\n\n" +
	"# AGENT 2\nno code here\n\n# AGENT 3\n```\ndef Agent(env, config):\n    pass\n```\n"

func TestExtractAgents(t *testing.T) {
	agents, dropped := advisor.ExtractAgents(twoAgents)
	require.Len(t, agents, 2)
	assert.Equal(t, 1, dropped)
	assert.True(t, strings.HasPrefix(agents[0], "def Agent(env, config):"))
	assert.NotContains(t, agents[0], "```")
	assert.Contains(t, agents[1], "pass")
}

func TestExtractAgentsRequiresAgentDef(t *testing.T) {
	agents, dropped := advisor.ExtractAgents("# AGENT 1\n```\ndef Other():\n    pass\n```\n")
	assert.Empty(t, agents)
	assert.Equal(t, 1, dropped)
}

func TestExtractVariants(t *testing.T) {
	text := "# VARIANT 1\n```json\n{\"learning_rate\": 0.2, \"gamma\": 0.95}\n```\n" +
		"# VARIANT 2\n```json\n{\"training\": {\"episodes\": 500}}\n```\n" +
		"# VARIANT 3\n```json\n{not json}\n```\n"
	patches, dropped := advisor.ExtractVariants(text)
	require.Len(t, patches, 2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, params.Patch{"learning_rate": 0.2, "gamma": 0.95}, patches[0])
	assert.Equal(t, params.Patch{"episodes": 500}, patches[1])
}

func TestParseDecision(t *testing.T) {
	d, err := advisor.ParseDecision("Sure.\n{\"optimize_agent_configs\": true, \"reason\": \"exploration too low\"}\nthanks")
	require.NoError(t, err)
	assert.True(t, d.OptimizeAgentConfigs)
	assert.False(t, d.Stop)
	assert.Equal(t, "exploration too low", d.Reason)

	_, err = advisor.ParseDecision("no json at all")
	assert.ErrorIs(t, err, advisor.ErrNoJSON)

	_, err = advisor.ParseDecision("{broken")
	assert.ErrorIs(t, err, advisor.ErrNoJSON)

	_, err = advisor.ParseDecision("{\"stop\": maybe}")
	require.Error(t, err)
	assert.NotErrorIs(t, err, advisor.ErrNoJSON)
}

func TestParseEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	content := "# comment\n\nexport OPENAI_API_KEY='sk-test'\nOTHER=\"quoted\"\nnoequals\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	vars, err := advisor.ParseEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"OPENAI_API_KEY=sk-test", "OTHER=quoted"}, vars)
}

func TestAPIKeyPrefersEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	require.NoError(t, os.WriteFile(path, []byte("OPENAI_API_KEY=from-file\n"), 0o600))

	t.Setenv(advisor.APIKeyVar, "")
	key, err := advisor.APIKey(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", key)

	t.Setenv(advisor.APIKeyVar, "from-env")
	key, err = advisor.APIKey(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)
}

func TestPromptsMentionFormat(t *testing.T) {
	m := result.Metrics{result.KeyAvgReturn: -3.5, result.KeySuccessRate: 0.2}
	doc := params.Default()

	assert.Contains(t, advisor.DecisionPrompt(m, doc), `"stop": true`)
	assert.Contains(t, advisor.AgentPrompt(m, "def Agent(env, config):\n    pass\n", 3), "# AGENT <i>")

	vp := advisor.VariantPrompt(m, doc, params.FocusAgent, 3)
	assert.Contains(t, vp, "learning_rate")
	assert.NotContains(t, vp, "grid_size (")
}

func TestOpenAIClient(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"{\"stop\": true}"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":120,"completion_tokens":8,"total_tokens":128}}`))
	}))
	defer srv.Close()

	client, err := advisor.NewOpenAI(advisor.OpenAIOptions{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
	})
	require.NoError(t, err)

	var usage []advisor.Usage
	a := &advisor.Advisor{
		Client:   client,
		Provider: "openai",
		Pricing:  pricing.Default(),
		OnUsage:  func(u advisor.Usage) { usage = append(usage, u) },
	}
	d, err := a.Decide(context.Background(), result.Metrics{result.KeyAvgReturn: 1}, params.Default())
	require.NoError(t, err)
	assert.True(t, d.Stop)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)

	require.Len(t, usage, 1)
	assert.Equal(t, advisor.PurposeDecision, usage[0].Purpose)
	assert.Equal(t, 120, usage[0].PromptTokens)
	assert.Equal(t, 8, usage[0].CompletionTokens)
	assert.Greater(t, usage[0].CostUSD, 0.0)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := advisor.NewOpenAI(advisor.OpenAIOptions{Model: "gpt-4o-mini"})
	assert.Error(t, err)
}

func TestFileSourceProposals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.md")
	require.NoError(t, os.WriteFile(path, []byte(twoAgents), 0o644))

	a := &advisor.Advisor{Client: advisor.FileSource{Path: path}}
	agents, err := a.ProposeAgents(context.Background(), result.Metrics{}, "", 3)
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

type failingClient struct{}

func (failingClient) Complete(context.Context, string) (advisor.Completion, error) {
	return advisor.Completion{}, errors.New("boom")
}

func TestAdvisorWrapsClientError(t *testing.T) {
	a := &advisor.Advisor{Client: failingClient{}}
	_, err := a.ProposeVariants(context.Background(), result.Metrics{}, params.Default(), params.FocusAll, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisor variants")
}
