package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportflow/pkg/config"
	"supportflow/pkg/llm"
	"supportflow/pkg/llm/llmerrors"
	"supportflow/pkg/llm/middleware/circuit"
)

type built struct {
	provider, model, credential string
}

func newTestFactory(t *testing.T, complete func() (llm.CompletionResponse, error)) (*LLMClientFactory, *[]built) {
	t.Helper()
	cfg := config.Default().LLM
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Circuit = circuit.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour}
	cfg.OllamaHost = "http://gpu-box:11434"

	var calls []built
	f := NewLLMClientFactory(cfg, nil)
	f.apiKey = func(provider string) (string, error) { return "key-" + provider, nil }
	f.newRaw = func(provider, model, credential string, _ config.LLMConfig) (llm.LLMClient, error) {
		calls = append(calls, built{provider, model, credential})
		return llm.WrapClient(
			func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) { return complete() },
			func() string { return model },
		), nil
	}
	return f, &calls
}

func TestCreateClientCachesPerModel(t *testing.T) {
	f, calls := newTestFactory(t, func() (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "ok"}, nil
	})

	a, err := f.CreateClient("gpt-5-mini")
	require.NoError(t, err)
	b, err := f.CreateClient("gpt-5-mini")
	require.NoError(t, err)
	_, err = f.CreateClient("ollama/llama3.1")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, []built{
		{config.ProviderOpenAI, "gpt-5-mini", "key-openai"},
		{config.ProviderOllama, "ollama/llama3.1", "http://gpu-box:11434"},
	}, *calls)
	assert.Equal(t, "gpt-5-mini", a.GetModelName())
}

func TestCreateClientUnknownModel(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	_, err := f.CreateClient("mystery")
	assert.Error(t, err)
}

func TestCreateClientMissingKey(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	f.apiKey = func(string) (string, error) { return "", errors.New("not set") }
	_, err := f.CreateClient("claude-sonnet-4-5")
	assert.Error(t, err)
}

func TestChainRetriesThenOpensSharedBreaker(t *testing.T) {
	calls := 0
	f, _ := newTestFactory(t, func() (llm.CompletionResponse, error) {
		calls++
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")
	})

	mini, err := f.CreateClient("gpt-5-mini")
	require.NoError(t, err)
	_, err = mini.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 3, calls, "retry middleware sits inside the breaker")

	nano, err := f.CreateClient("gpt-5-nano")
	require.NoError(t, err)
	_, err = nano.Complete(context.Background(), llm.CompletionRequest{})
	assert.ErrorIs(t, err, circuit.ErrOpen, "breaker is shared by provider")
	assert.Equal(t, 3, calls)
}
