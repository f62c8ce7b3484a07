// Package factory builds provider clients wrapped in the middleware chain.
package factory

import (
	"fmt"
	"strings"
	"sync"

	"supportflow/pkg/config"
	"supportflow/pkg/llm"
	"supportflow/pkg/llm/internal/llmimpl/anthropic"
	"supportflow/pkg/llm/internal/llmimpl/google"
	"supportflow/pkg/llm/internal/llmimpl/ollama"
	"supportflow/pkg/llm/internal/llmimpl/openaiofficial"
	"supportflow/pkg/llm/middleware/circuit"
	llmmetrics "supportflow/pkg/llm/middleware/metrics"
	"supportflow/pkg/llm/middleware/retry"
	"supportflow/pkg/llm/middleware/timeout"
	"supportflow/pkg/logx"
	"supportflow/pkg/metrics"
)

// RawClientFunc builds an unwrapped provider client.
type RawClientFunc func(provider, model, credential string, cfg config.LLMConfig) (llm.LLMClient, error)

// LLMClientFactory creates clients by model name. Breakers are shared per
// provider so every capability sees the same upstream health.
type LLMClientFactory struct {
	config          config.LLMConfig
	metricsRecorder metrics.Recorder
	logger          *logx.Logger
	newRaw          RawClientFunc
	apiKey          func(provider string) (string, error)

	mu              sync.Mutex
	circuitBreakers map[string]circuit.Breaker
	clients         map[string]llm.LLMClient
}

// NewLLMClientFactory creates a factory. A nil recorder disables metrics.
func NewLLMClientFactory(cfg config.LLMConfig, recorder metrics.Recorder) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &LLMClientFactory{
		config:          cfg,
		metricsRecorder: recorder,
		logger:          logx.NewLogger("llm"),
		newRaw:          newRawClient,
		apiKey:          config.GetAPIKey,
		circuitBreakers: make(map[string]circuit.Breaker),
		clients:         make(map[string]llm.LLMClient),
	}
}

// CreateClient returns the middleware-wrapped client for model, reusing one
// client per model name.
func (f *LLMClientFactory) CreateClient(modelName string) (llm.LLMClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[modelName]; ok {
		return client, nil
	}

	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}
	credential, err := f.apiKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}
	if provider == config.ProviderOllama && f.config.OllamaHost != "" {
		credential = f.config.OllamaHost
	}

	rawClient, err := f.newRaw(provider, modelName, credential, f.config)
	if err != nil {
		return nil, err
	}

	breaker, ok := f.circuitBreakers[provider]
	if !ok {
		breaker = circuit.New(f.config.Circuit)
		f.circuitBreakers[provider] = breaker
	}

	client := llm.Chain(rawClient,
		llmmetrics.Middleware(f.metricsRecorder, nil, f.logger),
		circuit.Middleware(breaker),
		retry.Middleware(f.config.Retry),
		timeout.Middleware(f.config.RequestTimeout),
	)
	f.clients[modelName] = client
	return client, nil
}

func newRawClient(provider, model, credential string, cfg config.LLMConfig) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(credential, model, cfg.OpenAIBaseURL), nil
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(credential, model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(credential, model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(credential, strings.TrimPrefix(model, config.OllamaModelPrefix)), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
