// Package config loads, validates and writes the supportflow configuration.
//
// Sources are layered in this order, later ones winning:
//
//  1. Built-in defaults (Default()).
//  2. An optional YAML file.
//  3. SUPPORTFLOW_* environment variables, where a double underscore
//     separates nesting levels: SUPPORTFLOW_SESSION__MAX_GATHER_ATTEMPTS=5.
//
// API keys never live in the config file. They are read from the provider's
// conventional environment variable through GetAPIKey.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"supportflow/pkg/llm/middleware/circuit"
	"supportflow/pkg/resilience"
)

// Provider identifiers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables consulted for credentials and hosts.
const (
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvWeaviateAPIKey  = "WEAVIATE_API_KEY"
)

// OllamaModelPrefix marks a model name as served by Ollama, e.g. "ollama/llama3.1".
const OllamaModelPrefix = "ollama/"

// Retrieval backends.
const (
	BackendWeaviate = "weaviate"
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"
)

// Session log sinks.
const (
	SinkCSV    = "csv"
	SinkSQLite = "sqlite"
)

// Default model names.
const (
	ModelDefault = "gpt-5-mini"
	ModelSmall   = "gpt-5-nano"
)

// Config is the complete supportflow configuration.
type Config struct {
	Session   SessionConfig   `koanf:"session" yaml:"session"`
	Models    ModelsConfig    `koanf:"models" yaml:"models"`
	LLM       LLMConfig       `koanf:"llm" yaml:"llm"`
	Retrieval RetrievalConfig `koanf:"retrieval" yaml:"retrieval"`
	PDF       PDFConfig       `koanf:"pdf" yaml:"pdf"`
	Products  ProductsConfig  `koanf:"products" yaml:"products"`
	Logging   LoggingConfig   `koanf:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
}

// SessionConfig bounds the conversation loop.
type SessionConfig struct {
	MaxGatherAttempts      int           `koanf:"max_gather_attempts" yaml:"max_gather_attempts" validate:"min=1,max=20"`
	MaxRetrievalAttempts   int           `koanf:"max_retrieval_attempts" yaml:"max_retrieval_attempts" validate:"min=1,max=20"`
	MaxClarificationRounds int           `koanf:"max_clarification_rounds" yaml:"max_clarification_rounds" validate:"min=0,max=10"`
	StepTimeout            time.Duration `koanf:"step_timeout" yaml:"step_timeout" validate:"gt=0"`
	LogTimeout             time.Duration `koanf:"log_timeout" yaml:"log_timeout" validate:"gt=0"`
	ContextTokenBudget     int           `koanf:"context_token_budget" yaml:"context_token_budget" validate:"min=256"`
}

// ModelsConfig names the model used by each LLM-backed capability. Empty
// entries fall back to Default.
type ModelsConfig struct {
	Default               string `koanf:"default" yaml:"default" validate:"required"`
	Gatherer              string `koanf:"gatherer" yaml:"gatherer"`
	QueryWriter           string `koanf:"query_writer" yaml:"query_writer"`
	QualityChecker        string `koanf:"quality_checker" yaml:"quality_checker"`
	TOCAnalyzer           string `koanf:"toc_analyzer" yaml:"toc_analyzer"`
	Formulator            string `koanf:"formulator" yaml:"formulator"`
	ClarificationAssessor string `koanf:"clarification_assessor" yaml:"clarification_assessor"`
	Feedback              string `koanf:"feedback" yaml:"feedback"`
}

// LLMConfig configures the client middleware chain.
type LLMConfig struct {
	RequestTimeout time.Duration     `koanf:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	MaxTokens      int               `koanf:"max_tokens" yaml:"max_tokens" validate:"min=256"`
	OpenAIBaseURL  string            `koanf:"openai_base_url" yaml:"openai_base_url,omitempty" validate:"omitempty,url"`
	OllamaHost     string            `koanf:"ollama_host" yaml:"ollama_host" validate:"omitempty,url"`
	Retry          resilience.Config `koanf:"retry" yaml:"retry"`
	Circuit        circuit.Config    `koanf:"circuit" yaml:"circuit"`
}

// RetrievalConfig selects and configures the vector search backend.
type RetrievalConfig struct {
	Backend   string         `koanf:"backend" yaml:"backend" validate:"oneof=weaviate pgvector memory"`
	TopK      int            `koanf:"top_k" yaml:"top_k" validate:"min=1,max=50"`
	CacheSize int            `koanf:"cache_size" yaml:"cache_size" validate:"min=0"`
	Weaviate  WeaviateConfig `koanf:"weaviate" yaml:"weaviate"`
	PGVector  PGVectorConfig `koanf:"pgvector" yaml:"pgvector"`
	Memory    MemoryConfig   `koanf:"memory" yaml:"memory"`
}

// WeaviateConfig points at a Weaviate instance.
type WeaviateConfig struct {
	Host   string `koanf:"host" yaml:"host"`
	Scheme string `koanf:"scheme" yaml:"scheme" validate:"oneof=http https"`
	Class  string `koanf:"class" yaml:"class" validate:"required"`
}

// PGVectorConfig points at a Postgres database with the pgvector extension.
type PGVectorConfig struct {
	DSN        string `koanf:"dsn" yaml:"dsn"`
	Table      string `koanf:"table" yaml:"table" validate:"required"`
	EmbedModel string `koanf:"embed_model" yaml:"embed_model" validate:"required"`
}

// MemoryConfig configures the in-process JSONL corpus.
type MemoryConfig struct {
	CorpusPath string `koanf:"corpus_path" yaml:"corpus_path"`
}

// PDFConfig configures the manual fallback.
type PDFConfig struct {
	Dir              string `koanf:"dir" yaml:"dir" validate:"required"`
	TOCPageThreshold int    `koanf:"toc_page_threshold" yaml:"toc_page_threshold" validate:"min=1,max=100"`
}

// ProductsConfig configures the product allowlist.
type ProductsConfig struct {
	CatalogPath string `koanf:"catalog_path" yaml:"catalog_path" validate:"required"`
	Candidates  int    `koanf:"candidates" yaml:"candidates" validate:"min=1,max=50"`
}

// LoggingConfig configures application logs and session sinks.
type LoggingConfig struct {
	Dir            string   `koanf:"dir" yaml:"dir" validate:"required"`
	MaxSizeMB      int      `koanf:"max_size_mb" yaml:"max_size_mb" validate:"min=1"`
	SupportLogPath string   `koanf:"support_log_path" yaml:"support_log_path"`
	TicketsPath    string   `koanf:"tickets_path" yaml:"tickets_path"`
	DBPath         string   `koanf:"db_path" yaml:"db_path"`
	Sinks          []string `koanf:"sinks" yaml:"sinks" validate:"min=1,dive,oneof=csv sqlite"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string `koanf:"textfile_path" yaml:"textfile_path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Session: SessionConfig{
			MaxGatherAttempts:      3,
			MaxRetrievalAttempts:   3,
			MaxClarificationRounds: 1,
			StepTimeout:            60 * time.Second,
			LogTimeout:             10 * time.Second,
			ContextTokenBudget:     6000,
		},
		Models: ModelsConfig{
			Default:     ModelDefault,
			QueryWriter: ModelSmall,
			Feedback:    ModelSmall,
		},
		LLM: LLMConfig{
			RequestTimeout: 90 * time.Second,
			MaxTokens:      4096,
			OllamaHost:     "http://localhost:11434",
			Retry: resilience.Config{
				MaxAttempts:  3,
				InitialDelay: time.Second,
				MaxDelay:     4 * time.Second,
				Jitter:       true,
			},
			Circuit: circuit.DefaultConfig,
		},
		Retrieval: RetrievalConfig{
			Backend:   BackendWeaviate,
			TopK:      3,
			CacheSize: 256,
			Weaviate: WeaviateConfig{
				Host:   "localhost:8080",
				Scheme: "http",
				Class:  "Manual",
			},
			PGVector: PGVectorConfig{
				Table:      "manual_chunks",
				EmbedModel: "nomic-embed-text",
			},
			Memory: MemoryConfig{CorpusPath: "data/corpus.jsonl"},
		},
		PDF: PDFConfig{
			Dir:              "data/pdfs",
			TOCPageThreshold: 10,
		},
		Products: ProductsConfig{
			CatalogPath: "data/product_list.csv",
			Candidates:  10,
		},
		Logging: LoggingConfig{
			Dir:            "logs",
			MaxSizeMB:      10,
			SupportLogPath: "logs/support_log.csv",
			TicketsPath:    "logs/tickets.csv",
			DBPath:         "logs/supportflow.db",
			Sinks:          []string{SinkCSV, SinkSQLite},
		},
	}
}

// ModelFor returns the configured model for a capability, falling back to
// the default model.
func (m ModelsConfig) ModelFor(name string) string {
	if name != "" {
		return name
	}
	return m.Default
}

// HasSink reports whether the named session sink is enabled.
func (l LoggingConfig) HasSink(name string) bool {
	for _, s := range l.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns maps model name prefixes to providers.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{OllamaModelPrefix, ProviderOllama},
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
}

// GetModelProvider returns the API provider for a given model.
func GetModelProvider(modelName string) (string, error) {
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no provider pattern matches", modelName)
}

// GetAPIKey returns the API key for a given provider. For Ollama it returns
// the host URL instead, since local models need no key.
func GetAPIKey(provider string) (string, error) {
	var envVars []string
	switch provider {
	case ProviderAnthropic:
		envVars = []string{EnvAnthropicAPIKey}
	case ProviderOpenAI:
		envVars = []string{EnvOpenAIAPIKey}
	case ProviderGoogle:
		envVars = []string{EnvGoogleAPIKey, EnvGeminiAPIKey}
	case ProviderOllama:
		if host := os.Getenv(EnvOllamaHost); host != "" {
			return host, nil
		}
		return "http://localhost:11434", nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	for _, envVar := range envVars {
		if key := os.Getenv(envVar); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("API key not found: set %s", strings.Join(envVars, " or "))
}
