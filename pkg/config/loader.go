package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "SUPPORTFLOW_"

// Load builds the configuration from defaults, the optional YAML file at
// path, and the environment. An empty path skips the file; a missing file is
// an error only when the path was given explicitly.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// transformEnvKey maps SUPPORTFLOW_RETRIEVAL__TOP_K to retrieval.top_k.
// Comma-separated values become lists.
func transformEnvKey(key, value string) (string, any) {
	path := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	path = strings.ReplaceAll(path, "__", ".")
	if path == "" {
		return "", nil
	}
	if strings.HasSuffix(path, ".sinks") {
		return path, strings.Split(value, ",")
	}
	return path, value
}

// Validate checks struct tags plus the backend-specific requirements.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Retrieval.Backend {
	case BackendWeaviate:
		if cfg.Retrieval.Weaviate.Host == "" {
			return fmt.Errorf("invalid config: retrieval.weaviate.host is required for the weaviate backend")
		}
	case BackendPGVector:
		if cfg.Retrieval.PGVector.DSN == "" {
			return fmt.Errorf("invalid config: retrieval.pgvector.dsn is required for the pgvector backend")
		}
	case BackendMemory:
		if cfg.Retrieval.Memory.CorpusPath == "" {
			return fmt.Errorf("invalid config: retrieval.memory.corpus_path is required for the memory backend")
		}
	}

	if cfg.Logging.HasSink(SinkCSV) && (cfg.Logging.SupportLogPath == "" || cfg.Logging.TicketsPath == "") {
		return fmt.Errorf("invalid config: the csv sink needs logging.support_log_path and logging.tickets_path")
	}
	if cfg.Logging.HasSink(SinkSQLite) && cfg.Logging.DBPath == "" {
		return fmt.Errorf("invalid config: the sqlite sink needs logging.db_path")
	}

	for _, model := range cfg.Models.All() {
		if _, err := GetModelProvider(model); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// All returns every effective model name, defaults applied.
func (m ModelsConfig) All() []string {
	return []string{
		m.Default,
		m.ModelFor(m.Gatherer),
		m.ModelFor(m.QueryWriter),
		m.ModelFor(m.QualityChecker),
		m.ModelFor(m.TOCAnalyzer),
		m.ModelFor(m.Formulator),
		m.ModelFor(m.ClarificationAssessor),
		m.ModelFor(m.Feedback),
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the built-in configuration to path. An existing file is
// left untouched unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	cfg := Default()
	data, err := Marshal(&cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config is not secret
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
