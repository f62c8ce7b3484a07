package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"supportflow/pkg/llm"
	"supportflow/pkg/llm/llmerrors"
	"supportflow/pkg/logx"
)

//nolint:gochecknoglobals // validator and schemas are cached per payload type
var (
	validateOnce sync.Once
	validate     *validator.Validate
	schemaCache  sync.Map // reflect.Type -> reflectedSchema
)

type reflectedSchema struct {
	text     string
	required []string
}

func schemaFor(t reflect.Type) reflectedSchema {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(reflectedSchema) //nolint:forcetypeassert // only reflectedSchema is stored
	}
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	schema := reflector.ReflectFromType(t)
	schema.Version = ""
	schema.ID = ""
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		// Reflection of a plain struct cannot fail to marshal.
		panic(fmt.Sprintf("capability: marshal schema for %s: %v", t, err))
	}
	out := reflectedSchema{text: string(raw), required: schema.Required}
	schemaCache.Store(t, out)
	return out
}

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Structured asks a model for a JSON object of type T. The system prompt
// carries the JSON schema reflected from T; the reply is decoded strictly and
// validated with the struct's validate tags.
type Structured[T any] struct {
	client       llm.LLMClient
	instructions string
	schema       string
	required     []string
	temperature  float32
	maxTokens    int
}

// StructuredOption tunes a Structured caller.
type StructuredOption func(*structuredOptions)

type structuredOptions struct {
	temperature float32
	maxTokens   int
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float32) StructuredOption {
	return func(o *structuredOptions) { o.temperature = t }
}

// WithMaxTokens overrides the output budget.
func WithMaxTokens(n int) StructuredOption {
	return func(o *structuredOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// NewStructured builds a caller for T with the given instructions.
func NewStructured[T any](client llm.LLMClient, instructions string, opts ...StructuredOption) *Structured[T] {
	o := structuredOptions{temperature: llm.TemperatureDefault, maxTokens: llm.DefaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	reflected := schemaFor(reflect.TypeOf(zero))

	return &Structured[T]{
		client:       client,
		instructions: strings.TrimSpace(instructions),
		schema:       reflected.text,
		required:     reflected.required,
		temperature:  o.temperature,
		maxTokens:    o.maxTokens,
	}
}

// Schema returns the JSON schema embedded in the system prompt.
func (s *Structured[T]) Schema() string {
	return s.schema
}

// SystemPrompt is the full system message sent with every call.
func (s *Structured[T]) SystemPrompt() string {
	return s.instructions +
		"\n\nRespond with a single JSON object and nothing else. It must match this JSON schema:\n" +
		s.schema
}

// Ask sends user content and decodes the reply. Malformed replies wrap
// ErrMalformedOutput; transport errors are returned as the client reported them.
func (s *Structured[T]) Ask(ctx context.Context, user string) (T, error) {
	var zero T
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(s.SystemPrompt()),
			llm.NewUserMessage(user),
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		JSONOutput:  true,
	}

	logx.Debug(ctx, "capability", "structured call to %s: %s",
		s.client.GetModelName(), llmerrors.SanitizePrompt(user, 400))

	resp, err := Call(ctx, func(ctx context.Context) (llm.CompletionResponse, error) {
		return s.client.Complete(ctx, req)
	})
	if err != nil {
		return zero, err
	}
	out, err := s.decode(resp.Content)
	if err != nil {
		logx.Debug(ctx, "capability", "rejected reply from %s: %v", s.client.GetModelName(), err)
		return zero, err
	}
	return out, nil
}

func (s *Structured[T]) decode(content string) (T, error) {
	var out T
	raw, ok := ExtractJSONObject(content)
	if !ok {
		return out, fmt.Errorf("%w: no JSON object in reply", ErrMalformedOutput)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	for _, name := range s.required {
		if _, present := fields[name]; !present {
			return out, fmt.Errorf("%w: missing field %q", ErrMalformedOutput, name)
		}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	if err := payloadValidator().Struct(&out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return out, nil
}

// ExtractJSONObject returns the outermost {...} span of a reply, ignoring
// surrounding prose and Markdown code fences.
func ExtractJSONObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}
