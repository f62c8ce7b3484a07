package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"supportflow/pkg/session"
)

// WeaviateOptions configures the Weaviate backend.
type WeaviateOptions struct {
	Host   string
	Scheme string
	Class  string
	APIKey string
}

// Weaviate searches a class whose objects carry text, title, url and product
// properties, vectorised server-side.
type Weaviate struct {
	client *weaviate.Client
	class  string
}

// NewWeaviate creates the client. It does not contact the server.
func NewWeaviate(opts WeaviateOptions) (*Weaviate, error) {
	if opts.Host == "" {
		return nil, errors.New("weaviate host is required")
	}
	if opts.Class == "" {
		return nil, errors.New("weaviate class is required")
	}
	cfg := weaviate.Config{Host: opts.Host, Scheme: opts.Scheme}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if opts.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: opts.APIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Weaviate{client: client, class: opts.Class}, nil
}

// Search implements Service.
func (w *Weaviate) Search(ctx context.Context, query, product string, topK int) ([]session.Chunk, error) {
	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "title"},
		{Name: "url"},
		{Name: "_additional { certainty }"},
	}

	get := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK)
	if product != "" {
		get = get.WithWhere(filters.Where().
			WithPath([]string{"product"}).
			WithOperator(filters.Equal).
			WithValueText(product))
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate search: %s", strings.Join(msgs, "; "))
	}
	return parseWeaviateObjects(result.Data["Get"], w.class), nil
}

// Ready implements Checker.
func (w *Weaviate) Ready(ctx context.Context) error {
	ok, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ok {
		return errors.New("weaviate is not ready")
	}
	return nil
}

func parseWeaviateObjects(raw any, class string) []session.Chunk {
	get, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	objects, ok := get[class].([]any)
	if !ok {
		return nil
	}
	out := make([]session.Chunk, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		c := session.Chunk{
			Text:      stringProp(m, "text"),
			Title:     stringProp(m, "title"),
			SourceDoc: stringProp(m, "url"),
		}
		if add, ok := m["_additional"].(map[string]any); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				c.Score = certainty
			}
		}
		out = append(out, c)
	}
	return out
}

func stringProp(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
