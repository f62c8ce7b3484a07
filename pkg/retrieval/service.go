// Package retrieval provides the vector-search collaborator the conversation
// queries, with Weaviate, pgvector and in-memory backends.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/session"
)

// Service searches the support corpus. An empty result is a valid outcome.
// Implementations must be safe for concurrent use by multiple sessions.
type Service interface {
	Search(ctx context.Context, query, product string, topK int) ([]session.Chunk, error)
}

// Checker is implemented by backends that can report readiness.
type Checker interface {
	Ready(ctx context.Context) error
}

// Ready checks svc when it supports it.
func Ready(ctx context.Context, svc Service) error {
	if c, ok := svc.(Checker); ok {
		if err := c.Ready(ctx); err != nil {
			return fmt.Errorf("retrieval backend not ready: %w", err)
		}
	}
	return nil
}

// FormatContext renders chunks as numbered blocks for a prompt.
func FormatContext(chunks []session.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		parts = append(parts, fmt.Sprintf("[%d] %s\nSource: %s\n\n%s", i+1, c.Title, c.SourceDoc, c.Text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// FormatHistory renders every search of an answer episode.
func FormatHistory(history []session.SearchRecord) string {
	if len(history) == 0 {
		return "(no context available)"
	}
	parts := make([]string, 0, len(history))
	for i := range history {
		body := FormatContext(history[i].Chunks)
		if body == "" {
			body = "(no results)"
		}
		parts = append(parts, fmt.Sprintf("--- Search %d: %q ---\n%s", i+1, history[i].Query, body))
	}
	return strings.Join(parts, "\n\n")
}

// Sources lists the distinct source documents of chunks in order of first appearance.
func Sources(chunks []session.Chunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	var out []string
	for i := range chunks {
		src := chunks[i].SourceDoc
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}
