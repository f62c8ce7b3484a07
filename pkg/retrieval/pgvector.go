package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ollama/ollama/api"
	"github.com/pgvector/pgvector-go"

	"supportflow/pkg/session"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OllamaEmbedder embeds through an Ollama server.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

// NewOllamaEmbedder creates an embedder for model served at host.
func NewOllamaEmbedder(host, model string) (*OllamaEmbedder, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	return &OllamaEmbedder{client: api.NewClient(base, http.DefaultClient), model: model}, nil
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("ollama embed: empty embedding")
	}
	return resp.Embeddings[0], nil
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVector ranks chunks stored in Postgres by cosine similarity. The table
// has columns text, title, url, product and embedding vector(n).
type PGVector struct {
	pool     *pgxpool.Pool
	embedder Embedder
	query    string
}

// NewPGVector connects to dsn and prepares the search statement for table.
func NewPGVector(ctx context.Context, dsn, table string, embedder Embedder) (*PGVector, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}
	return &PGVector{
		pool:     pool,
		embedder: embedder,
		query: fmt.Sprintf(`SELECT text, title, url, 1 - (embedding <=> $1::vector) AS score
FROM %s
WHERE ($2 = '' OR product = $2)
ORDER BY embedding <=> $1::vector
LIMIT $3`, table),
	}, nil
}

// Search implements Service.
func (p *PGVector) Search(ctx context.Context, query, product string, topK int) ([]session.Chunk, error) {
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, p.query, pgvector.NewVector(vec), product, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Chunk, error) {
		var c session.Chunk
		err := row.Scan(&c.Text, &c.Title, &c.SourceDoc, &c.Score)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector scan: %w", err)
	}
	return chunks, nil
}

// Ready implements Checker.
func (p *PGVector) Ready(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *PGVector) Close() {
	p.pool.Close()
}
