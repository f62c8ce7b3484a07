package capability

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/llm"
	"supportflow/pkg/logx"
	"supportflow/pkg/resilience"
	"supportflow/pkg/retrieval"
	"supportflow/pkg/session"
)

type queryReply struct {
	SearchQuery string `json:"search_query" validate:"required"`
	Reasoning   string `json:"reasoning"`
}

// RetrieveInput is the state slice seen by the retriever.
type RetrieveInput struct {
	Product         string
	Question        string
	AdditionalInfo  string
	InformationGap  string
	PreviousQueries []string
}

// Retriever writes a search query with an LLM and runs it against the
// retrieval service.
type Retriever struct {
	writer  *Structured[queryReply]
	service retrieval.Service
	retry   resilience.Config
	topK    int
	logger  *logx.Logger
}

// NewRetriever creates a retriever. Searches are retried with cfg.
func NewRetriever(client llm.LLMClient, service retrieval.Service, topK int, cfg resilience.Config) *Retriever {
	return &Retriever{
		writer:  NewStructured[queryReply](client, queryWriterInstructions),
		service: service,
		retry:   cfg,
		topK:    topK,
		logger:  logx.NewLogger("retriever"),
	}
}

// Invoke implements Capability. A failed query writer falls back to
// "product question"; only a failed search fails the step.
func (r *Retriever) Invoke(ctx context.Context, in RetrieveInput) Result[session.RetrievalOutcome] {
	query := r.writeQuery(ctx, in)
	if err := ctx.Err(); err != nil {
		return FailWith[session.RetrievalOutcome](session.StepRetrieve, err)
	}

	chunks, err := Call(ctx, func(ctx context.Context) ([]session.Chunk, error) {
		return resilience.Do(ctx, r.retry, nil, func(ctx context.Context) ([]session.Chunk, error) {
			return r.service.Search(ctx, query, in.Product, r.topK)
		})
	})
	if err != nil {
		return FailWith[session.RetrievalOutcome](session.StepRetrieve, err)
	}
	logx.Debug(ctx, "retrieval", "query %q returned %d chunks", query, len(chunks))
	return OK(session.RetrievalOutcome{Query: query, Chunks: chunks})
}

func (r *Retriever) writeQuery(ctx context.Context, in RetrieveInput) string {
	fallback := strings.TrimSpace(in.Product + " " + in.Question)

	reply, err := r.writer.Ask(ctx, renderQueryRequest(in))
	if err != nil {
		r.logger.Warn("query writer failed, searching with the question: %v", err)
		return fallback
	}
	query := strings.TrimSpace(reply.SearchQuery)
	if query == "" {
		r.logger.Warn("query writer returned a blank query, searching with the question")
		return fallback
	}
	for _, prev := range in.PreviousQueries {
		if strings.EqualFold(strings.TrimSpace(prev), query) {
			if gap := strings.TrimSpace(in.InformationGap); gap != "" {
				return query + " " + gap
			}
			break
		}
	}
	return query
}

func renderQueryRequest(in RetrieveInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\nQuestion: %s\n", in.Product, in.Question)
	if in.AdditionalInfo != "" {
		fmt.Fprintf(&b, "User's additional information: %s\n", in.AdditionalInfo)
	}
	if in.InformationGap != "" {
		fmt.Fprintf(&b, "Information gap to address: %s\n", in.InformationGap)
	}
	b.WriteString("Previous search queries:\n")
	if len(in.PreviousQueries) == 0 {
		b.WriteString("(none)\n")
	}
	for i, q := range in.PreviousQueries {
		fmt.Fprintf(&b, "%d. %q\n", i+1, q)
	}
	return b.String()
}
