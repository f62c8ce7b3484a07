package capability

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/llm"
	"supportflow/pkg/retrieval"
	"supportflow/pkg/session"
)

type answerReply struct {
	Answer      string `json:"answer" validate:"required"`
	Confidence  string `json:"confidence" jsonschema:"enum=high,enum=medium,enum=low" validate:"oneof=high medium low"`
	SourcesUsed string `json:"sources_used"`
}

// FormulateInput is the state slice seen by the formulator.
type FormulateInput struct {
	Product        string
	Question       string
	Details        string
	History        []session.SearchRecord
	FallbackText   string
	FallbackSource string
}

// Formulator writes the user-facing answer from the retrieved context, or
// from the PDF fallback text when retrieval was insufficient.
type Formulator struct {
	client llm.LLMClient
	budget Budget
}

// NewFormulator creates a formulator whose context is cut to budget.
func NewFormulator(client llm.LLMClient, budget Budget) *Formulator {
	return &Formulator{client: client, budget: budget}
}

// Invoke implements Capability.
func (f *Formulator) Invoke(ctx context.Context, in FormulateInput) Result[session.AnswerOutcome] {
	writer := NewStructured[answerReply](f.client, fmt.Sprintf(formulatorInstructions, in.Product),
		WithTemperature(llm.TemperatureAnswer))

	material := retrieval.FormatHistory(in.History)
	if in.FallbackText != "" {
		material = fmt.Sprintf("Extract from %s:\n%s", in.FallbackSource, in.FallbackText)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\nQuestion: %s\n", in.Product, in.Question)
	if d := strings.TrimSpace(in.Details); d != "" && d != in.Question {
		fmt.Fprintf(&b, "Details from the user:\n%s\n", d)
	}
	fmt.Fprintf(&b, "\nRetrieved context:\n%s", f.budget.Fit(material))

	reply, err := writer.Ask(ctx, b.String())
	if err != nil {
		return FailWith[session.AnswerOutcome](session.StepFormulate, err)
	}
	return OK(session.AnswerOutcome{
		Answer:      strings.TrimSpace(reply.Answer),
		Confidence:  reply.Confidence,
		SourcesUsed: reply.SourcesUsed,
	})
}
