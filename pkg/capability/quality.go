package capability

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/llm"
	"supportflow/pkg/retrieval"
	"supportflow/pkg/session"
	"supportflow/pkg/utils"
)

type qualityReply struct {
	IsSufficient   bool   `json:"is_sufficient"`
	InformationGap string `json:"information_gap"`
	Reasoning      string `json:"reasoning"`
}

// QualityInput is the state slice seen by the quality checker.
type QualityInput struct {
	Product  string
	Question string
	History  []session.SearchRecord
}

// QualityChecker judges whether the searches of the current episode can
// support an answer.
type QualityChecker struct {
	judge  *Structured[qualityReply]
	budget Budget
}

// NewQualityChecker creates a checker whose context is cut to budget.
func NewQualityChecker(client llm.LLMClient, budget Budget) *QualityChecker {
	return &QualityChecker{judge: NewStructured[qualityReply](client, qualityInstructions), budget: budget}
}

// Invoke implements Capability.
func (q *QualityChecker) Invoke(ctx context.Context, in QualityInput) Result[session.QualityOutcome] {
	content := fmt.Sprintf("Product: %s\nQuestion: %s\n\nSearch history:\n%s",
		in.Product, in.Question, q.budget.Fit(retrieval.FormatHistory(in.History)))

	reply, err := q.judge.Ask(ctx, content)
	if err != nil {
		return FailWith[session.QualityOutcome](session.StepQualityCheck, err)
	}
	return OK(session.QualityOutcome{
		Sufficient:     reply.IsSufficient,
		InformationGap: strings.TrimSpace(reply.InformationGap),
		Reasoning:      reply.Reasoning,
	})
}

// Budget cuts prompt context to a token limit. A zero Budget keeps everything.
type Budget struct {
	Counter *utils.TokenCounter
	Tokens  int
}

// NewBudget counts tokens with the encoding of model.
func NewBudget(model string, tokens int) Budget {
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		// Falls back to the 4-characters-per-token estimate.
		return Budget{Tokens: tokens}
	}
	return Budget{Counter: counter, Tokens: tokens}
}

// Fit truncates text to the budget.
func (b Budget) Fit(text string) string {
	if b.Tokens <= 0 {
		return text
	}
	return b.Counter.TruncateToTokens(text, b.Tokens)
}
