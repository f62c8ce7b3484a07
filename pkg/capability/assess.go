package capability

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/llm"
	"supportflow/pkg/session"
)

type clarificationReply struct {
	IsActionable   bool   `json:"is_actionable"`
	InformationGap string `json:"information_gap"`
	Reasoning      string `json:"reasoning"`
}

type feedbackReply struct {
	IsSatisfied bool `json:"is_satisfied"`
	IsUncertain bool `json:"is_uncertain"`
}

// AssessInput is the state slice seen by the clarification assessor.
type AssessInput struct {
	Question        string
	Details         string
	Clarification   string
	PreviousQueries []string
}

// ClarificationAssessor decides whether follow-up text deserves a fresh
// retrieval cycle.
type ClarificationAssessor struct {
	judge *Structured[clarificationReply]
}

// NewClarificationAssessor creates the assessor.
func NewClarificationAssessor(client llm.LLMClient) *ClarificationAssessor {
	return &ClarificationAssessor{judge: NewStructured[clarificationReply](client, clarificationInstructions)}
}

// Invoke implements Capability.
func (a *ClarificationAssessor) Invoke(ctx context.Context, in AssessInput) Result[session.ClarificationOutcome] {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nKnown details:\n%s\n\nNew information from the user: %s\n\nQueries already tried:\n",
		in.Question, in.Details, in.Clarification)
	if len(in.PreviousQueries) == 0 {
		b.WriteString("(none)\n")
	}
	for i, q := range in.PreviousQueries {
		fmt.Fprintf(&b, "%d. %q\n", i+1, q)
	}

	reply, err := a.judge.Ask(ctx, b.String())
	if err != nil {
		return FailWith[session.ClarificationOutcome](session.StepClarifyAssess, err)
	}
	return OK(session.ClarificationOutcome{
		Actionable:     reply.IsActionable,
		InformationGap: strings.TrimSpace(reply.InformationGap),
		Reasoning:      reply.Reasoning,
	})
}

// FeedbackInput is the state slice seen by the feedback collector.
type FeedbackInput struct {
	Answer string
}

// FeedbackCollector asks whether the answer helped and classifies the reply.
type FeedbackCollector struct {
	channel UserChannel
	judge   *Structured[feedbackReply]
}

// NewFeedbackCollector creates the collector.
func NewFeedbackCollector(client llm.LLMClient, channel UserChannel) *FeedbackCollector {
	return &FeedbackCollector{channel: channel, judge: NewStructured[feedbackReply](client, feedbackInstructions)}
}

// Invoke implements Capability. When classification fails the typed reply is
// returned with the failure, which the reducer records as uncertain.
func (f *FeedbackCollector) Invoke(ctx context.Context, _ FeedbackInput) Result[session.FeedbackOutcome] {
	reply, err := f.channel.Ask(ctx, FeedbackAsk)
	if err != nil {
		return FailWith[session.FeedbackOutcome](session.StepFeedback, err)
	}
	out := session.FeedbackOutcome{Reply: strings.TrimSpace(reply)}
	if out.Reply == "" {
		out.Uncertain = true
		out.Satisfied = true
		return OK(out)
	}

	verdict, err := f.judge.Ask(ctx, out.Reply)
	if err != nil {
		return Result[session.FeedbackOutcome]{Value: out, Failure: FailureFromError(session.StepFeedback, err)}
	}
	out.Satisfied = verdict.IsSatisfied
	out.Uncertain = verdict.IsUncertain
	return OK(out)
}
