package capability

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/llm"
	"supportflow/pkg/session"
)

type gatherReply struct {
	HasEnoughInfo      bool   `json:"has_enough_info"`
	FollowUpQuestion   string `json:"follow_up_question"`
	Reasoning          string `json:"reasoning"`
	ClassifiedQuestion string `json:"classified_question"`
}

// GatherInput is the state slice seen by the gatherer.
type GatherInput struct {
	Product      string
	Conversation []session.Turn
	// FollowUp is the question left by the previous round, asked before judging.
	FollowUp string
}

// Gatherer asks the pending follow-up question, then judges whether the
// conversation holds enough detail to search.
type Gatherer struct {
	channel UserChannel
	client  llm.LLMClient
}

// NewGatherer creates a gatherer.
func NewGatherer(client llm.LLMClient, channel UserChannel) *Gatherer {
	return &Gatherer{channel: channel, client: client}
}

// Invoke implements Capability. A reply typed before a failed judgement is
// returned alongside the failure.
func (g *Gatherer) Invoke(ctx context.Context, in GatherInput) Result[session.GatherOutcome] {
	var out session.GatherOutcome
	transcript := append([]session.Turn(nil), in.Conversation...)

	if q := strings.TrimSpace(in.FollowUp); q != "" {
		reply, err := g.channel.Ask(ctx, q)
		if err != nil {
			return FailWith[session.GatherOutcome](session.StepGather, err)
		}
		out.AskedFollowUp = q
		out.UserReply = strings.TrimSpace(reply)
		transcript = append(transcript,
			session.Turn{Role: session.RoleAssistant, Text: q},
			session.Turn{Role: session.RoleUser, Text: out.UserReply})
	}

	judge := NewStructured[gatherReply](g.client, fmt.Sprintf(gathererInstructions, in.Product))
	reply, err := judge.Ask(ctx, renderTranscript(in.Product, transcript))
	if err != nil {
		return Result[session.GatherOutcome]{Value: out, Failure: FailureFromError(session.StepGather, err)}
	}

	out.HasEnoughInfo = reply.HasEnoughInfo
	out.FollowUpQuestion = strings.TrimSpace(reply.FollowUpQuestion)
	out.ClassifiedQuestion = strings.TrimSpace(reply.ClassifiedQuestion)
	out.Reasoning = reply.Reasoning
	return OK(out)
}

func renderTranscript(product string, turns []session.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n\nConversation so far:\n", product)
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return b.String()
}
