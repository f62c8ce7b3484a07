package capability

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/products"
	"supportflow/pkg/session"
)

// Texts shown to the user.
const (
	ProductPrompt       = "Enter the product name (or 'general' for a general question)"
	DescriptionPrompt   = "Describe your technical issue"
	ClarificationAsk    = "Do you have any additional information that might help? (press Enter to skip)"
	FeedbackAsk         = "Was this information sufficient? (yes/no)"
	EscalationNotice    = "We were unable to find a sufficient answer to your question. Your request has been escalated to a human support agent."
	maxDescriptionTries = 3
)

// ProductInput is the (empty) input of product selection.
type ProductInput struct{}

// ProductSelector binds the session to an allowlisted product and reads the
// initial problem description.
type ProductSelector struct {
	catalog    *products.Catalog
	channel    UserChannel
	candidates int
}

// NewProductSelector creates the selector. candidates bounds the suggestions.
func NewProductSelector(catalog *products.Catalog, channel UserChannel, candidates int) *ProductSelector {
	if candidates <= 0 {
		candidates = products.DefaultCandidates
	}
	return &ProductSelector{catalog: catalog, channel: channel, candidates: candidates}
}

// Invoke implements Capability.
func (p *ProductSelector) Invoke(ctx context.Context, _ ProductInput) Result[session.ProductSelection] {
	typed, err := p.channel.Ask(ctx, ProductPrompt)
	if err != nil {
		return FailWith[session.ProductSelection](session.StepProductSelect, err)
	}

	product, exact := p.catalog.Lookup(typed)
	if !exact {
		choice, err := p.channel.SelectProduct(ctx, p.catalog.Candidates(typed, p.candidates))
		if err != nil {
			return FailWith[session.ProductSelection](session.StepProductSelect, err)
		}
		product, exact = p.catalog.Lookup(choice)
		if !exact {
			return Fail[session.ProductSelection](session.StepProductSelect, session.FailureMalformed,
				fmt.Sprintf("selected product %q is not allowlisted", choice))
		}
	}
	if err := p.channel.Show(ctx, MessageNotice, "Selected product: "+product); err != nil {
		return FailWith[session.ProductSelection](session.StepProductSelect, err)
	}

	var description string
	for range maxDescriptionTries {
		description, err = p.channel.Ask(ctx, DescriptionPrompt)
		if err != nil {
			return FailWith[session.ProductSelection](session.StepProductSelect, err)
		}
		if strings.TrimSpace(description) != "" {
			break
		}
	}
	return OK(session.ProductSelection{Product: product, Description: description})
}

// PresentInput is what the presenter shows.
type PresentInput struct {
	Answer         string
	Source         session.AnswerSource
	FallbackSource string
	FallbackPages  []int
	FallbackTitle  string
}

// Presenter shows the formulated answer.
type Presenter struct {
	channel UserChannel
}

// NewPresenter creates a presenter.
func NewPresenter(channel UserChannel) *Presenter {
	return &Presenter{channel: channel}
}

// Invoke implements Capability.
func (p *Presenter) Invoke(ctx context.Context, in PresentInput) Result[Ack] {
	text := in.Answer
	if in.Source == session.AnswerFromPDF {
		text = FallbackNotice(in.FallbackSource, in.FallbackTitle, in.FallbackPages) + "\n\n" + text
	}
	if err := p.channel.Show(ctx, MessageAnswer, text); err != nil {
		return FailWith[Ack](session.StepPresentAnswer, err)
	}
	return OK(Ack{})
}

// FallbackNotice introduces an answer built from a single PDF.
func FallbackNotice(source, section string, pages []int) string {
	var b strings.Builder
	b.WriteString("We could not find an exact answer after several searches, but the following document may contain useful information.\n\n")
	fmt.Fprintf(&b, "Source: %s\n", source)
	if section != "" {
		fmt.Fprintf(&b, "Relevant section: %s\n", section)
	}
	if len(pages) > 0 {
		nums := make([]string, len(pages))
		for i, n := range pages {
			nums[i] = fmt.Sprint(n)
		}
		fmt.Fprintf(&b, "Pages: %s", strings.Join(nums, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ClarificationPromptInput is the (empty) input of the clarification prompt.
type ClarificationPromptInput struct{}

// ClarificationPrompt reads optional follow-up text after an answer.
type ClarificationPrompt struct {
	channel UserChannel
}

// NewClarificationPrompt creates the prompt.
func NewClarificationPrompt(channel UserChannel) *ClarificationPrompt {
	return &ClarificationPrompt{channel: channel}
}

// Invoke implements Capability. An empty reply means no clarification.
func (c *ClarificationPrompt) Invoke(ctx context.Context, _ ClarificationPromptInput) Result[session.ClarificationInput] {
	text, err := c.channel.Ask(ctx, ClarificationAsk)
	if err != nil {
		return FailWith[session.ClarificationInput](session.StepAskClarification, err)
	}
	return OK(session.ClarificationInput{Text: strings.TrimSpace(text)})
}

// EscalateInput carries what the escalation notice needs.
type EscalateInput struct {
	Product string
	Reason  string
}

// EscalationNotifier tells the user a human will take over.
type EscalationNotifier struct {
	channel UserChannel
}

// NewEscalationNotifier creates the notifier.
func NewEscalationNotifier(channel UserChannel) *EscalationNotifier {
	return &EscalationNotifier{channel: channel}
}

// Invoke implements Capability.
func (e *EscalationNotifier) Invoke(ctx context.Context, _ EscalateInput) Result[Ack] {
	if err := e.channel.Show(ctx, MessageEscalation, EscalationNotice); err != nil {
		return FailWith[Ack](session.StepEscalate, err)
	}
	return OK(Ack{})
}
