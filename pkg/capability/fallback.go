package capability

import (
	"context"
	"fmt"
	"strings"

	"supportflow/pkg/llm"
	"supportflow/pkg/logx"
	"supportflow/pkg/pdfdoc"
	"supportflow/pkg/session"
)

// maxFallbackPages caps the pages taken from a table of contents.
const maxFallbackPages = 20

type tocReply struct {
	HasTOC                   bool   `json:"has_toc"`
	RelevantPages            []int  `json:"relevant_pages" validate:"dive,min=1"`
	MostRelevantSectionTitle string `json:"most_relevant_section_title"`
	Reasoning                string `json:"reasoning"`
}

// DocumentOpener opens the PDF behind a source URL.
type DocumentOpener interface {
	Open(url string) (pdfdoc.Pages, error)
}

// FallbackInput is the state slice seen by the PDF fallback.
type FallbackInput struct {
	Product  string
	Question string
	History  []session.SearchRecord
}

// PDFFallback reads the most referenced PDF of the episode. Short documents
// are used whole; long ones go through a table-of-contents analysis.
type PDFFallback struct {
	docs      DocumentOpener
	toc       *Structured[tocReply]
	threshold int
	logger    *logx.Logger
}

// NewPDFFallback creates the fallback. threshold is the page count up to
// which a document is used whole.
func NewPDFFallback(client llm.LLMClient, docs DocumentOpener, threshold int) *PDFFallback {
	if threshold <= 0 {
		threshold = 10
	}
	return &PDFFallback{
		docs:      docs,
		toc:       NewStructured[tocReply](client, tocInstructions),
		threshold: threshold,
		logger:    logx.NewLogger("pdf-fallback"),
	}
}

// Invoke implements Capability. Every path that finds no text returns an
// unusable outcome rather than a failure.
func (p *PDFFallback) Invoke(ctx context.Context, in FallbackInput) Result[session.FallbackOutcome] {
	url, ok := pdfdoc.MostReferenced(in.History)
	if !ok {
		p.logger.Info("no PDF source among %d searches", len(in.History))
		return OK(session.FallbackOutcome{})
	}

	doc, err := p.docs.Open(url)
	if err != nil {
		p.logger.Warn("cannot open %s: %v", url, err)
		return OK(session.FallbackOutcome{Source: url})
	}
	defer func() { _ = doc.Close() }()

	total := doc.PageCount()
	if total <= p.threshold {
		return p.extract(doc, url, "", pdfdoc.Range(total))
	}

	head, err := doc.Text(pdfdoc.Range(p.threshold))
	if err != nil || strings.TrimSpace(head) == "" {
		return OK(session.FallbackOutcome{Source: url})
	}

	content := fmt.Sprintf("Product: %s\nQuestion: %s\n\nText of the first %d pages:\n%s",
		in.Product, in.Question, p.threshold, head)
	reply, err := p.toc.Ask(ctx, content)
	if err != nil {
		if ctx.Err() != nil {
			return FailWith[session.FallbackOutcome](session.StepPDFFallback, err)
		}
		p.logger.Warn("table of contents analysis failed: %v", err)
		return OK(session.FallbackOutcome{Source: url})
	}
	if !reply.HasTOC {
		return OK(session.FallbackOutcome{Source: url})
	}
	pages := pdfdoc.SelectPages(reply.RelevantPages, total, maxFallbackPages)
	if len(pages) == 0 {
		return OK(session.FallbackOutcome{Source: url})
	}
	return p.extract(doc, url, strings.TrimSpace(reply.MostRelevantSectionTitle), pages)
}

func (p *PDFFallback) extract(doc pdfdoc.Pages, url, section string, pages []int) Result[session.FallbackOutcome] {
	text, err := doc.Text(pages)
	if err != nil {
		p.logger.Warn("extract %s: %v", url, err)
		return OK(session.FallbackOutcome{Source: url})
	}
	text = strings.TrimSpace(text)
	return OK(session.FallbackOutcome{
		Source:  url,
		Section: section,
		Text:    text,
		Pages:   pages,
		Usable:  text != "",
	})
}
