package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportflow/pkg/capability"
	"supportflow/pkg/escalation"
	"supportflow/pkg/llm"
	"supportflow/pkg/logx"
	"supportflow/pkg/session"
	"supportflow/pkg/supportlog"
)

func always[In, Out any](r capability.Result[Out]) capability.Func[In, Out] {
	return func(context.Context, In) capability.Result[Out] { return r }
}

// seq replays results in order and flags any call past the script.
func seq[In, Out any](t *testing.T, results ...capability.Result[Out]) capability.Func[In, Out] {
	t.Helper()
	i := 0
	return func(context.Context, In) capability.Result[Out] {
		i++
		if i > len(results) {
			t.Errorf("unscripted call #%d", i)
			return capability.Fail[Out](session.StepNone, session.FailureTransient, "unscripted")
		}
		return results[i-1]
	}
}

// recording wraps c and keeps every input it saw.
func recording[In, Out any](c capability.Capability[In, Out], ins *[]In) capability.Func[In, Out] {
	return func(ctx context.Context, in In) capability.Result[Out] {
		*ins = append(*ins, in)
		return c.Invoke(ctx, in)
	}
}

type fakeSink struct {
	mu      sync.Mutex
	err     error
	records []supportlog.SessionRecord
	tickets []supportlog.Ticket
	ctxDone bool
}

func (f *fakeSink) WriteSessionRecord(ctx context.Context, rec supportlog.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		f.ctxDone = true
	}
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeSink) WriteTicket(_ context.Context, t supportlog.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, t)
	return f.err
}

var chunk = session.Chunk{Text: "Reset the adapter", Title: "Power", SourceDoc: "https://dell.com/manual.pdf", Score: 0.8}

// happyCaps answers every step successfully: sufficient detail, sufficient
// retrieval, no clarification and a satisfied user.
func happyCaps() Capabilities {
	return Capabilities{
		ProductSelect: always[capability.ProductInput](capability.OK(session.ProductSelection{
			Product: "xps-13", Description: "battery not charging",
		})),
		Gather: always[capability.GatherInput](capability.OK(session.GatherOutcome{
			HasEnoughInfo: true, ClassifiedQuestion: "XPS 13 battery not charging",
		})),
		Retrieve: always[capability.RetrieveInput](capability.OK(session.RetrievalOutcome{
			Query: "xps 13 battery not charging", Chunks: []session.Chunk{chunk},
		})),
		QualityCheck: always[capability.QualityInput](capability.OK(session.QualityOutcome{Sufficient: true})),
		PDFFallback:  always[capability.FallbackInput](capability.OK(session.FallbackOutcome{})),
		Formulate: always[capability.FormulateInput](capability.OK(session.AnswerOutcome{
			Answer: "Reseat the adapter.", Confidence: "high",
		})),
		Present:          always[capability.PresentInput](capability.OK(capability.Ack{})),
		AskClarification: always[capability.ClarificationPromptInput](capability.OK(session.ClarificationInput{})),
		ClarifyAssess:    always[capability.AssessInput](capability.OK(session.ClarificationOutcome{})),
		Feedback:         always[capability.FeedbackInput](capability.OK(session.FeedbackOutcome{Reply: "yes", Satisfied: true})),
		Escalate:         always[capability.EscalateInput](capability.OK(capability.Ack{})),
	}
}

func insufficient() capability.Result[session.QualityOutcome] {
	return capability.OK(session.QualityOutcome{InformationGap: "adapter wattage"})
}

func fixedEscalation() *escalation.Handler {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	return escalation.NewHandler(
		escalation.WithClock(func() time.Time { return now }),
		escalation.WithIDs(func() string { return "ticket-1" }),
	)
}

func newOrchestrator(t *testing.T, caps Capabilities, sink supportlog.SessionLogger, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithEscalationHandler(fixedEscalation())}, opts...)
	o, err := New(DefaultConfig(), caps, sink, opts...)
	require.NoError(t, err)
	return o
}

func steps(names ...session.Step) []session.Step { return names }

func TestRunAnsweredFirstTime(t *testing.T) {
	sink := &fakeSink{}
	s, err := newOrchestrator(t, happyCaps(), sink).Run(context.Background(), "s-a")
	require.NoError(t, err)

	assert.Equal(t, steps(
		session.StepProductSelect, session.StepGather, session.StepRetrieve, session.StepQualityCheck,
		session.StepFormulate, session.StepPresentAnswer, session.StepAskClarification,
		session.StepFeedback, session.StepLog,
	), s.Trace)
	assert.Equal(t, 1, s.RetrievalAttempts)
	assert.Equal(t, 1, s.GatherAttempts)
	assert.Equal(t, session.TerminalSuccess, s.Terminal.Kind)
	assert.Equal(t, session.AnswerFromRetrieval, s.AnswerSource)

	require.Len(t, sink.records, 1)
	assert.Equal(t, "success", sink.records[0].Status)
	assert.Equal(t, "XPS 13 battery not charging", sink.records[0].Question)
	assert.Empty(t, sink.tickets)
}

func TestRunRetrievalExhaustedEscalates(t *testing.T) {
	caps := happyCaps()
	caps.QualityCheck = always[capability.QualityInput](insufficient())
	var retrieveIns []capability.RetrieveInput
	caps.Retrieve = recording(caps.Retrieve, &retrieveIns)

	sink := &fakeSink{}
	s, err := newOrchestrator(t, caps, sink).Run(context.Background(), "s-b")
	require.NoError(t, err)

	assert.Equal(t, steps(
		session.StepProductSelect, session.StepGather,
		session.StepRetrieve, session.StepQualityCheck,
		session.StepRetrieve, session.StepQualityCheck,
		session.StepRetrieve, session.StepQualityCheck,
		session.StepPDFFallback, session.StepEscalate, session.StepLog,
	), s.Trace)
	assert.Equal(t, 3, s.RetrievalAttempts)
	assert.True(t, s.Escalated)
	assert.True(t, s.PDFFallbackAttempted)
	assert.Equal(t, session.TerminalEscalated, s.Terminal.Kind)
	assert.Equal(t, session.FeedbackNone, s.Feedback)
	assert.False(t, s.HasExecuted(session.StepFeedback))

	require.Len(t, retrieveIns, 3)
	assert.Empty(t, retrieveIns[0].PreviousQueries)
	assert.Len(t, retrieveIns[2].PreviousQueries, 2)
	assert.Equal(t, "adapter wattage", retrieveIns[1].InformationGap)

	require.Len(t, sink.tickets, 1)
	assert.Equal(t, escalation.ReasonRetrievalExhausted, sink.tickets[0].ReasonCode)
	assert.Equal(t, "escalated", sink.records[0].Status)
}

func TestRunPDFFallbackAnswers(t *testing.T) {
	caps := happyCaps()
	caps.QualityCheck = always[capability.QualityInput](insufficient())
	caps.PDFFallback = always[capability.FallbackInput](capability.OK(session.FallbackOutcome{
		Usable: true, Source: chunk.SourceDoc, Section: "Power", Pages: []int{12, 13}, Text: "--- Page 12 ---\nPower",
	}))
	var formulateIns []capability.FormulateInput
	caps.Formulate = recording(caps.Formulate, &formulateIns)
	var presentIns []capability.PresentInput
	caps.Present = recording(caps.Present, &presentIns)

	s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "s-pdf")
	require.NoError(t, err)

	assert.Equal(t, session.AnswerFromPDF, s.AnswerSource)
	assert.Equal(t, session.TerminalSuccess, s.Terminal.Kind)
	require.Len(t, formulateIns, 1)
	assert.Equal(t, "--- Page 12 ---\nPower", formulateIns[0].FallbackText)
	require.Len(t, presentIns, 1)
	assert.Equal(t, capability.PresentInput{
		Answer: "Reseat the adapter.", Source: session.AnswerFromPDF,
		FallbackSource: chunk.SourceDoc, FallbackPages: []int{12, 13}, FallbackTitle: "Power",
	}, presentIns[0])
}

func TestRunGatherExhaustedForcesRetrieval(t *testing.T) {
	caps := happyCaps()
	caps.Gather = seq[capability.GatherInput](t,
		capability.OK(session.GatherOutcome{FollowUpQuestion: "Which OS?"}),
		capability.OK(session.GatherOutcome{AskedFollowUp: "Which OS?", UserReply: "Windows 11", FollowUpQuestion: "Any error code?"}),
		capability.OK(session.GatherOutcome{AskedFollowUp: "Any error code?", UserReply: "none"}),
	)
	var retrieveIns []capability.RetrieveInput
	caps.Retrieve = recording(caps.Retrieve, &retrieveIns)

	s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "s-c")
	require.NoError(t, err)

	assert.Equal(t, steps(session.StepProductSelect, session.StepGather, session.StepGather, session.StepGather, session.StepRetrieve),
		s.Trace[:5])
	assert.Equal(t, 3, s.GatherAttempts)
	assert.Equal(t, "battery not charging\nWindows 11\nnone", s.GatheredDetails)
	require.NotEmpty(t, retrieveIns)
	assert.Equal(t, s.GatheredDetails, retrieveIns[0].Question)
	assert.Equal(t, []session.Turn{
		{Role: session.RoleUser, Text: "battery not charging"},
		{Role: session.RoleAssistant, Text: "Which OS?"},
		{Role: session.RoleUser, Text: "Windows 11"},
		{Role: session.RoleAssistant, Text: "Any error code?"},
		{Role: session.RoleUser, Text: "none"},
		{Role: session.RoleAssistant, Text: "Reseat the adapter."},
	}, s.Conversation)
}

func TestRunGatherFollowUpIsPassedOn(t *testing.T) {
	caps := happyCaps()
	var gatherIns []capability.GatherInput
	caps.Gather = recording[capability.GatherInput, session.GatherOutcome](seq[capability.GatherInput](t,
		capability.OK(session.GatherOutcome{FollowUpQuestion: "Which OS?"}),
		capability.OK(session.GatherOutcome{AskedFollowUp: "Which OS?", UserReply: "Windows 11", HasEnoughInfo: true}),
	), &gatherIns)

	_, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "s-f")
	require.NoError(t, err)
	require.Len(t, gatherIns, 2)
	assert.Empty(t, gatherIns[0].FollowUp)
	assert.Equal(t, "Which OS?", gatherIns[1].FollowUp)
	assert.Equal(t, "xps-13", gatherIns[1].Product)
}

func TestRunNonActionableClarificationSkipsRetrieval(t *testing.T) {
	caps := happyCaps()
	caps.AskClarification = always[capability.ClarificationPromptInput](capability.OK(session.ClarificationInput{Text: "thanks"}))

	s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "s-d")
	require.NoError(t, err)

	assert.Equal(t, steps(session.StepAskClarification, session.StepClarifyAssess, session.StepFeedback, session.StepLog),
		s.Trace[len(s.Trace)-4:])
	assert.Equal(t, 1, s.RetrievalAttempts)
	assert.Empty(t, s.ClarificationText, "consumed by the assessor")
}

func TestRunRetrieveFailureEscalates(t *testing.T) {
	caps := happyCaps()
	caps.Retrieve = always[capability.RetrieveInput](
		capability.Fail[session.RetrievalOutcome](session.StepRetrieve, session.FailureTransient, "connection refused"))

	sink := &fakeSink{}
	s, err := newOrchestrator(t, caps, sink).Run(context.Background(), "s-e")
	require.NoError(t, err)

	assert.Equal(t, steps(session.StepProductSelect, session.StepGather, session.StepRetrieve, session.StepEscalate, session.StepLog), s.Trace)
	assert.Equal(t, 0, s.RetrievalAttempts)
	assert.Equal(t, session.TerminalEscalated, s.Terminal.Kind)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, session.FailureTransient, s.Failures[0].Kind)
	require.Len(t, sink.tickets, 1)
	assert.Equal(t, escalation.ReasonCapabilityFailure, sink.tickets[0].ReasonCode)
}

func TestRunFailureRouting(t *testing.T) {
	malformed := func(step session.Step) *session.Failure {
		return &session.Failure{Step: step, Kind: session.FailureMalformed, Reason: "bad json"}
	}

	t.Run("gather failure escalates", func(t *testing.T) {
		caps := happyCaps()
		caps.Gather = always[capability.GatherInput](capability.Result[session.GatherOutcome]{Failure: malformed(session.StepGather)})
		s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "g")
		require.NoError(t, err)
		assert.Equal(t, steps(session.StepProductSelect, session.StepGather, session.StepEscalate, session.StepLog), s.Trace)
		assert.Equal(t, 1, s.GatherAttempts, "a failed round still consumes an attempt")
		assert.Equal(t, escalation.ReasonCapabilityFailure, s.Terminal.Reason)
	})

	t.Run("formulate failure escalates", func(t *testing.T) {
		caps := happyCaps()
		caps.Formulate = always[capability.FormulateInput](capability.Result[session.AnswerOutcome]{Failure: malformed(session.StepFormulate)})
		s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "f")
		require.NoError(t, err)
		assert.Equal(t, session.StepEscalate, s.Trace[len(s.Trace)-2])
		assert.Empty(t, s.Answer)
	})

	t.Run("quality failure is insufficient", func(t *testing.T) {
		caps := happyCaps()
		caps.QualityCheck = seq[capability.QualityInput](t,
			capability.Result[session.QualityOutcome]{Failure: malformed(session.StepQualityCheck)},
			capability.OK(session.QualityOutcome{Sufficient: true}),
		)
		s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, 2, s.RetrievalAttempts)
		assert.Equal(t, session.TerminalSuccess, s.Terminal.Kind)
	})

	t.Run("clarification failure is not actionable", func(t *testing.T) {
		caps := happyCaps()
		caps.AskClarification = always[capability.ClarificationPromptInput](capability.OK(session.ClarificationInput{Text: "it is USB-C"}))
		caps.ClarifyAssess = always[capability.AssessInput](capability.Result[session.ClarificationOutcome]{Failure: malformed(session.StepClarifyAssess)})
		s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "c")
		require.NoError(t, err)
		assert.Equal(t, session.StepFeedback, s.Trace[len(s.Trace)-2])
	})

	t.Run("feedback failure is uncertain", func(t *testing.T) {
		caps := happyCaps()
		caps.Feedback = always[capability.FeedbackInput](capability.Result[session.FeedbackOutcome]{
			Value: session.FeedbackOutcome{Reply: "hmm"}, Failure: malformed(session.StepFeedback),
		})
		sink := &fakeSink{}
		s, err := newOrchestrator(t, caps, sink).Run(context.Background(), "fb")
		require.NoError(t, err)
		assert.Equal(t, session.FeedbackUncertain, s.Feedback)
		assert.Equal(t, session.TerminalSuccess, s.Terminal.Kind)
		assert.Empty(t, sink.tickets)
	})

	t.Run("product not allowlisted ends the session", func(t *testing.T) {
		caps := happyCaps()
		caps.ProductSelect = always[capability.ProductInput](capability.Fail[session.ProductSelection](
			session.StepProductSelect, session.FailureMalformed, "not allowlisted"))
		s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "p")
		require.NoError(t, err)
		assert.Equal(t, steps(session.StepProductSelect, session.StepLog), s.Trace)
		assert.Equal(t, session.TerminalFailure, s.Terminal.Kind)
	})
}

func TestRunUnsatisfiedUserGetsTicket(t *testing.T) {
	caps := happyCaps()
	caps.Feedback = always[capability.FeedbackInput](capability.OK(session.FeedbackOutcome{Reply: "no"}))
	sink := &fakeSink{}

	s, err := newOrchestrator(t, caps, sink).Run(context.Background(), "s-u")
	require.NoError(t, err)
	assert.Equal(t, session.TerminalFailure, s.Terminal.Kind)
	require.Len(t, sink.tickets, 1)
	assert.Equal(t, escalation.ReasonUserUnsatisfied, sink.tickets[0].ReasonCode)
	assert.Equal(t, "Reseat the adapter.", sink.tickets[0].LastAnswer)
}

func TestRunActionableClarificationRestartsRetrieval(t *testing.T) {
	caps := happyCaps()
	caps.AskClarification = always[capability.ClarificationPromptInput](capability.OK(session.ClarificationInput{Text: "it is a USB-C charger"}))
	caps.ClarifyAssess = always[capability.AssessInput](capability.OK(session.ClarificationOutcome{
		Actionable: true, InformationGap: "USB-C power delivery",
	}))
	caps.QualityCheck = seq[capability.QualityInput](t,
		insufficient(),
		capability.OK(session.QualityOutcome{Sufficient: true}),
		capability.OK(session.QualityOutcome{Sufficient: true}),
	)
	var retrieveIns []capability.RetrieveInput
	caps.Retrieve = recording(caps.Retrieve, &retrieveIns)

	s, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "s-r")
	require.NoError(t, err)

	assert.Equal(t, steps(
		session.StepProductSelect, session.StepGather,
		session.StepRetrieve, session.StepQualityCheck, session.StepRetrieve, session.StepQualityCheck,
		session.StepFormulate, session.StepPresentAnswer, session.StepAskClarification, session.StepClarifyAssess,
		session.StepRetrieve, session.StepQualityCheck, session.StepFormulate, session.StepPresentAnswer,
		session.StepFeedback, session.StepLog,
	), s.Trace)
	assert.Equal(t, 1, s.RetrievalAttempts, "reset by the clarification, then one cycle")
	assert.Equal(t, 1, s.ClarificationRounds)
	assert.Contains(t, s.GatheredDetails, "it is a USB-C charger")

	require.Len(t, retrieveIns, 3)
	assert.Equal(t, "it is a USB-C charger", retrieveIns[2].AdditionalInfo)
	assert.Equal(t, "USB-C power delivery", retrieveIns[2].InformationGap)
	assert.Empty(t, retrieveIns[2].PreviousQueries, "history is per answer episode")
}

func TestRunPDFFallbackRunsOnce(t *testing.T) {
	caps := happyCaps()
	caps.QualityCheck = always[capability.QualityInput](insufficient())
	fallbacks := 0
	caps.PDFFallback = capability.Func[capability.FallbackInput, session.FallbackOutcome](
		func(context.Context, capability.FallbackInput) capability.Result[session.FallbackOutcome] {
			fallbacks++
			return capability.OK(session.FallbackOutcome{Usable: true, Source: chunk.SourceDoc, Text: "manual text"})
		})
	caps.AskClarification = always[capability.ClarificationPromptInput](capability.OK(session.ClarificationInput{Text: "model 9315"}))
	caps.ClarifyAssess = always[capability.AssessInput](capability.OK(session.ClarificationOutcome{Actionable: true}))

	sink := &fakeSink{}
	s, err := newOrchestrator(t, caps, sink).Run(context.Background(), "s-once")
	require.NoError(t, err)

	assert.Equal(t, 1, fallbacks)
	assert.Equal(t, 1, s.PDFFallbackRuns)
	assert.False(t, s.PDFFallbackAttempted, "reset by the clarification")
	assert.Equal(t, session.TerminalEscalated, s.Terminal.Kind)
	assert.Equal(t, steps(session.StepQualityCheck, session.StepEscalate, session.StepLog), s.Trace[len(s.Trace)-3:])
	require.Len(t, sink.tickets, 1)
	assert.Equal(t, escalation.ReasonRetrievalExhausted, sink.tickets[0].ReasonCode)
}

func TestRunClarificationDisabled(t *testing.T) {
	caps := happyCaps()
	cfg := DefaultConfig()
	cfg.Limits.Clarification = 0
	o, err := New(cfg, caps, &fakeSink{})
	require.NoError(t, err)

	s, err := o.Run(context.Background(), "s-nc")
	require.NoError(t, err)
	assert.False(t, s.HasExecuted(session.StepAskClarification))
}

func TestRunAbandoned(t *testing.T) {
	t.Run("user leaves during gather", func(t *testing.T) {
		caps := happyCaps()
		caps.Gather = always[capability.GatherInput](capability.Fail[session.GatherOutcome](
			session.StepGather, session.FailureAbandoned, "EOF"))
		sink := &fakeSink{}

		s, err := newOrchestrator(t, caps, sink).Run(context.Background(), "s-x")
		require.ErrorIs(t, err, ErrSessionAbandoned)
		assert.Equal(t, steps(session.StepProductSelect, session.StepGather, session.StepLog), s.Trace)
		assert.Equal(t, session.TerminalFailure, s.Terminal.Kind)
		assert.Equal(t, escalation.ReasonSessionAbandoned, s.Terminal.Reason)
		require.Len(t, sink.records, 1)
		assert.Equal(t, "failure", sink.records[0].Status)
		assert.Empty(t, sink.tickets)
	})

	t.Run("caller cancels mid-session", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		caps := happyCaps()
		caps.QualityCheck = capability.Func[capability.QualityInput, session.QualityOutcome](
			func(ctx context.Context, _ capability.QualityInput) capability.Result[session.QualityOutcome] {
				cancel()
				<-ctx.Done()
				return capability.FailWith[session.QualityOutcome](session.StepQualityCheck, ctx.Err())
			})
		sink := &fakeSink{}

		s, err := newOrchestrator(t, caps, sink).Run(ctx, "s-y")
		require.ErrorIs(t, err, ErrSessionAbandoned)
		assert.Equal(t, session.TerminalFailure, s.Terminal.Kind)
		assert.Equal(t, 0, s.RetrievalAttempts)
		require.Len(t, sink.records, 1)
		assert.False(t, sink.ctxDone, "the log is written with a live context")
	})

	t.Run("already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sink := &fakeSink{}

		s, err := newOrchestrator(t, happyCaps(), sink).Run(ctx, "s-z")
		require.ErrorIs(t, err, ErrSessionAbandoned)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, steps(session.StepLog), s.Trace)
		assert.Len(t, sink.records, 1)
	})

	t.Run("user leaves during the escalation notice", func(t *testing.T) {
		caps := happyCaps()
		caps.Retrieve = always[capability.RetrieveInput](capability.Fail[session.RetrievalOutcome](
			session.StepRetrieve, session.FailureTransient, "503"))
		caps.Escalate = always[capability.EscalateInput](capability.Fail[capability.Ack](
			session.StepEscalate, session.FailureAbandoned, "EOF"))
		sink := &fakeSink{}

		s, err := newOrchestrator(t, caps, sink).Run(context.Background(), "s-w")
		require.ErrorIs(t, err, ErrSessionAbandoned)
		assert.Equal(t, session.TerminalEscalated, s.Terminal.Kind, "escalation already settled")
		assert.Len(t, sink.tickets, 1)
	})
}

func TestRunStepTimeout(t *testing.T) {
	caps := happyCaps()
	caps.Retrieve = capability.Func[capability.RetrieveInput, session.RetrievalOutcome](
		func(ctx context.Context, _ capability.RetrieveInput) capability.Result[session.RetrievalOutcome] {
			_, err := capability.Call(ctx, func(ctx context.Context) ([]session.Chunk, error) {
				<-ctx.Done()
				return nil, fmt.Errorf("search: %w", ctx.Err())
			})
			return capability.FailWith[session.RetrievalOutcome](session.StepRetrieve, err)
		})
	cfg := DefaultConfig()
	cfg.StepTimeout = 20 * time.Millisecond
	o, err := New(cfg, caps, &fakeSink{})
	require.NoError(t, err)

	s, err := o.Run(context.Background(), "s-t")
	require.NoError(t, err)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, session.FailureTimeout, s.Failures[0].Kind)
	assert.Equal(t, session.TerminalEscalated, s.Terminal.Kind)
}

type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
}

func (l *scriptedLLM) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.replies) == 0 {
		return llm.CompletionResponse{}, errors.New("no reply scripted")
	}
	reply := l.replies[0]
	l.replies = l.replies[1:]
	return llm.CompletionResponse{Content: reply}, nil
}

func (l *scriptedLLM) GetModelName() string { return "scripted" }

// slowUser answers every question after delay.
type slowUser struct {
	delay       time.Duration
	reply       string
	hadDeadline bool
}

func (u *slowUser) SelectProduct(context.Context, []string) (string, error) { return "", nil }

func (u *slowUser) Ask(ctx context.Context, _ string) (string, error) {
	if _, ok := ctx.Deadline(); ok {
		u.hadDeadline = true
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(u.delay):
		return u.reply, nil
	}
}

func (u *slowUser) Show(context.Context, capability.MessageKind, string) error { return nil }

func TestRunSlowUserIsNotTimedOut(t *testing.T) {
	judge := &scriptedLLM{replies: []string{
		`{"has_enough_info":false,"follow_up_question":"Which adapter wattage?","reasoning":"","classified_question":""}`,
		`{"has_enough_info":true,"follow_up_question":"","reasoning":"","classified_question":"XPS 13 not charging on 45W"}`,
	}}
	user := &slowUser{delay: 80 * time.Millisecond, reply: "the 45W one"}
	caps := happyCaps()
	caps.Gather = capability.NewGatherer(judge, user)

	cfg := DefaultConfig()
	cfg.StepTimeout = 20 * time.Millisecond
	o, err := New(cfg, caps, &fakeSink{}, WithEscalationHandler(fixedEscalation()))
	require.NoError(t, err)

	s, err := o.Run(context.Background(), "s-slow")
	require.NoError(t, err)

	assert.False(t, user.hadDeadline, "user waits carry no deadline")
	assert.Empty(t, s.Failures)
	assert.Equal(t, steps(session.StepProductSelect, session.StepGather, session.StepGather, session.StepRetrieve),
		s.Trace[:4])
	assert.Equal(t, 2, s.GatherAttempts)
	assert.Contains(t, s.GatheredDetails, "the 45W one")
	assert.Equal(t, session.TerminalSuccess, s.Terminal.Kind)
}

func TestRunLogsCapabilityFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, logx.InitializeLogFile(dir, 1, false))
	t.Cleanup(func() { _ = logx.CloseLogFile() })

	caps := happyCaps()
	caps.Retrieve = always[capability.RetrieveInput](
		capability.Fail[session.RetrievalOutcome](session.StepRetrieve, session.FailureTransient, "weaviate unreachable"))
	_, err := newOrchestrator(t, caps, &fakeSink{}).Run(context.Background(), "s-warn")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, logx.LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "WARN: session s-warn: RETRIEVE failed (transient): weaviate unreachable")
}

func TestRunInvariantViolation(t *testing.T) {
	table := DefaultTable()
	table[session.StepRetrieve][DecisionSearched] = session.StepFormulate
	sink := &fakeSink{}

	s, err := newOrchestrator(t, happyCaps(), sink, WithTable(table)).Run(context.Background(), "s-bug")

	require.ErrorIs(t, err, ErrInvariantViolation)
	var inv *InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, session.StepFormulate, inv.Step)
	assert.Equal(t, session.TerminalFailure, s.Terminal.Kind)
	assert.Equal(t, session.StepLog, s.Trace[len(s.Trace)-1])
	require.Len(t, sink.records, 1)
	assert.Equal(t, "failure", sink.records[0].Status)
}

func TestRunLogFailure(t *testing.T) {
	boom := errors.New("disk full")
	s, err := newOrchestrator(t, happyCaps(), &fakeSink{err: boom}).Run(context.Background(), "s-l")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, session.TerminalSuccess, s.Terminal.Kind)
}

// scripted builds fresh capabilities replaying the same outcomes, covering
// a gather loop, a retrieval retry, a PDF answer and a clarification restart.
func scripted(t *testing.T) Capabilities {
	caps := happyCaps()
	caps.Gather = seq[capability.GatherInput](t,
		capability.OK(session.GatherOutcome{FollowUpQuestion: "Which adapter?"}),
		capability.OK(session.GatherOutcome{AskedFollowUp: "Which adapter?", UserReply: "65W", HasEnoughInfo: true, ClassifiedQuestion: "XPS 13 not charging on 65W"}),
	)
	caps.QualityCheck = seq[capability.QualityInput](t,
		insufficient(), insufficient(), insufficient(),
		capability.OK(session.QualityOutcome{Sufficient: true}),
	)
	caps.PDFFallback = always[capability.FallbackInput](capability.OK(session.FallbackOutcome{
		Usable: true, Source: chunk.SourceDoc, Pages: []int{3}, Text: "--- Page 3 ---\nPower",
	}))
	caps.AskClarification = always[capability.ClarificationPromptInput](capability.OK(session.ClarificationInput{Text: "LED blinks amber"}))
	caps.ClarifyAssess = always[capability.AssessInput](capability.OK(session.ClarificationOutcome{Actionable: true}))
	return caps
}

func TestRunReplayIsIdempotent(t *testing.T) {
	first, err := newOrchestrator(t, scripted(t), &fakeSink{}).Run(context.Background(), "replay")
	require.NoError(t, err)
	second, err := newOrchestrator(t, scripted(t), &fakeSink{}).Run(context.Background(), "replay")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, first.PDFFallbackRuns)
	assert.Equal(t, session.TerminalSuccess, first.Terminal.Kind)
}

func TestRunConcurrentSessions(t *testing.T) {
	o := newOrchestrator(t, happyCaps(), &fakeSink{})

	var wg sync.WaitGroup
	results := make([]*session.State, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := o.Run(context.Background(), fmt.Sprintf("s-%d", i))
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for i, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, fmt.Sprintf("s-%d", i), s.ID)
		assert.Equal(t, session.TerminalSuccess, s.Terminal.Kind)
	}
}

func TestNewValidatesInputs(t *testing.T) {
	caps := happyCaps()
	caps.Feedback = nil
	_, err := New(DefaultConfig(), caps, &fakeSink{})
	assert.ErrorContains(t, err, "Feedback")

	_, err = New(DefaultConfig(), happyCaps(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.StepTimeout = 0
	_, err = New(cfg, happyCaps(), &fakeSink{})
	assert.Error(t, err)

	table := DefaultTable()
	delete(table[session.StepGather], DecisionExhausted)
	_, err = New(DefaultConfig(), happyCaps(), &fakeSink{}, WithTable(table))
	assert.ErrorContains(t, err, "GATHER/exhausted has no target")
}
