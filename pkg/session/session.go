// Package session holds the per-conversation state aggregate and the named
// reducers that merge step outcomes into it.
//
// A State is created once per user session, owned by exactly one orchestrator
// run, and mutated only through the reducers in this package.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// Step identifies a node of the conversation state machine.
type Step string

// Conversation steps.
const (
	StepNone             Step = ""
	StepProductSelect    Step = "PRODUCT_SELECT"
	StepGather           Step = "GATHER"
	StepRetrieve         Step = "RETRIEVE"
	StepQualityCheck     Step = "QUALITY_CHECK"
	StepPDFFallback      Step = "PDF_FALLBACK"
	StepFormulate        Step = "FORMULATE"
	StepPresentAnswer    Step = "PRESENT_ANSWER"
	StepAskClarification Step = "ASK_CLARIFICATION"
	StepClarifyAssess    Step = "CLARIFY_ASSESS"
	StepFeedback         Step = "FEEDBACK"
	StepEscalate         Step = "ESCALATE"
	StepLog              Step = "LOG"
)

// AllSteps lists every step in flow order.
func AllSteps() []Step {
	return []Step{
		StepProductSelect,
		StepGather,
		StepRetrieve,
		StepQualityCheck,
		StepPDFFallback,
		StepFormulate,
		StepPresentAnswer,
		StepAskClarification,
		StepClarifyAssess,
		StepFeedback,
		StepEscalate,
		StepLog,
	}
}

// String returns the step id.
func (s Step) String() string { return string(s) }

// Role is the speaker of a conversation turn.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role Role
	Text string
}

// Chunk is a single retrieval hit.
type Chunk struct {
	Text      string
	Title     string
	SourceDoc string
	Score     float64
}

// SearchRecord is one executed retrieval within the current answer episode.
type SearchRecord struct {
	Query  string
	Chunks []Chunk
}

// Quality is the tri-state verdict of the quality checker.
type Quality int8

// Quality values.
const (
	QualityUnknown Quality = iota
	QualitySufficient
	QualityInsufficient
)

func (q Quality) String() string {
	switch q {
	case QualityUnknown:
		return "unknown"
	case QualitySufficient:
		return "sufficient"
	case QualityInsufficient:
		return "insufficient"
	default:
		return "invalid"
	}
}

// Feedback is the classified user satisfaction.
type Feedback int8

// Feedback values.
const (
	FeedbackNone Feedback = iota
	FeedbackSatisfied
	FeedbackUnsatisfied
	FeedbackUncertain
)

func (f Feedback) String() string {
	switch f {
	case FeedbackNone:
		return "none"
	case FeedbackSatisfied:
		return "satisfied"
	case FeedbackUnsatisfied:
		return "unsatisfied"
	case FeedbackUncertain:
		return "uncertain"
	default:
		return "invalid"
	}
}

// TerminalKind is the final classification of a session.
type TerminalKind int8

// Terminal kinds.
const (
	TerminalNone TerminalKind = iota
	TerminalSuccess
	TerminalFailure
	TerminalEscalated
)

func (k TerminalKind) String() string {
	switch k {
	case TerminalNone:
		return "none"
	case TerminalSuccess:
		return "success"
	case TerminalFailure:
		return "failure"
	case TerminalEscalated:
		return "escalated"
	default:
		return "invalid"
	}
}

// Terminal records how the session ended. It is set exactly once.
type Terminal struct {
	Reason string
	Kind   TerminalKind
	Set    bool
}

// AnswerSource tells where the context behind an answer came from.
type AnswerSource string

// Answer sources.
const (
	AnswerFromRetrieval AnswerSource = "retrieval"
	AnswerFromPDF       AnswerSource = "pdf_fallback"
)

// FailureKind classifies a failed capability invocation.
type FailureKind string

// Failure kinds.
const (
	FailureTransient FailureKind = "transient"
	FailureMalformed FailureKind = "malformed"
	FailureTimeout   FailureKind = "timeout"
	FailureAbandoned FailureKind = "abandoned"
)

// Failure describes a step whose capability did not produce a usable result.
type Failure struct {
	Step   Step
	Kind   FailureKind
	Reason string
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s: %s", f.Step, f.Kind, f.Reason)
}

// ErrInvariantViolation marks a broken state machine. It is fatal to the session.
var ErrInvariantViolation = errors.New("invariant violation")

// Violation returns an error wrapping ErrInvariantViolation.
func Violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// State is the mutable record threaded through one conversation.
//
//nolint:govet // grouped by concern rather than alignment
type State struct {
	ID      string
	Product string

	Conversation     []Turn
	GatheredDetails  string
	Question         string
	FollowUp         string
	GatherAttempts   int
	GatherSufficient bool

	SearchQuery       string
	RetrievedChunks   []Chunk
	History           []SearchRecord
	RetrievalAttempts int
	Quality           Quality
	InformationGap    string

	PDFFallbackAttempted bool
	PDFFallbackRuns      int
	FallbackText         string
	FallbackSource       string
	FallbackSection      string
	FallbackPages        []int

	Answer       string
	AnswerSource AnswerSource

	ClarificationText       string
	LastClarification       string
	ClarificationRounds     int
	ClarificationActionable bool

	Feedback      Feedback
	FeedbackReply string

	Escalated   bool
	LastFailure *Failure
	Failures    []Failure

	Terminal Terminal
	Trace    []Step
}

// New returns a zero session with the given id.
func New(id string) *State {
	return &State{ID: id}
}

// EffectiveQuestion is the classified question, or the gathered details when
// the gatherer never produced one.
func (s *State) EffectiveQuestion() string {
	if q := strings.TrimSpace(s.Question); q != "" {
		return q
	}
	return strings.TrimSpace(s.GatheredDetails)
}

// PreviousQueries returns the queries executed in the current answer episode.
func (s *State) PreviousQueries() []string {
	queries := make([]string, 0, len(s.History))
	for i := range s.History {
		queries = append(queries, s.History[i].Query)
	}
	return queries
}

// HasExecuted reports whether step appears in the executed-step trace.
func (s *State) HasExecuted(step Step) bool {
	for _, st := range s.Trace {
		if st == step {
			return true
		}
	}
	return false
}

// Status maps the terminal kind to the session log status.
func (s *State) Status() string {
	if !s.Terminal.Set {
		return TerminalFailure.String()
	}
	return s.Terminal.Kind.String()
}

// Counter names a bounded attempt counter.
type Counter string

// Attempt counters.
const (
	CounterGather        Counter = "gather"
	CounterRetrieval     Counter = "retrieval"
	CounterClarification Counter = "clarification"
)

// Count returns the current value of the named counter.
func (s *State) Count(c Counter) int {
	switch c {
	case CounterGather:
		return s.GatherAttempts
	case CounterRetrieval:
		return s.RetrievalAttempts
	case CounterClarification:
		return s.ClarificationRounds
	default:
		return 0
	}
}

// IncrementCounter advances the named counter by one round.
func IncrementCounter(s *State, c Counter) error {
	switch c {
	case CounterGather:
		s.GatherAttempts++
	case CounterRetrieval:
		s.RetrievalAttempts++
	case CounterClarification:
		s.ClarificationRounds++
	default:
		return Violation("unknown counter %q", c)
	}
	return nil
}
