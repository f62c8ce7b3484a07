package session

import (
	"strings"
)

// DefaultFollowUp is asked when the gatherer wants more detail but did not
// phrase a question itself.
const DefaultFollowUp = "Could you share more details about the issue, such as error messages, model numbers or the steps you already tried?"

// ReduceProductSelection binds the product and seeds the problem description.
func ReduceProductSelection(s *State, out ProductSelection) error {
	if s.Product != "" {
		return Violation("product already bound to %q", s.Product)
	}
	product := strings.TrimSpace(out.Product)
	if product == "" {
		return Violation("product selection returned an empty product")
	}
	s.Product = product

	description := strings.TrimSpace(out.Description)
	if description != "" {
		appendTurn(s, RoleUser, description)
		s.GatheredDetails = description
	}
	return nil
}

// ReduceGatherResult merges one gatherer round.
func ReduceGatherResult(s *State, out GatherOutcome, failure *Failure) {
	s.FollowUp = ""
	s.GatherSufficient = false

	// A reply the user already typed is kept even when the judgement failed.
	if q := strings.TrimSpace(out.AskedFollowUp); q != "" {
		appendTurn(s, RoleAssistant, q)
	}
	if reply := strings.TrimSpace(out.UserReply); reply != "" {
		appendTurn(s, RoleUser, reply)
		s.GatheredDetails = appendDetail(s.GatheredDetails, reply)
	}
	if failure != nil {
		recordFailure(s, *failure)
		return
	}

	if q := strings.TrimSpace(out.ClassifiedQuestion); q != "" {
		s.Question = q
	}

	// Empty details are never enough to search on.
	s.GatherSufficient = out.HasEnoughInfo && strings.TrimSpace(s.GatheredDetails) != ""
	if !s.GatherSufficient {
		s.FollowUp = strings.TrimSpace(out.FollowUpQuestion)
		if s.FollowUp == "" {
			s.FollowUp = DefaultFollowUp
		}
	}
}

// ReduceRetrievalResult replaces the retrieved chunks with a fresh search and
// resets the quality verdict. A failed search leaves the counters untouched.
func ReduceRetrievalResult(s *State, out RetrievalOutcome, failure *Failure) {
	s.Quality = QualityUnknown
	if failure != nil {
		recordFailure(s, *failure)
		return
	}
	s.SearchQuery = out.Query
	s.RetrievedChunks = append([]Chunk(nil), out.Chunks...)
	s.History = append(s.History, SearchRecord{
		Query:  out.Query,
		Chunks: append([]Chunk(nil), out.Chunks...),
	})
}

// ReduceQualityResult stores the verdict of one retrieval+quality cycle. A
// failed check is an insufficient verdict.
func ReduceQualityResult(s *State, out QualityOutcome, failure *Failure) {
	if failure != nil {
		recordFailure(s, *failure)
		s.Quality = QualityInsufficient
		return
	}
	if out.Sufficient {
		s.Quality = QualitySufficient
		s.InformationGap = ""
		return
	}
	s.Quality = QualityInsufficient
	s.InformationGap = strings.TrimSpace(out.InformationGap)
}

// MarkPDFFallbackAttempted runs before the fallback capability is invoked.
func MarkPDFFallbackAttempted(s *State) error {
	if s.PDFFallbackRuns > 0 {
		return Violation("pdf fallback already ran %d time(s)", s.PDFFallbackRuns)
	}
	s.PDFFallbackAttempted = true
	s.PDFFallbackRuns++
	return nil
}

// ReduceFallbackResult stores usable fallback text, or clears it.
func ReduceFallbackResult(s *State, out FallbackOutcome, failure *Failure) {
	s.FallbackText = ""
	s.FallbackSource = ""
	s.FallbackSection = ""
	s.FallbackPages = nil
	if failure != nil {
		recordFailure(s, *failure)
		return
	}
	text := strings.TrimSpace(out.Text)
	if !out.Usable || text == "" {
		return
	}
	s.FallbackText = text
	s.FallbackSource = out.Source
	s.FallbackSection = strings.TrimSpace(out.Section)
	s.FallbackPages = append([]int(nil), out.Pages...)
}

// ReduceFormulateResult sets the answer of the current episode.
func ReduceFormulateResult(s *State, out AnswerOutcome, failure *Failure) error {
	if s.Quality != QualitySufficient && s.FallbackText == "" {
		return Violation("formulate reached with quality %s and no fallback context", s.Quality)
	}
	if failure != nil {
		recordFailure(s, *failure)
		return nil
	}
	answer := strings.TrimSpace(out.Answer)
	if answer == "" {
		recordFailure(s, Failure{Step: StepFormulate, Kind: FailureMalformed, Reason: "empty answer"})
		return nil
	}
	s.Answer = answer
	s.AnswerSource = AnswerFromRetrieval
	if s.Quality != QualitySufficient {
		s.AnswerSource = AnswerFromPDF
	}
	return nil
}

// ReducePresented records the shown answer in the conversation.
func ReducePresented(s *State) {
	appendTurn(s, RoleAssistant, s.Answer)
}

// ReduceClarificationInput stores the optional follow-up text.
func ReduceClarificationInput(s *State, in ClarificationInput) {
	s.ClarificationActionable = false
	s.ClarificationText = strings.TrimSpace(in.Text)
	if s.ClarificationText != "" {
		appendTurn(s, RoleUser, s.ClarificationText)
	}
}

// ReduceClarificationResult consumes the clarification text. An actionable
// clarification opens a fresh retrieval cycle.
func ReduceClarificationResult(s *State, out ClarificationOutcome, failure *Failure) {
	text := s.ClarificationText
	s.ClarificationText = ""
	s.ClarificationActionable = false

	if failure != nil {
		recordFailure(s, *failure)
		return
	}
	if !out.Actionable || text == "" {
		return
	}

	s.ClarificationActionable = true
	s.LastClarification = text
	s.GatheredDetails = appendDetail(s.GatheredDetails, text)
	s.InformationGap = strings.TrimSpace(out.InformationGap)

	s.RetrievalAttempts = 0
	s.PDFFallbackAttempted = false
	s.Quality = QualityUnknown
	s.History = nil
	s.RetrievedChunks = nil
	s.SearchQuery = ""
	s.FallbackText = ""
	s.FallbackSource = ""
	s.FallbackSection = ""
	s.FallbackPages = nil
	s.Answer = ""
	s.AnswerSource = ""
	s.Feedback = FeedbackNone
}

// ReduceFeedbackResult classifies the satisfaction reply. A failed
// classification counts as uncertain.
func ReduceFeedbackResult(s *State, out FeedbackOutcome, failure *Failure) error {
	if s.Escalated {
		return Violation("feedback collected on an escalated session")
	}
	if s.Feedback != FeedbackNone {
		return Violation("feedback already set to %s", s.Feedback)
	}
	s.FeedbackReply = strings.TrimSpace(out.Reply)
	switch {
	case failure != nil:
		recordFailure(s, *failure)
		s.Feedback = FeedbackUncertain
	case out.Uncertain:
		s.Feedback = FeedbackUncertain
	case out.Satisfied:
		s.Feedback = FeedbackSatisfied
	default:
		s.Feedback = FeedbackUnsatisfied
	}
	return nil
}

// ReduceEscalation marks the session escalated and sets the terminal kind.
func ReduceEscalation(s *State, reason string) error {
	s.Escalated = true
	return SetTerminal(s, TerminalEscalated, reason)
}

// ReduceLog settles the terminal kind of a session that was not escalated.
func ReduceLog(s *State) error {
	if s.Terminal.Set {
		return nil
	}
	switch s.Feedback {
	case FeedbackSatisfied, FeedbackUncertain:
		return SetTerminal(s, TerminalSuccess, "user feedback "+s.Feedback.String())
	case FeedbackUnsatisfied:
		return SetTerminal(s, TerminalFailure, "user unsatisfied")
	default:
		return SetTerminal(s, TerminalFailure, "session ended without feedback")
	}
}

// ReduceAbandoned records an abandoned session as a failure unless a terminal
// kind was already settled.
func ReduceAbandoned(s *State, reason string) {
	if s.Terminal.Set {
		return
	}
	s.Terminal = Terminal{Set: true, Kind: TerminalFailure, Reason: reason}
}

// ForceFailure overrides the terminal kind after an invariant violation.
func ForceFailure(s *State, reason string) {
	s.Terminal = Terminal{Set: true, Kind: TerminalFailure, Reason: reason}
}

// SetTerminal sets the terminal kind. Setting it twice is a violation.
func SetTerminal(s *State, kind TerminalKind, reason string) error {
	if s.Terminal.Set {
		return Violation("terminal already %s, refusing %s", s.Terminal.Kind, kind)
	}
	if kind == TerminalNone {
		return Violation("terminal kind none")
	}
	s.Terminal = Terminal{Set: true, Kind: kind, Reason: reason}
	return nil
}

// RecordFailure notes a failed capability invocation.
func RecordFailure(s *State, f Failure) {
	recordFailure(s, f)
}

func recordFailure(s *State, f Failure) {
	s.Failures = append(s.Failures, f)
	last := f
	s.LastFailure = &last
}

func appendTurn(s *State, role Role, text string) {
	s.Conversation = append(s.Conversation, Turn{Role: role, Text: text})
}

func appendDetail(details, text string) string {
	if strings.TrimSpace(details) == "" {
		return text
	}
	return details + "\n" + text
}
