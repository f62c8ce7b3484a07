package session

// Limits caps the bounded loops of a session.
type Limits struct {
	Gather        int
	Retrieval     int
	Clarification int
}

// DefaultLimits are three gather rounds, three retrieval cycles and one
// clarification round.
func DefaultLimits() Limits {
	return Limits{Gather: 3, Retrieval: 3, Clarification: 1}
}

// Max returns the cap of counter c.
func (l Limits) Max(c Counter) int {
	switch c {
	case CounterGather:
		return l.Gather
	case CounterRetrieval:
		return l.Retrieval
	case CounterClarification:
		return l.Clarification
	default:
		return 0
	}
}

// CheckInvariants validates s after a step. Any error wraps
// ErrInvariantViolation.
func CheckInvariants(s *State, l Limits) error {
	for _, c := range []Counter{CounterGather, CounterRetrieval, CounterClarification} {
		if n := s.Count(c); n < 0 || n > l.Max(c) {
			return Violation("%s counter %d outside 0..%d", c, n, l.Max(c))
		}
	}
	if s.PDFFallbackRuns > 1 {
		return Violation("pdf fallback ran %d times", s.PDFFallbackRuns)
	}
	if s.Escalated {
		if s.Terminal.Kind != TerminalEscalated {
			return Violation("escalated session has terminal %s", s.Terminal.Kind)
		}
		if s.HasExecuted(StepFeedback) {
			return Violation("feedback collected on an escalated session")
		}
	}
	if s.Answer != "" && s.Quality != QualitySufficient && s.FallbackText == "" {
		return Violation("answer present without sufficient context")
	}
	if s.Feedback != FeedbackNone && s.Answer == "" {
		return Violation("feedback %s recorded without an answer", s.Feedback)
	}
	return nil
}
