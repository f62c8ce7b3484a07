package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckInvariants(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *State)
		wantErr bool
	}{
		{"fresh session", func(*State) {}, false},
		{"counters at their caps", func(s *State) {
			s.GatherAttempts, s.RetrievalAttempts, s.ClarificationRounds = 3, 3, 1
		}, false},
		{"retrieval over cap", func(s *State) { s.RetrievalAttempts = 4 }, true},
		{"gather over cap", func(s *State) { s.GatherAttempts = 4 }, true},
		{"second pdf fallback", func(s *State) { s.PDFFallbackRuns = 2 }, true},
		{"escalated without terminal", func(s *State) { s.Escalated = true }, true},
		{"escalated then feedback", func(s *State) {
			s.Escalated = true
			s.Terminal = Terminal{Set: true, Kind: TerminalEscalated}
			s.Trace = []Step{StepEscalate, StepFeedback}
		}, true},
		{"answer from sufficient retrieval", func(s *State) {
			s.Quality = QualitySufficient
			s.Answer = "a"
		}, false},
		{"answer from fallback", func(s *State) {
			s.Quality = QualityInsufficient
			s.FallbackText = "--- Page 1 ---\nx"
			s.Answer = "a"
		}, false},
		{"answer without context", func(s *State) {
			s.Quality = QualityInsufficient
			s.Answer = "a"
		}, true},
		{"feedback without answer", func(s *State) { s.Feedback = FeedbackSatisfied }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("s")
			tt.mutate(s)
			err := CheckInvariants(s, DefaultLimits())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvariantViolation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLimitsMax(t *testing.T) {
	l := Limits{Gather: 5, Retrieval: 2, Clarification: 0}
	assert.Equal(t, 5, l.Max(CounterGather))
	assert.Equal(t, 2, l.Max(CounterRetrieval))
	assert.Equal(t, 0, l.Max(CounterClarification))
	assert.Equal(t, 0, l.Max(Counter("bogus")))
}
