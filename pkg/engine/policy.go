package engine

import (
	"fmt"

	"supportflow/pkg/session"
)

// RetryPolicy bounds the gather, retrieval and clarification loops.
// Exhaustion is a routing decision, not an error.
type RetryPolicy struct {
	limits session.Limits
}

// NewRetryPolicy validates limits. Gather and retrieval need at least one
// round; zero clarification rounds disables clarification.
func NewRetryPolicy(limits session.Limits) (*RetryPolicy, error) {
	if limits.Gather < 1 || limits.Retrieval < 1 || limits.Clarification < 0 {
		return nil, fmt.Errorf("invalid attempt limits gather=%d retrieval=%d clarification=%d",
			limits.Gather, limits.Retrieval, limits.Clarification)
	}
	return &RetryPolicy{limits: limits}, nil
}

// Limits returns the configured caps.
func (p *RetryPolicy) Limits() session.Limits { return p.limits }

// Attempt reports whether another round of the counter's loop may run.
func (p *RetryPolicy) Attempt(s *session.State, c session.Counter) bool {
	return s.Count(c) < p.limits.Max(c)
}

// Increment records one completed round, whatever its outcome. Going past
// the cap is an invariant violation; the router never asks for it.
func (p *RetryPolicy) Increment(s *session.State, c session.Counter) error {
	if !p.Attempt(s, c) {
		return session.Violation("%s counter already at its cap %d", c, p.limits.Max(c))
	}
	return session.IncrementCounter(s, c)
}
