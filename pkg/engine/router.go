package engine

import (
	"fmt"
	"sort"
	"strings"

	"supportflow/pkg/session"
)

// Decision is the outcome of a step as seen by the router.
type Decision string

// Decisions. Each step has its own closed subset, listed in StepDecisions.
const (
	DecisionBound         Decision = "bound"
	DecisionUnbound       Decision = "unbound"
	DecisionSufficient    Decision = "sufficient"
	DecisionMoreDetail    Decision = "more_detail"
	DecisionExhausted     Decision = "exhausted"
	DecisionFailed        Decision = "failed"
	DecisionSearched      Decision = "searched"
	DecisionRetry         Decision = "retry"
	DecisionFallback      Decision = "fallback"
	DecisionFallbackSpent Decision = "fallback_spent"
	DecisionUsable        Decision = "usable"
	DecisionUnusable      Decision = "unusable"
	DecisionAnswered      Decision = "answered"
	DecisionAsk           Decision = "ask"
	DecisionSkip          Decision = "skip"
	DecisionProvided      Decision = "provided"
	DecisionEmpty         Decision = "empty"
	DecisionActionable    Decision = "actionable"
	DecisionNotActionable Decision = "not_actionable"
	DecisionDone          Decision = "done"
)

// StepDecisions lists the closed decision set of every step. LOG has none.
//
//nolint:gochecknoglobals // canonical decision sets
var StepDecisions = map[session.Step][]Decision{
	session.StepProductSelect:    {DecisionBound, DecisionUnbound},
	session.StepGather:           {DecisionSufficient, DecisionMoreDetail, DecisionExhausted, DecisionFailed},
	session.StepRetrieve:         {DecisionSearched, DecisionFailed},
	session.StepQualityCheck:     {DecisionSufficient, DecisionRetry, DecisionFallback, DecisionFallbackSpent},
	session.StepPDFFallback:      {DecisionUsable, DecisionUnusable},
	session.StepFormulate:        {DecisionAnswered, DecisionFailed},
	session.StepPresentAnswer:    {DecisionAsk, DecisionSkip},
	session.StepAskClarification: {DecisionProvided, DecisionEmpty},
	session.StepClarifyAssess:    {DecisionActionable, DecisionNotActionable},
	session.StepFeedback:         {DecisionDone},
	session.StepEscalate:         {DecisionDone},
	session.StepLog:              nil,
}

// Table maps (step, decision) to the next step.
type Table map[session.Step]map[Decision]session.Step

// DefaultTable is the support conversation flow.
func DefaultTable() Table {
	return Table{
		session.StepProductSelect: {
			DecisionBound:   session.StepGather,
			DecisionUnbound: session.StepLog,
		},
		session.StepGather: {
			DecisionSufficient: session.StepRetrieve,
			DecisionMoreDetail: session.StepGather,
			DecisionExhausted:  session.StepRetrieve,
			DecisionFailed:     session.StepEscalate,
		},
		session.StepRetrieve: {
			DecisionSearched: session.StepQualityCheck,
			DecisionFailed:   session.StepEscalate,
		},
		session.StepQualityCheck: {
			DecisionSufficient:    session.StepFormulate,
			DecisionRetry:         session.StepRetrieve,
			DecisionFallback:      session.StepPDFFallback,
			DecisionFallbackSpent: session.StepEscalate,
		},
		session.StepPDFFallback: {
			DecisionUsable:   session.StepFormulate,
			DecisionUnusable: session.StepEscalate,
		},
		session.StepFormulate: {
			DecisionAnswered: session.StepPresentAnswer,
			DecisionFailed:   session.StepEscalate,
		},
		session.StepPresentAnswer: {
			DecisionAsk:  session.StepAskClarification,
			DecisionSkip: session.StepFeedback,
		},
		session.StepAskClarification: {
			DecisionProvided: session.StepClarifyAssess,
			DecisionEmpty:    session.StepFeedback,
		},
		session.StepClarifyAssess: {
			DecisionActionable:    session.StepRetrieve,
			DecisionNotActionable: session.StepFeedback,
		},
		session.StepFeedback: {DecisionDone: session.StepLog},
		session.StepEscalate: {DecisionDone: session.StepLog},
	}
}

// Router picks the next step from the session state.
type Router struct {
	table  Table
	policy *RetryPolicy
}

// NewRouter checks table for totality: every step of the flow is covered,
// every decision of a step has a known target, no unknown decision appears,
// and LOG is the only step without transitions.
func NewRouter(table Table, policy *RetryPolicy) (*Router, error) {
	if policy == nil {
		return nil, fmt.Errorf("router needs a retry policy")
	}
	known := make(map[session.Step]bool)
	for _, st := range session.AllSteps() {
		known[st] = true
	}

	var problems []string
	for _, st := range session.AllSteps() {
		decisions := StepDecisions[st]
		row := table[st]
		if st == session.StepLog {
			if len(row) > 0 {
				problems = append(problems, "LOG must be terminal")
			}
			continue
		}
		if len(decisions) == 0 {
			problems = append(problems, fmt.Sprintf("%s has no decisions and is not LOG", st))
			continue
		}
		allowed := make(map[Decision]bool, len(decisions))
		for _, d := range decisions {
			allowed[d] = true
			target, ok := row[d]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("%s/%s has no target", st, d))
			case !known[target]:
				problems = append(problems, fmt.Sprintf("%s/%s targets unknown step %q", st, d, target))
			}
		}
		for d := range row {
			if !allowed[d] {
				problems = append(problems, fmt.Sprintf("%s has unknown decision %q", st, d))
			}
		}
	}
	for st := range table {
		if !known[st] {
			problems = append(problems, fmt.Sprintf("unknown step %q in table", st))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("transition table is not total: %s", strings.Join(problems, "; "))
	}
	return &Router{table: table, policy: policy}, nil
}

// Next returns the step after current. Asking past LOG is a violation.
func (r *Router) Next(current session.Step, s *session.State) (session.Step, Decision, error) {
	if current == session.StepLog {
		return session.StepNone, "", session.Violation("no transition after LOG")
	}
	d, err := r.decide(current, s)
	if err != nil {
		return session.StepNone, "", err
	}
	next, ok := r.table[current][d]
	if !ok {
		return session.StepNone, d, session.Violation("no transition for %s/%s", current, d)
	}
	return next, d, nil
}

// decide is a pure function of the state and the policy limits.
func (r *Router) decide(step session.Step, s *session.State) (Decision, error) {
	failed := s.LastFailure != nil && s.LastFailure.Step == step

	switch step {
	case session.StepProductSelect:
		if s.Product == "" {
			return DecisionUnbound, nil
		}
		return DecisionBound, nil

	case session.StepGather:
		switch {
		case failed:
			return DecisionFailed, nil
		case s.GatherSufficient:
			return DecisionSufficient, nil
		case !r.policy.Attempt(s, session.CounterGather):
			return DecisionExhausted, nil
		default:
			return DecisionMoreDetail, nil
		}

	case session.StepRetrieve:
		if failed {
			return DecisionFailed, nil
		}
		return DecisionSearched, nil

	case session.StepQualityCheck:
		switch {
		case s.Quality == session.QualitySufficient:
			return DecisionSufficient, nil
		case s.Quality != session.QualityInsufficient:
			return "", session.Violation("quality still %s after QUALITY_CHECK", s.Quality)
		case r.policy.Attempt(s, session.CounterRetrieval):
			return DecisionRetry, nil
		case s.PDFFallbackRuns > 0:
			return DecisionFallbackSpent, nil
		default:
			return DecisionFallback, nil
		}

	case session.StepPDFFallback:
		if !failed && s.FallbackText != "" {
			return DecisionUsable, nil
		}
		return DecisionUnusable, nil

	case session.StepFormulate:
		if failed || s.Answer == "" {
			return DecisionFailed, nil
		}
		return DecisionAnswered, nil

	case session.StepPresentAnswer:
		if r.policy.Attempt(s, session.CounterClarification) {
			return DecisionAsk, nil
		}
		return DecisionSkip, nil

	case session.StepAskClarification:
		if s.ClarificationText == "" {
			return DecisionEmpty, nil
		}
		return DecisionProvided, nil

	case session.StepClarifyAssess:
		if s.ClarificationActionable {
			return DecisionActionable, nil
		}
		return DecisionNotActionable, nil

	case session.StepFeedback, session.StepEscalate:
		return DecisionDone, nil

	default:
		return "", session.Violation("unknown step %q", step)
	}
}
