// Package engine drives a support session through its steps: it invokes the
// capability of the current step, reduces the result into the session state,
// checks the state invariants and asks the router for the next step, until
// LOG has run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"supportflow/pkg/capability"
	"supportflow/pkg/escalation"
	"supportflow/pkg/logx"
	"supportflow/pkg/metrics"
	"supportflow/pkg/session"
	"supportflow/pkg/supportlog"
)

// TracerName names the tracer used for step spans.
const TracerName = "supportflow/engine"

// Capabilities holds one capability per step that has one. LOG is handled by
// the engine itself.
type Capabilities struct {
	ProductSelect    capability.Capability[capability.ProductInput, session.ProductSelection]
	Gather           capability.Capability[capability.GatherInput, session.GatherOutcome]
	Retrieve         capability.Capability[capability.RetrieveInput, session.RetrievalOutcome]
	QualityCheck     capability.Capability[capability.QualityInput, session.QualityOutcome]
	PDFFallback      capability.Capability[capability.FallbackInput, session.FallbackOutcome]
	Formulate        capability.Capability[capability.FormulateInput, session.AnswerOutcome]
	Present          capability.Capability[capability.PresentInput, capability.Ack]
	AskClarification capability.Capability[capability.ClarificationPromptInput, session.ClarificationInput]
	ClarifyAssess    capability.Capability[capability.AssessInput, session.ClarificationOutcome]
	Feedback         capability.Capability[capability.FeedbackInput, session.FeedbackOutcome]
	Escalate         capability.Capability[capability.EscalateInput, capability.Ack]
}

func (c Capabilities) validate() error {
	missing := map[string]bool{
		"ProductSelect":    c.ProductSelect == nil,
		"Gather":           c.Gather == nil,
		"Retrieve":         c.Retrieve == nil,
		"QualityCheck":     c.QualityCheck == nil,
		"PDFFallback":      c.PDFFallback == nil,
		"Formulate":        c.Formulate == nil,
		"Present":          c.Present == nil,
		"AskClarification": c.AskClarification == nil,
		"ClarifyAssess":    c.ClarifyAssess == nil,
		"Feedback":         c.Feedback == nil,
		"Escalate":         c.Escalate == nil,
	}
	var names []string
	for name, isMissing := range missing {
		if isMissing {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return fmt.Errorf("missing capabilities: %s", strings.Join(names, ", "))
	}
	return nil
}

// Config bounds a session.
type Config struct {
	Limits      session.Limits
	StepTimeout time.Duration
	LogTimeout  time.Duration
}

// DefaultConfig matches the defaults of the config package.
func DefaultConfig() Config {
	return Config{
		Limits:      session.DefaultLimits(),
		StepTimeout: 60 * time.Second,
		LogTimeout:  10 * time.Second,
	}
}

// Orchestrator runs sessions. It is read-only after construction, so one
// instance may run several sessions concurrently.
type Orchestrator struct {
	caps       Capabilities
	router     *Router
	policy     *RetryPolicy
	sink       supportlog.SessionLogger
	escalation *escalation.Handler
	recorder   metrics.Recorder
	tracer     trace.Tracer
	logger     *logx.Logger
	cfg        Config
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records step and session metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithEscalationHandler replaces the default ticket decision handler.
func WithEscalationHandler(h *escalation.Handler) Option {
	return func(o *Orchestrator) { o.escalation = h }
}

// WithTable replaces the transition table. It is checked for totality.
func WithTable(t Table) Option {
	return func(o *Orchestrator) { o.router = &Router{table: t} }
}

// New builds an orchestrator.
func New(cfg Config, caps Capabilities, sink supportlog.SessionLogger, opts ...Option) (*Orchestrator, error) {
	if err := caps.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("session logger is required")
	}
	if cfg.StepTimeout <= 0 || cfg.LogTimeout <= 0 {
		return nil, fmt.Errorf("step and log timeouts must be positive")
	}
	policy, err := NewRetryPolicy(cfg.Limits)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		caps:       caps,
		policy:     policy,
		sink:       sink,
		escalation: escalation.NewHandler(),
		recorder:   metrics.Nop(),
		tracer:     otel.Tracer(TracerName),
		logger:     logx.NewLogger("engine"),
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(o)
	}

	table := DefaultTable()
	if o.router != nil {
		table = o.router.table
	}
	if o.router, err = NewRouter(table, policy); err != nil {
		return nil, err
	}
	return o, nil
}

// Run drives one session to its end and returns the final state. The error
// is nil for every session that reached LOG normally, whatever its terminal
// kind. It wraps ErrSessionAbandoned when the user left or ctx was cancelled,
// and ErrInvariantViolation when the state machine broke. A failed log write
// is returned as is; the terminal kind is unaffected.
func (o *Orchestrator) Run(ctx context.Context, id string) (*session.State, error) {
	ctx = logx.WithSessionID(ctx, id)
	s := session.New(id)
	step := session.StepProductSelect

	for {
		if err := ctx.Err(); err != nil {
			return s, o.abandon(ctx, s, fmt.Errorf("%w: %w", ErrSessionAbandoned, err))
		}

		if step == session.StepLog {
			s.Trace = append(s.Trace, step)
			return s, o.runLog(ctx, s)
		}

		err := o.execute(ctx, step, s)
		s.Trace = append(s.Trace, step)

		var left *abandonment
		switch {
		case errors.As(err, &left):
			return s, o.abandon(ctx, s, fmt.Errorf("%w: %w", ErrSessionAbandoned, err))
		case err != nil:
			return s, o.fail(ctx, s, step, err)
		}
		if err := session.CheckInvariants(s, o.policy.Limits()); err != nil {
			return s, o.fail(ctx, s, step, err)
		}

		next, decision, err := o.router.Next(step, s)
		if err != nil {
			return s, o.fail(ctx, s, step, err)
		}
		logx.DebugFlow(ctx, "router", string(step), string(decision), "next="+string(next))
		step = next
	}
}

// execute runs one step inside its span.
func (o *Orchestrator) execute(ctx context.Context, step session.Step, s *session.State) error {
	ctx, span := o.tracer.Start(ctx, "step "+string(step), trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("step", string(step)),
	))
	defer span.End()

	s.LastFailure = nil
	start := time.Now()
	err := o.handle(ctx, step, s)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case s.LastFailure != nil:
		outcome = string(s.LastFailure.Kind)
		span.SetAttributes(attribute.String("failure.kind", outcome))
	}
	o.recorder.ObserveStep(string(step), outcome, time.Since(start))
	return err
}

// abandon settles an abandoned session and writes its log with a context
// that outlives the cancelled one.
func (o *Orchestrator) abandon(ctx context.Context, s *session.State, cause error) error {
	o.logger.Warn("session %s abandoned: %v", s.ID, cause)
	session.ReduceAbandoned(s, escalation.ReasonSessionAbandoned)
	s.Trace = append(s.Trace, session.StepLog)

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.LogTimeout)
	defer cancel()
	if err := o.runLog(logCtx, s); err != nil {
		o.logger.Error("failed to log abandoned session %s: %v", s.ID, err)
	}
	return cause
}

// fail handles a broken state machine: the session is forced to failure and
// logged, and the violation is returned.
func (o *Orchestrator) fail(ctx context.Context, s *session.State, step session.Step, cause error) error {
	if !errors.Is(cause, ErrInvariantViolation) {
		cause = session.Violation("%v", cause)
	}
	o.logger.Error("session %s: %v", s.ID, cause)
	session.ForceFailure(s, cause.Error())
	s.Trace = append(s.Trace, session.StepLog)

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.LogTimeout)
	defer cancel()
	if err := o.runLog(logCtx, s); err != nil {
		o.logger.Error("failed to log session %s: %v", s.ID, err)
	}
	return &InvariantError{Step: step, Detail: cause.Error()}
}

// runLog settles the terminal kind and writes the record and ticket.
func (o *Orchestrator) runLog(ctx context.Context, s *session.State) error {
	if err := session.ReduceLog(s); err != nil {
		return err
	}
	d := o.escalation.Decide(s)
	o.recorder.ObserveSession(d.Record.Status, s.RetrievalAttempts)

	var errs []error
	if err := o.sink.WriteSessionRecord(ctx, d.Record); err != nil {
		errs = append(errs, fmt.Errorf("write session record: %w", err))
	}
	if d.Ticket != nil {
		if err := o.sink.WriteTicket(ctx, *d.Ticket); err != nil {
			errs = append(errs, fmt.Errorf("write ticket: %w", err))
		}
		logx.Debug(ctx, "sink", "ticket %s written (%s)", d.Ticket.ID, d.Ticket.ReasonCode)
	}
	o.logger.Info("session %s finished: %s", s.ID, d.Record.Status)
	return errors.Join(errs...)
}
