package engine

import (
	"context"

	"supportflow/pkg/capability"
	"supportflow/pkg/escalation"
	"supportflow/pkg/logx"
	"supportflow/pkg/session"
)

// invoke calls c with the step timeout bounding each of its service calls.
// User waits are unbounded. A cancelled parent turns any failure into an
// abandonment.
func invoke[In, Out any](ctx context.Context, o *Orchestrator, step session.Step, c capability.Capability[In, Out], in In) capability.Result[Out] {
	res := c.Invoke(capability.WithCallTimeout(ctx, o.cfg.StepTimeout), in)
	if res.Failure == nil {
		return res
	}

	f := *res.Failure
	if f.Step == session.StepNone {
		f.Step = step
	}
	if ctx.Err() != nil {
		f.Kind = session.FailureAbandoned
	}
	res.Failure = &f

	o.recorder.IncCapabilityFailure(string(step), string(f.Kind))
	if f.Kind != session.FailureAbandoned {
		o.logger.Warn("session %s: %s failed (%s): %s", logx.SessionIDFromContext(ctx), step, f.Kind, f.Reason)
	}
	return res
}

// left turns an abandoned failure into the error that ends the loop.
func left(f *session.Failure) error {
	if f == nil || f.Kind != session.FailureAbandoned {
		return nil
	}
	return &abandonment{step: f.Step, reason: f.Reason}
}

// handle runs the capability of step and reduces its result into s.
func (o *Orchestrator) handle(ctx context.Context, step session.Step, s *session.State) error {
	switch step {
	case session.StepProductSelect:
		res := invoke(ctx, o, step, o.caps.ProductSelect, capability.ProductInput{})
		if err := left(res.Failure); err != nil {
			return err
		}
		if res.Failed() {
			session.RecordFailure(s, *res.Failure)
			return nil
		}
		return session.ReduceProductSelection(s, res.Value)

	case session.StepGather:
		res := invoke(ctx, o, step, o.caps.Gather, capability.GatherInput{
			Product:      s.Product,
			Conversation: append([]session.Turn(nil), s.Conversation...),
			FollowUp:     s.FollowUp,
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		session.ReduceGatherResult(s, res.Value, res.Failure)
		return o.policy.Increment(s, session.CounterGather)

	case session.StepRetrieve:
		res := invoke(ctx, o, step, o.caps.Retrieve, capability.RetrieveInput{
			Product:         s.Product,
			Question:        s.EffectiveQuestion(),
			AdditionalInfo:  s.LastClarification,
			InformationGap:  s.InformationGap,
			PreviousQueries: s.PreviousQueries(),
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		session.ReduceRetrievalResult(s, res.Value, res.Failure)
		return nil

	case session.StepQualityCheck:
		res := invoke(ctx, o, step, o.caps.QualityCheck, capability.QualityInput{
			Product:  s.Product,
			Question: s.EffectiveQuestion(),
			History:  s.History,
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		session.ReduceQualityResult(s, res.Value, res.Failure)
		return o.policy.Increment(s, session.CounterRetrieval)

	case session.StepPDFFallback:
		if err := session.MarkPDFFallbackAttempted(s); err != nil {
			return err
		}
		res := invoke(ctx, o, step, o.caps.PDFFallback, capability.FallbackInput{
			Product:  s.Product,
			Question: s.EffectiveQuestion(),
			History:  s.History,
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		session.ReduceFallbackResult(s, res.Value, res.Failure)
		return nil

	case session.StepFormulate:
		res := invoke(ctx, o, step, o.caps.Formulate, capability.FormulateInput{
			Product:        s.Product,
			Question:       s.EffectiveQuestion(),
			Details:        s.GatheredDetails,
			History:        s.History,
			FallbackText:   s.FallbackText,
			FallbackSource: s.FallbackSource,
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		return session.ReduceFormulateResult(s, res.Value, res.Failure)

	case session.StepPresentAnswer:
		res := invoke(ctx, o, step, o.caps.Present, capability.PresentInput{
			Answer:         s.Answer,
			Source:         s.AnswerSource,
			FallbackSource: s.FallbackSource,
			FallbackPages:  s.FallbackPages,
			FallbackTitle:  s.FallbackSection,
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		if res.Failed() {
			session.RecordFailure(s, *res.Failure)
			return nil
		}
		session.ReducePresented(s)
		return nil

	case session.StepAskClarification:
		res := invoke(ctx, o, step, o.caps.AskClarification, capability.ClarificationPromptInput{})
		if err := left(res.Failure); err != nil {
			return err
		}
		if res.Failed() {
			session.RecordFailure(s, *res.Failure)
		}
		session.ReduceClarificationInput(s, res.Value)
		return o.policy.Increment(s, session.CounterClarification)

	case session.StepClarifyAssess:
		res := invoke(ctx, o, step, o.caps.ClarifyAssess, capability.AssessInput{
			Question:        s.EffectiveQuestion(),
			Details:         s.GatheredDetails,
			Clarification:   s.ClarificationText,
			PreviousQueries: s.PreviousQueries(),
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		session.ReduceClarificationResult(s, res.Value, res.Failure)
		return nil

	case session.StepFeedback:
		res := invoke(ctx, o, step, o.caps.Feedback, capability.FeedbackInput{Answer: s.Answer})
		if err := left(res.Failure); err != nil {
			return err
		}
		return session.ReduceFeedbackResult(s, res.Value, res.Failure)

	case session.StepEscalate:
		// The terminal kind is settled before the notice so that a user
		// leaving during it still gets a ticket.
		if err := session.ReduceEscalation(s, escalation.EscalationReason(s)); err != nil {
			return err
		}
		res := invoke(ctx, o, step, o.caps.Escalate, capability.EscalateInput{
			Product: s.Product,
			Reason:  s.Terminal.Reason,
		})
		if err := left(res.Failure); err != nil {
			return err
		}
		if res.Failed() {
			o.logger.Warn("escalation notice not shown: %s", res.Failure.Reason)
		}
		return nil

	default:
		return session.Violation("no handler for step %q", step)
	}
}
