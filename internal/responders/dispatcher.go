package responders

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/interview"
)

// Dispatcher selects and runs the responders for one turn. Responders run in
// a fixed order (vision, then product, then writer) because later stages
// consume earlier outputs. Non-final failures are logged and skipped; a
// writer failure fails the turn.
type Dispatcher struct {
	vision    Responder
	product   Responder
	writer    Responder
	interview *interviewRunner
	log       *zap.Logger
}

func NewDispatcher(vision, product, writer Responder, iv *interview.Engine, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		vision:    vision,
		product:   product,
		writer:    writer,
		interview: &interviewRunner{engine: iv},
		log:       log,
	}
}

// Plan returns the ordered responder list for the input. An active interview
// round is exclusive: the question turn runs no product lookup and no writer.
func (d *Dispatcher) Plan(in *Input) []Responder {
	session := in.Session

	if session.InShoppingInterview(d.interview.engine.MaxRounds()) {
		return []Responder{d.interview}
	}

	var plan []Responder
	if hasImage(in.Attachments) {
		plan = append(plan, d.vision)
	}
	if in.Decision.Intent == interfaces.IntentProductSearch || session.ShoppingTerminal() {
		plan = append(plan, d.product)
	}
	plan = append(plan, d.writer)
	return plan
}

// Dispatch runs the plan. The interview responder may extend the plan at
// recommendation time: the answer that closes round 3 hands straight off to
// product and writer with the accumulated slots.
func (d *Dispatcher) Dispatch(ctx context.Context, in *Input, emit EmitFunc) (*Output, error) {
	out := &Output{}

	plan := d.Plan(in)
	extended := false
	for i := 0; i < len(plan); i++ {
		r := plan[i]
		if err := r.Run(ctx, in, out, emit); err != nil {
			if r.Final() {
				return nil, fmt.Errorf("%s responder failed: %w", r.Name(), err)
			}
			d.log.Warn("responder failed, continuing with partial results",
				zap.String("responder", r.Name()),
				zap.String("session_id", in.Session.ID),
				zap.Error(err))
			continue
		}

		if !extended && in.Slots != nil {
			// Interview reached its recommendation; finish the turn with
			// product lookup and the writer. Slots are only ever published
			// by the interview runner, so this fires at most once.
			plan = append(plan, d.product, d.writer)
			extended = true
		}
	}
	return out, nil
}

func hasImage(attachments []interfaces.Attachment) bool {
	for _, a := range attachments {
		if a.Kind == interfaces.AttachmentImage {
			return true
		}
	}
	return false
}

// interviewRunner adapts the interview engine to the responder contract.
type interviewRunner struct {
	engine *interview.Engine
}

func (r *interviewRunner) Name() string { return "interview" }
func (r *interviewRunner) Final() bool  { return false }

// Run advances the interview by exactly one round. When a next question
// exists it becomes the turn's answer text; when the interview completes, the
// collected slots are published on the input and the effective query becomes
// the recommendation query for the follow-on responders.
func (r *interviewRunner) Run(_ context.Context, in *Input, out *Output, emit EmitFunc) error {
	emit(interfaces.NodeEvent(r.Name()))

	if in.InterviewOpening {
		question := r.engine.CurrentQuestion(in.Session)
		emit(interfaces.ChunkEvent(question))
		out.Text = question
		return nil
	}

	done, next := r.engine.Advance(in.Session, in.Query)
	if !done {
		emit(interfaces.ChunkEvent(next))
		out.Text = next
		return nil
	}

	slots := in.Session.Interview.Slots
	in.Slots = slots
	in.EffectiveQuery = interview.RecommendationQuery(in.Session, slots)
	r.engine.Reset(in.Session)
	return nil
}
