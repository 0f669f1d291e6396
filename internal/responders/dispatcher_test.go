package responders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/interview"
)

type stubResponder struct {
	name  string
	final bool
	err   error
	run   func(in *Input, out *Output)

	mu    sync.Mutex
	calls int
}

func (s *stubResponder) Name() string { return s.name }
func (s *stubResponder) Final() bool  { return s.final }

func (s *stubResponder) Run(_ context.Context, in *Input, out *Output, _ EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.run != nil {
		s.run(in, out)
	}
	return nil
}

func (s *stubResponder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recorder struct {
	events []interfaces.AgentEvent
}

func (r *recorder) emit(ev interfaces.AgentEvent) {
	r.events = append(r.events, ev)
}

func newTestDispatcher(vision, product, writer Responder) *Dispatcher {
	return NewDispatcher(vision, product, writer, interview.NewEngine(3), zap.NewNop())
}

func generalInput() *Input {
	return &Input{
		Query:   "hello there",
		Session: &interfaces.Session{ID: "s1", Mode: interfaces.ModeGeneral},
		Decision: interfaces.MemoryDecision{
			Intent: interfaces.IntentGeneral,
			Reason: interfaces.ReasonNone,
		},
	}
}

func TestPlanWriterOnlyForGeneralQuery(t *testing.T) {
	vision := &stubResponder{name: "vision"}
	product := &stubResponder{name: "product"}
	writer := &stubResponder{name: "writer", final: true}
	d := newTestDispatcher(vision, product, writer)

	_, err := d.Dispatch(context.Background(), generalInput(), (&recorder{}).emit)

	require.NoError(t, err)
	assert.Zero(t, vision.calls)
	assert.Zero(t, product.calls)
	assert.Equal(t, 1, writer.calls)
}

func TestPlanVisionRunsBeforeProduct(t *testing.T) {
	var order []string
	vision := &stubResponder{name: "vision", run: func(*Input, *Output) { order = append(order, "vision") }}
	product := &stubResponder{name: "product", run: func(*Input, *Output) { order = append(order, "product") }}
	writer := &stubResponder{name: "writer", final: true, run: func(*Input, *Output) { order = append(order, "writer") }}
	d := newTestDispatcher(vision, product, writer)

	in := generalInput()
	in.Decision.Intent = interfaces.IntentProductSearch
	in.Attachments = []interfaces.Attachment{{ID: "a1", Kind: interfaces.AttachmentImage, URL: "https://x/img.png"}}

	_, err := d.Dispatch(context.Background(), in, (&recorder{}).emit)

	require.NoError(t, err)
	assert.Equal(t, []string{"vision", "product", "writer"}, order)
}

func TestProductFailureIsNotFatal(t *testing.T) {
	product := &stubResponder{name: "product", err: errors.New("lookup down")}
	writer := &stubResponder{name: "writer", final: true, run: func(_ *Input, out *Output) { out.Text = "answer" }}
	d := newTestDispatcher(&stubResponder{name: "vision"}, product, writer)

	in := generalInput()
	in.Decision.Intent = interfaces.IntentProductSearch

	out, err := d.Dispatch(context.Background(), in, (&recorder{}).emit)

	require.NoError(t, err)
	assert.Equal(t, "answer", out.Text)
	assert.Equal(t, 1, writer.calls)
}

func TestWriterFailureFailsTheTurn(t *testing.T) {
	writer := &stubResponder{name: "writer", final: true, err: errors.New("stream broke")}
	d := newTestDispatcher(&stubResponder{name: "vision"}, &stubResponder{name: "product"}, writer)

	_, err := d.Dispatch(context.Background(), generalInput(), (&recorder{}).emit)

	assert.Error(t, err)
}

func TestInterviewRoundIsExclusive(t *testing.T) {
	product := &stubResponder{name: "product"}
	writer := &stubResponder{name: "writer", final: true}
	d := newTestDispatcher(&stubResponder{name: "vision"}, product, writer)

	session := &interfaces.Session{ID: "s1"}
	iv := interview.NewEngine(3)
	iv.Start(session)

	in := generalInput()
	in.Session = session
	in.Query = "commuting"

	rec := &recorder{}
	out, err := d.Dispatch(context.Background(), in, rec.emit)

	require.NoError(t, err)
	assert.Zero(t, product.calls)
	assert.Zero(t, writer.calls)
	assert.Equal(t, 2, session.Interview.Round)
	assert.NotEmpty(t, out.Text) // the next question is the turn's answer

	var sawQuestionChunk bool
	for _, ev := range rec.events {
		if ev.Type == interfaces.EventChunk && ev.Content == out.Text {
			sawQuestionChunk = true
		}
	}
	assert.True(t, sawQuestionChunk)
}

func TestInterviewOpeningTurnAsksFirstQuestion(t *testing.T) {
	d := newTestDispatcher(&stubResponder{name: "vision"}, &stubResponder{name: "product"}, &stubResponder{name: "writer", final: true})

	session := &interfaces.Session{ID: "s1"}
	iv := interview.NewEngine(3)
	iv.Start(session)

	in := generalInput()
	in.Session = session
	in.Query = "I need new headphones"
	in.InterviewOpening = true

	out, err := d.Dispatch(context.Background(), in, (&recorder{}).emit)

	require.NoError(t, err)
	assert.Equal(t, "What will you mainly use it for?", out.Text)
	// The query was the shopping request, not an answer: still round one.
	assert.Equal(t, 1, session.Interview.Round)
	assert.Empty(t, session.Interview.Slots)
}

func TestInterviewCompletionHandsOffToProductAndWriter(t *testing.T) {
	var productQuery string
	product := &stubResponder{name: "product", run: func(in *Input, out *Output) {
		productQuery = in.EffectiveQuery
		out.ProductCards = []interfaces.ProductCard{{Product: "headphones", Title: "Sony WH-1000XM5"}}
	}}
	writer := &stubResponder{name: "writer", final: true, run: func(_ *Input, out *Output) { out.Text = "here you go" }}
	d := newTestDispatcher(&stubResponder{name: "vision"}, product, writer)

	session := &interfaces.Session{ID: "s1", LastProductEntity: "headphones"}
	iv := interview.NewEngine(3)
	iv.Start(session)
	iv.Advance(session, "commuting")
	iv.Advance(session, "$250")

	in := generalInput()
	in.Session = session
	in.Query = "I like Sony"

	out, err := d.Dispatch(context.Background(), in, (&recorder{}).emit)

	require.NoError(t, err)
	assert.Equal(t, 1, product.calls)
	assert.Equal(t, 1, writer.calls)
	assert.Contains(t, productQuery, "headphones")
	assert.Contains(t, productQuery, "commuting")
	assert.Equal(t, "here you go", out.Text)
	require.Len(t, out.ProductCards, 1)

	// Terminal: the interview is gone but the session stays in shopping mode.
	assert.Nil(t, session.Interview)
	assert.Equal(t, interfaces.ModeShopping, session.Mode)
	assert.True(t, session.ShoppingTerminal())
}

// One shared dispatcher serving many shopping sessions at once: every
// recommendation turn must still hand off to product and writer, and the
// dispatcher itself must stay free of per-turn state.
func TestConcurrentInterviewHandoffs(t *testing.T) {
	product := &stubResponder{name: "product"}
	writer := &stubResponder{name: "writer", final: true, run: func(_ *Input, out *Output) { out.Text = "here you go" }}
	d := newTestDispatcher(&stubResponder{name: "vision"}, product, writer)

	const sessions = 8
	outputs := make([]*Output, sessions)
	errs := make([]error, sessions)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			session := &interfaces.Session{ID: fmt.Sprintf("s%d", i), LastProductEntity: "headphones"}
			iv := interview.NewEngine(3)
			iv.Start(session)
			iv.Advance(session, "commuting")
			iv.Advance(session, "$250")

			in := generalInput()
			in.Session = session
			in.Query = "I like Sony"

			outputs[i], errs[i] = d.Dispatch(context.Background(), in, func(interfaces.AgentEvent) {})
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "here you go", outputs[i].Text)
	}
	assert.Equal(t, sessions, product.callCount())
	assert.Equal(t, sessions, writer.callCount())
}

func TestTerminalShoppingSessionStillRunsProduct(t *testing.T) {
	product := &stubResponder{name: "product"}
	writer := &stubResponder{name: "writer", final: true}
	d := newTestDispatcher(&stubResponder{name: "vision"}, product, writer)

	in := generalInput()
	in.Session = &interfaces.Session{ID: "s1", Mode: interfaces.ModeShopping}

	_, err := d.Dispatch(context.Background(), in, (&recorder{}).emit)

	require.NoError(t, err)
	assert.Equal(t, 1, product.calls)
	assert.Equal(t, 1, writer.calls)
}
