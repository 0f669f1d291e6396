package detector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/interfaces"
)

type fakeEmbedder struct {
	vectors map[string][]float64
	calls   int
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 1}, nil
}

func memCfg() config.MemoryConfig {
	return config.MemoryConfig{
		SimilarityThreshold: 0.70,
		SimilarityWindow:    5,
	}
}

func newTestDetector(embedder interfaces.Embedder, cfg config.MemoryConfig) *Detector {
	return NewDetector(NewClassifier(), embedder, cfg, zap.NewNop())
}

func freshSession() *interfaces.Session {
	return &interfaces.Session{ID: "s1", UserID: "u1", Mode: interfaces.ModeGeneral}
}

func productSession(entity string) *interfaces.Session {
	return &interfaces.Session{
		ID:                "s1",
		UserID:            "u1",
		Mode:              interfaces.ModeGeneral,
		LastIntent:        interfaces.IntentProductSearch,
		LastProductEntity: entity,
	}
}

func TestKeywordMarkersFire(t *testing.T) {
	d := newTestDetector(nil, memCfg())

	queries := []string{
		"what about the red one",
		"how about something bigger",
		"and for my wife",
		"and the other model",
		"tell me about the second one",
		"what was the previous one",
		"show me again please",
		"same as before works",
		"continue from there",
		"as mentioned, I prefer blue",
		"as i said earlier",
		"based on earlier discussion",
		"based on above, which is best",
		"is there a cheaper one",
		"something else maybe",
		"any other options here",
		"give me more options",
	}
	for _, q := range queries {
		dec := d.Decide(context.Background(), q, interfaces.IntentGeneral, freshSession(), nil)
		assert.True(t, dec.NeedMemory, "query %q", q)
		assert.Equal(t, interfaces.ReasonKeywordMatch, dec.Reason, "query %q", q)
	}
}

func TestProductFollowUpOverride(t *testing.T) {
	d := newTestDetector(nil, memCfg())
	session := productSession("noise-cancelling headphones")

	dec := d.Decide(context.Background(), "what about for sleep", interfaces.IntentGeneral, session, nil)

	require.True(t, dec.NeedMemory)
	assert.Equal(t, interfaces.ReasonIntentOverride, dec.Reason)
	assert.Equal(t, interfaces.IntentProductSearch, dec.Intent)
	assert.Equal(t, "noise-cancelling headphones what about for sleep", dec.ExpandedQuery)
}

func TestOverrideOutranksKeywordMatch(t *testing.T) {
	d := newTestDetector(nil, memCfg())

	// Same marker phrase, but only the product-search context produces the
	// override and its expanded query.
	dec := d.Decide(context.Background(), "what about for sleep", interfaces.IntentGeneral, productSession("laptop"), nil)
	assert.Equal(t, interfaces.ReasonIntentOverride, dec.Reason)
	assert.NotEmpty(t, dec.ExpandedQuery)

	dec = d.Decide(context.Background(), "what about for sleep", interfaces.IntentGeneral, freshSession(), nil)
	assert.Equal(t, interfaces.ReasonKeywordMatch, dec.Reason)
	assert.Empty(t, dec.ExpandedQuery)
}

func TestNewEntitySkipsOverride(t *testing.T) {
	d := newTestDetector(nil, memCfg())
	session := productSession("headphones")

	// Naming a different product makes the query self-contained.
	dec := d.Decide(context.Background(), "recommend a coffee maker", interfaces.IntentProductSearch, session, nil)

	assert.False(t, dec.NeedMemory)
	assert.Equal(t, interfaces.ReasonNone, dec.Reason)
	assert.Empty(t, dec.ExpandedQuery)
}

func TestProductSearchSkipsEmbeddingFallback(t *testing.T) {
	embedder := &fakeEmbedder{}
	d := newTestDetector(embedder, memCfg())

	recent := []interfaces.Turn{{Role: interfaces.RoleUser, Text: "earlier question"}}
	dec := d.Decide(context.Background(), "recommend a gaming laptop", interfaces.IntentProductSearch, freshSession(), recent)

	assert.False(t, dec.NeedMemory)
	assert.Equal(t, interfaces.ReasonNone, dec.Reason)
	assert.Zero(t, embedder.calls)
}

func TestEmbeddingSimilarityFires(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"tell me more about that": {1, 0},
		"planning a hiking trip":  {1, 0},
	}}
	d := newTestDetector(embedder, memCfg())

	recent := []interfaces.Turn{
		{Role: interfaces.RoleUser, Text: "planning a hiking trip"},
		{Role: interfaces.RoleAssistant, Text: "sounds fun"},
	}
	dec := d.Decide(context.Background(), "tell me more about that", interfaces.IntentGeneral, freshSession(), recent)

	assert.True(t, dec.NeedMemory)
	assert.Equal(t, interfaces.ReasonEmbeddingSimilarity, dec.Reason)
}

func TestEmbeddingThresholdIsStrict(t *testing.T) {
	// Identical vectors give similarity exactly 1.0; with the threshold at
	// 1.0 the rule must not fire.
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"tell me more": {1, 0},
		"old question": {1, 0},
	}}
	cfg := memCfg()
	cfg.SimilarityThreshold = 1.0
	d := newTestDetector(embedder, cfg)

	recent := []interfaces.Turn{{Role: interfaces.RoleUser, Text: "old question"}}
	dec := d.Decide(context.Background(), "tell me more", interfaces.IntentGeneral, freshSession(), recent)

	assert.False(t, dec.NeedMemory)
	assert.Equal(t, interfaces.ReasonNone, dec.Reason)
}

func TestEmbeddingFailureDegrades(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	d := newTestDetector(embedder, memCfg())

	recent := []interfaces.Turn{{Role: interfaces.RoleUser, Text: "earlier"}}
	dec := d.Decide(context.Background(), "tell me more", interfaces.IntentGeneral, freshSession(), recent)

	assert.False(t, dec.NeedMemory)
	assert.Equal(t, interfaces.ReasonNone, dec.Reason)
}

func TestEmbeddingWindowOnlyUserTurns(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"the query":          {1, 0},
		"assistant rambling": {1, 0}, // would match, but assistant turns are excluded
	}}
	d := newTestDetector(embedder, memCfg())

	recent := []interfaces.Turn{{Role: interfaces.RoleAssistant, Text: "assistant rambling"}}
	dec := d.Decide(context.Background(), "the query", interfaces.IntentGeneral, freshSession(), recent)

	assert.False(t, dec.NeedMemory)
	assert.Zero(t, embedder.calls)
}

func TestUnrelatedQueryNeedsNoMemory(t *testing.T) {
	d := newTestDetector(nil, memCfg())

	dec := d.Decide(context.Background(), "thanks, that helps!", interfaces.IntentGeneral, freshSession(), nil)

	assert.False(t, dec.NeedMemory)
	assert.Equal(t, interfaces.ReasonNone, dec.Reason)
	assert.Equal(t, interfaces.IntentGeneral, dec.Intent)
}

func TestClassifyTable(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		query  string
		intent interfaces.Intent
		entity string
	}{
		{"recommend a gaming laptop for travel", interfaces.IntentProductSearch, "gaming laptop"},
		{"I want to buy wireless earbuds under $100", interfaces.IntentProductSearch, "wireless earbuds"},
		{"looking for a standing desk", interfaces.IntentProductSearch, "standing desk"},
		{"what is the capital of France?", interfaces.IntentGeneral, ""},
		{"add to cart please", interfaces.IntentProductSearch, ""},
	}
	for _, tc := range cases {
		intent, entity, err := c.Classify(tc.query, nil)
		require.NoError(t, err, "query %q", tc.query)
		assert.Equal(t, tc.intent, intent, "query %q", tc.query)
		assert.Equal(t, tc.entity, entity, "query %q", tc.query)
	}
}

func TestClassifyEmptyQuery(t *testing.T) {
	c := NewClassifier()

	intent, entity, err := c.Classify("   ", nil)

	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, interfaces.IntentGeneral, intent)
	assert.Empty(t, entity)
}
