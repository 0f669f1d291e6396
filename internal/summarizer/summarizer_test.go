package summarizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/prompts"
)

type fakeStore struct {
	turns     []interfaces.Turn
	summaries []interfaces.Summary
	saved     []interfaces.Summary
}

func (f *fakeStore) Load(context.Context, string, string) (*interfaces.Session, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeStore) Save(context.Context, *interfaces.Session) error   { return nil }
func (f *fakeStore) AppendTurn(context.Context, interfaces.Turn) error { return nil }
func (f *fakeStore) RecentTurns(context.Context, string, int) ([]interfaces.Turn, error) {
	return nil, nil
}

func (f *fakeStore) TurnsAfter(_ context.Context, _ string, afterCount, limit int) ([]interfaces.Turn, error) {
	if afterCount >= len(f.turns) {
		return nil, nil
	}
	turns := f.turns[afterCount:]
	if len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

func (f *fakeStore) RecentSummaries(context.Context, string, int) ([]interfaces.Summary, error) {
	return f.summaries, nil
}

func (f *fakeStore) SaveSummary(_ context.Context, summary interfaces.Summary) error {
	f.saved = append(f.saved, summary)
	return nil
}

type fakeProvider struct {
	response string
	err      error
	prompt   string
}

func (f *fakeProvider) Generate(_ context.Context, req interfaces.GenerateRequest) (string, error) {
	f.prompt = req.Prompt
	return f.response, f.err
}

func (f *fakeProvider) GenerateStream(context.Context, interfaces.GenerateRequest, interfaces.ChunkFunc) (string, error) {
	return "", errors.New("not implemented")
}

func TestSummarizeAdvancesWatermark(t *testing.T) {
	store := &fakeStore{
		turns: []interfaces.Turn{
			{Role: interfaces.RoleUser, Text: "I want headphones"},
			{Role: interfaces.RoleAssistant, Text: "What kind?"},
			{Role: interfaces.RoleUser, Text: "for running"},
			{Role: interfaces.RoleAssistant, Text: "Try these"},
		},
		summaries: []interfaces.Summary{{Watermark: 2}},
	}
	provider := &fakeProvider{response: "User is shopping for running headphones."}
	s := NewService(store, provider, prompts.NewTemplateEngine(), zap.NewNop())

	s.Summarize("s1")

	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, 4, saved.Watermark) // 2 already covered + 2 new turns
	assert.Equal(t, "User is shopping for running headphones.", saved.Content)
	assert.NotEmpty(t, saved.ID)

	// Only turns past the watermark reach the prompt.
	assert.Contains(t, provider.prompt, "for running")
	assert.NotContains(t, provider.prompt, "I want headphones")
}

func TestSummarizeNothingNewIsNoop(t *testing.T) {
	store := &fakeStore{
		turns:     []interfaces.Turn{{Role: interfaces.RoleUser, Text: "hi"}},
		summaries: []interfaces.Summary{{Watermark: 1}},
	}
	provider := &fakeProvider{response: "should not be called"}
	s := NewService(store, provider, prompts.NewTemplateEngine(), zap.NewNop())

	s.Summarize("s1")

	assert.Empty(t, store.saved)
	assert.Empty(t, provider.prompt)
}

func TestSummarizeGenerationFailureSavesNothing(t *testing.T) {
	store := &fakeStore{turns: []interfaces.Turn{{Role: interfaces.RoleUser, Text: "hi"}}}
	provider := &fakeProvider{err: errors.New("provider down")}
	s := NewService(store, provider, prompts.NewTemplateEngine(), zap.NewNop())

	s.Summarize("s1")

	assert.Empty(t, store.saved)
}
