package summarizer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/prompts"
)

const (
	summarizeTimeout = 60 * time.Second
	batchLimit       = 16
)

// Service condenses older turn-pairs into rolling summaries so long sessions
// keep a short retrieval window. Summarize is fire-and-forget: callers never
// wait on it and failures only cost a summary, not a turn.
type Service struct {
	store    interfaces.SessionStore
	provider interfaces.Provider
	engine   *prompts.TemplateEngine
	log      *zap.Logger
}

func NewService(store interfaces.SessionStore, provider interfaces.Provider, engine *prompts.TemplateEngine, log *zap.Logger) *Service {
	return &Service{store: store, provider: provider, engine: engine, log: log}
}

// Summarize condenses the turns recorded since the last summary watermark.
func (s *Service) Summarize(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()

	log := s.log.With(zap.String("session_id", sessionID))

	watermark := 0
	summaries, err := s.store.RecentSummaries(ctx, sessionID, 1)
	if err != nil {
		log.Warn("summary watermark read failed", zap.Error(err))
		return
	}
	if len(summaries) > 0 {
		watermark = summaries[0].Watermark
	}

	turns, err := s.store.TurnsAfter(ctx, sessionID, watermark, batchLimit)
	if err != nil {
		log.Warn("turn read for summary failed", zap.Error(err))
		return
	}
	if len(turns) == 0 {
		return
	}

	prompt, err := s.engine.Render("summarize_turns", map[string]string{
		"turns": renderTranscript(turns),
	})
	if err != nil {
		log.Warn("summary prompt render failed", zap.Error(err))
		return
	}

	content, err := s.provider.Generate(ctx, interfaces.GenerateRequest{Prompt: prompt})
	if err != nil {
		log.Warn("summary generation failed", zap.Error(err))
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	summary := interfaces.Summary{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		Watermark: watermark + len(turns),
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveSummary(ctx, summary); err != nil {
		log.Warn("summary save failed", zap.Error(err))
		return
	}
	log.Info("session summarized",
		zap.Int("turns", len(turns)), zap.Int("watermark", summary.Watermark))
}

func renderTranscript(turns []interfaces.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Role == interfaces.RoleSystem {
			continue
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}
