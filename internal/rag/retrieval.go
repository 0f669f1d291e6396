package rag

import (
	"context"

	"go.uber.org/zap"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/storage"
)

// RetrievalEngine assembles the bounded memory context for a turn: similarity
// hits merged with the most recent raw turns, plus the latest summaries. It
// never fails a turn; every backend error degrades to a smaller context.
type RetrievalEngine struct {
	store interfaces.SessionStore
	cache *storage.RedisStore
	index *TurnIndex
	cfg   config.MemoryConfig
	log   *zap.Logger
}

func NewRetrievalEngine(store interfaces.SessionStore, cache *storage.RedisStore, index *TurnIndex, cfg config.MemoryConfig, log *zap.Logger) *RetrievalEngine {
	return &RetrievalEngine{
		store: store,
		cache: cache,
		index: index,
		cfg:   cfg,
		log:   log,
	}
}

// BuildContext returns the memory window for the turn. When the decision says
// no memory is needed it returns an empty context without touching any
// backend.
func (e *RetrievalEngine) BuildContext(ctx context.Context, session *interfaces.Session, query string, decision interfaces.MemoryDecision) interfaces.MemoryContext {
	if !decision.NeedMemory {
		return interfaces.MemoryContext{}
	}

	searchQuery := query
	if decision.ExpandedQuery != "" {
		searchQuery = decision.ExpandedQuery
	}

	recent := e.recentTurns(ctx, session.ID, e.cfg.MaxContextTurns)

	var similar []interfaces.ScoredTurn
	if e.index.Available() {
		hits, err := e.index.SearchSimilar(ctx, session.UserID, searchQuery, e.cfg.SearchTopK)
		if err != nil {
			e.log.Warn("similarity search failed, using recent turns only",
				zap.String("session_id", session.ID), zap.Error(err))
		} else {
			similar = hits
		}
	}

	turns := mergeWindow(recent, similar, e.cfg.MinContextTurns, e.cfg.MaxContextTurns)

	summaries, err := e.store.RecentSummaries(ctx, session.ID, e.cfg.MaxSummaries)
	if err != nil {
		e.log.Warn("summary lookup failed, omitting summaries",
			zap.String("session_id", session.ID), zap.Error(err))
		summaries = nil
	}

	return interfaces.MemoryContext{Turns: turns, Summaries: summaries}
}

// recentTurns prefers the redis cache and falls back to the store. System
// turns never enter the context.
func (e *RetrievalEngine) recentTurns(ctx context.Context, sessionID string, limit int) []interfaces.Turn {
	var turns []interfaces.Turn
	var err error

	if e.cache != nil {
		turns, err = e.cache.RecentTurns(ctx, sessionID, limit)
		if err != nil {
			e.log.Warn("turn cache read failed", zap.String("session_id", sessionID), zap.Error(err))
			turns = nil
		}
	}
	if len(turns) == 0 && e.store != nil {
		turns, err = e.store.RecentTurns(ctx, sessionID, limit)
		if err != nil {
			e.log.Warn("recent turn load failed", zap.String("session_id", sessionID), zap.Error(err))
			return nil
		}
	}

	filtered := make([]interfaces.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == interfaces.RoleSystem {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}

// mergeWindow combines the recent block with similarity hits, keeping at most
// maxTurns. Similarity hits may displace the oldest recent turns, but the
// recent coherent block never shrinks below minTurns.
func mergeWindow(recent []interfaces.Turn, similar []interfaces.ScoredTurn, minTurns, maxTurns int) []interfaces.Turn {
	if len(recent) > maxTurns {
		recent = recent[len(recent)-maxTurns:]
	}

	seen := make(map[string]bool, len(recent))
	for _, t := range recent {
		seen[t.ID] = true
	}

	floor := minTurns
	if len(recent) < floor {
		floor = len(recent)
	}
	hitCap := maxTurns - floor
	if hitCap < 0 {
		hitCap = 0
	}

	var older []interfaces.Turn
	for _, hit := range similar {
		if len(older) >= hitCap {
			break
		}
		t := hit.Turn
		if t.Role == interfaces.RoleSystem || t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		older = append(older, t)
	}

	if keep := maxTurns - len(older); len(recent) > keep {
		recent = recent[len(recent)-keep:]
	}

	// Similarity hits are older context; they go before the recent block,
	// oldest first.
	for i, j := 0, len(older)-1; i < j; i, j = i+1, j-1 {
		older[i], older[j] = older[j], older[i]
	}
	return append(older, recent...)
}
