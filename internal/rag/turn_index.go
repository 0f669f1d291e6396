package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ShopScout/server/internal/interfaces"
)

// TurnIndex combines the embedder and the vector index so callers deal in
// turns and query text, not vectors.
type TurnIndex struct {
	embedder interfaces.Embedder
	index    interfaces.VectorIndex
	log      *zap.Logger
}

func NewTurnIndex(embedder interfaces.Embedder, index interfaces.VectorIndex, log *zap.Logger) *TurnIndex {
	return &TurnIndex{
		embedder: embedder,
		index:    index,
		log:      log,
	}
}

// Available reports whether a vector backend is wired. Without one, retrieval
// degrades to recent turns only.
func (t *TurnIndex) Available() bool {
	return t != nil && t.index != nil && t.embedder != nil
}

// StoreTurn embeds and indexes a completed turn. Indexing failures are not
// fatal to the turn that produced them.
func (t *TurnIndex) StoreTurn(ctx context.Context, userID string, turn interfaces.Turn) error {
	if !t.Available() {
		return nil
	}
	if turn.Text == "" || turn.Role == interfaces.RoleSystem {
		return nil
	}

	vector, err := t.embedder.Embed(ctx, turn.Text)
	if err != nil {
		return fmt.Errorf("failed to embed turn: %w", err)
	}
	return t.index.IndexTurn(ctx, userID, turn, vector)
}

// SearchSimilar returns the turns closest to the query for this user.
func (t *TurnIndex) SearchSimilar(ctx context.Context, userID, query string, topK int) ([]interfaces.ScoredTurn, error) {
	if !t.Available() {
		return nil, nil
	}

	vector, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return t.index.Search(ctx, userID, vector, topK)
}
