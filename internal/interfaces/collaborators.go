package interfaces

import "context"

// GenerateRequest is a provider-agnostic completion request. ImageURLs are
// passed through to vision-capable models.
type GenerateRequest struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
	ImageURLs   []string
}

// ChunkFunc receives partial text during streamed generation. Returning an
// error aborts the stream.
type ChunkFunc func(chunk string) error

// Provider generates text from prompts. Implementations retry transient
// failures with bounded backoff before returning an error.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// GenerateStream calls onChunk for each partial and returns the full text.
	GenerateStream(ctx context.Context, req GenerateRequest, onChunk ChunkFunc) (string, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ScoredTurn is a similarity-search hit. The turn is reconstructed from the
// index payload so retrieval does not need a second store round-trip.
type ScoredTurn struct {
	TurnID string
	Score  float64
	Turn   Turn
}

// VectorIndex stores and searches turn embeddings scoped to a user.
type VectorIndex interface {
	IndexTurn(ctx context.Context, userID string, turn Turn, vector []float64) error
	Search(ctx context.Context, userID string, vector []float64, topK int) ([]ScoredTurn, error)
}

// SessionStore owns persisted sessions, turns, and summaries. Load creates
// the session on first sight of a client-supplied id.
type SessionStore interface {
	Load(ctx context.Context, sessionID, userID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	AppendTurn(ctx context.Context, turn Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	TurnsAfter(ctx context.Context, sessionID string, afterCount, limit int) ([]Turn, error)
	RecentSummaries(ctx context.Context, sessionID string, limit int) ([]Summary, error)
	SaveSummary(ctx context.Context, summary Summary) error
}

// Summarizer condenses older turn-pairs in the background. Fire-and-forget:
// it must never block turn completion.
type Summarizer interface {
	Summarize(sessionID string)
}
