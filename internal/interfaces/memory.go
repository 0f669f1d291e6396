package interfaces

import "time"

// Intent is the coarse classification of a query's purpose.
type Intent string

const (
	IntentProductSearch Intent = "product_search"
	IntentGeneral       Intent = "general"
)

// Reason identifies which rule decided the memory need.
type Reason string

const (
	ReasonKeywordMatch        Reason = "keyword_match"
	ReasonIntentOverride      Reason = "intent_override"
	ReasonEmbeddingSimilarity Reason = "embedding_similarity"
	ReasonNone                Reason = "none"
)

// MemoryDecision is produced fresh per query and never persisted.
// ExpandedQuery is set only by the product-search follow-up override: the
// previously extracted entity concatenated with the current query.
type MemoryDecision struct {
	NeedMemory    bool   `json:"need_memory"`
	Intent        Intent `json:"intent"`
	Reason        Reason `json:"reason"`
	ExpandedQuery string `json:"expanded_query,omitempty"`
}

// Summary is condensed text covering prior turn-pairs. Watermark is the
// session turn count the summary covers up to.
type Summary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Watermark int       `json:"watermark"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryContext is the bounded window handed to the final responder: at most
// six turns (system turns excluded) plus up to three summaries. Built on
// demand, discarded after the turn.
type MemoryContext struct {
	Turns     []Turn    `json:"turns"`
	Summaries []Summary `json:"summaries,omitempty"`
}

// Empty reports whether the context carries nothing.
func (c MemoryContext) Empty() bool {
	return len(c.Turns) == 0 && len(c.Summaries) == 0
}
