package detector

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/rag"
)

// followUpMarkers trigger the keyword rule on a case-insensitive substring
// match, regardless of prior intent.
var followUpMarkers = []string{
	"what about", "how about", "and for", "and the",
	"the second one", "the previous one", "show me again",
	"same as before", "continue", "as mentioned", "as i said",
	"based on earlier", "based on above", "cheaper one",
	"something else", "other options", "more options",
}

// followUpPatterns are the shorter shapes accepted by the product-search
// follow-up override ("what about for sleep", "a cheaper one?", "any option
// for kids?", "what else?").
var followUpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:what|how) about\b`),
	regexp.MustCompile(`^what else\b`),
	regexp.MustCompile(`^any (?:other )?option`),
	regexp.MustCompile(`^and\b`),
	regexp.MustCompile(`\b(?:cheaper|smaller|bigger|lighter|quieter|better)\b`),
}

// ruleInput is the evaluation context shared by every rule for one query.
type ruleInput struct {
	query   string
	lower   string
	intent  interfaces.Intent
	session *interfaces.Session
	recent  []interfaces.Turn
}

// rule is one predicate->outcome pair. A nil decision means the rule did not
// fire and evaluation moves on.
type rule struct {
	name string
	eval func(ctx context.Context, in *ruleInput) *interfaces.MemoryDecision
}

// Detector decides whether a query needs historical context. The rules form
// an ordered table; the first that fires wins. It is a pure function over the
// session and query apart from embedding lookups in the fallback rule.
type Detector struct {
	classifier *Classifier
	embedder   interfaces.Embedder
	cfg        config.MemoryConfig
	log        *zap.Logger
	rules      []rule
}

func NewDetector(classifier *Classifier, embedder interfaces.Embedder, cfg config.MemoryConfig, log *zap.Logger) *Detector {
	d := &Detector{
		classifier: classifier,
		embedder:   embedder,
		cfg:        cfg,
		log:        log,
	}
	// Precedence is fixed. The override outranks the plain keyword match
	// because a marker phrase inside a product follow-up ("what about for
	// sleep") must still produce the expanded query.
	d.rules = []rule{
		{"intent_override", d.overrideRule},
		{"keyword_match", d.keywordRule},
		{"product_self_contained", d.productDefaultRule},
		{"embedding_similarity", d.embeddingRule},
	}
	return d
}

// Decide runs the rule table. recent supplies the latest turns for the
// embedding fallback; only user turns inside the configured window are
// compared.
func (d *Detector) Decide(ctx context.Context, query string, intent interfaces.Intent, session *interfaces.Session, recent []interfaces.Turn) interfaces.MemoryDecision {
	in := &ruleInput{
		query:   query,
		lower:   strings.ToLower(query),
		intent:  intent,
		session: session,
		recent:  recent,
	}

	for _, r := range d.rules {
		if dec := r.eval(ctx, in); dec != nil {
			return *dec
		}
	}

	return interfaces.MemoryDecision{
		NeedMemory: false,
		Intent:     in.intent,
		Reason:     interfaces.ReasonNone,
	}
}

func (d *Detector) keywordRule(_ context.Context, in *ruleInput) *interfaces.MemoryDecision {
	for _, marker := range followUpMarkers {
		if strings.Contains(in.lower, marker) {
			return &interfaces.MemoryDecision{
				NeedMemory: true,
				Intent:     in.intent,
				Reason:     interfaces.ReasonKeywordMatch,
			}
		}
	}
	return nil
}

// overrideRule catches short product-search follow-ups that name no new
// entity. The expanded query hands the product responder the previous entity
// plus the follow-up text.
func (d *Detector) overrideRule(_ context.Context, in *ruleInput) *interfaces.MemoryDecision {
	if in.session.LastIntent != interfaces.IntentProductSearch || in.session.LastProductEntity == "" {
		return nil
	}

	entity := d.classifier.ExtractEntity(in.query)
	if entity != "" && !strings.EqualFold(entity, in.session.LastProductEntity) {
		return nil // Names a new product; self-contained
	}

	if !matchesFollowUpPattern(in.lower) {
		return nil
	}

	return &interfaces.MemoryDecision{
		NeedMemory:    true,
		Intent:        interfaces.IntentProductSearch,
		Reason:        interfaces.ReasonIntentOverride,
		ExpandedQuery: in.session.LastProductEntity + " " + in.query,
	}
}

// productDefaultRule: product searches are normally self-contained, so once
// no override fired the query proceeds without memory and without consulting
// the embedding fallback.
func (d *Detector) productDefaultRule(_ context.Context, in *ruleInput) *interfaces.MemoryDecision {
	if in.intent != interfaces.IntentProductSearch {
		return nil
	}
	return &interfaces.MemoryDecision{
		NeedMemory: false,
		Intent:     in.intent,
		Reason:     interfaces.ReasonNone,
	}
}

// embeddingRule compares the query against the last few user turns. Fires
// only on strictly greater than the threshold; embedding failures degrade to
// "no memory" rather than failing the turn.
func (d *Detector) embeddingRule(ctx context.Context, in *ruleInput) *interfaces.MemoryDecision {
	if d.embedder == nil {
		return nil
	}

	window := lastUserTurns(in.recent, d.cfg.SimilarityWindow)
	if len(window) == 0 {
		return nil
	}

	queryVec, err := d.embedder.Embed(ctx, in.query)
	if err != nil {
		d.log.Warn("query embedding failed, skipping similarity fallback", zap.Error(err))
		return nil
	}

	maxSim := 0.0
	for _, turn := range window {
		turnVec, err := d.embedder.Embed(ctx, turn.Text)
		if err != nil {
			continue
		}
		sim, err := rag.CosineSimilarity(queryVec, turnVec)
		if err != nil {
			continue
		}
		if sim > maxSim {
			maxSim = sim
		}
	}

	if maxSim > d.cfg.SimilarityThreshold {
		return &interfaces.MemoryDecision{
			NeedMemory: true,
			Intent:     in.intent,
			Reason:     interfaces.ReasonEmbeddingSimilarity,
		}
	}
	return nil
}

func matchesFollowUpPattern(lower string) bool {
	for _, marker := range followUpMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, pattern := range followUpPatterns {
		if pattern.MatchString(lower) {
			return true
		}
	}
	// Very short questions rarely stand on their own.
	trimmed := strings.TrimSpace(lower)
	if strings.HasSuffix(trimmed, "?") && len(strings.Fields(trimmed)) <= 4 {
		return true
	}
	return false
}

func lastUserTurns(turns []interfaces.Turn, window int) []interfaces.Turn {
	var users []interfaces.Turn
	for _, t := range turns {
		if t.Role == interfaces.RoleUser {
			users = append(users, t)
		}
	}
	if len(users) > window {
		users = users[len(users)-window:]
	}
	return users
}
