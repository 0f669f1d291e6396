package detector

import (
	"errors"
	"regexp"
	"strings"

	"ShopScout/server/internal/interfaces"
)

// ErrEmptyQuery is returned when there is nothing to classify. Callers fall
// back to the general intent.
var ErrEmptyQuery = errors.New("empty query")

// productSignals are phrases that mark a query as a product search on their
// own, without a matching entity pattern.
var productSignals = []string{
	"buy", "purchase", "price of", "cheapest", "best deal",
	"shopping for", "looking for a", "looking for an",
	"recommend a", "recommend an", "recommend some",
	"product", "in stock", "add to cart",
}

// entityPatterns capture the product noun phrase out of a query. The first
// match wins; group 1 is the entity.
var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:buy|buying|purchase|order)\s+(?:a|an|some|the)?\s*([a-z0-9][a-z0-9'\- ]{2,60}?)(?:\s+(?:for|under|below|around|within|that|with|online)\b|[?.!,]|$)`),
	regexp.MustCompile(`(?i)(?:recommend|suggest|find|show)(?:\s+me)?\s+(?:a|an|some|the)?\s*([a-z0-9][a-z0-9'\- ]{2,60}?)(?:\s+(?:for|under|below|around|within|that|with)\b|[?.!,]|$)`),
	regexp.MustCompile(`(?i)(?:looking|shopping)\s+for\s+(?:a|an|some|the)?\s*([a-z0-9][a-z0-9'\- ]{2,60}?)(?:\s+(?:for|under|below|around|within|that|with)\b|[?.!,]|$)`),
	regexp.MustCompile(`(?i)(?:i\s+)?(?:need|want)\s+(?:a|an|some)\s+([a-z0-9][a-z0-9'\- ]{2,60}?)(?:\s+(?:for|under|below|around|within|that|with)\b|[?.!,]|$)`),
	regexp.MustCompile(`(?i)(?:best|cheapest|top)\s+([a-z0-9][a-z0-9'\- ]{2,60}?)(?:\s+(?:for|under|below|around|within)\b|[?.!,]|$)`),
}

// Classifier decides the coarse intent of a query and extracts the product
// entity when one is named. Pure rule-based; no model calls.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the intent and, for product searches, the extracted
// entity. An unclassifiable query degrades to general.
func (c *Classifier) Classify(query string, attachments []interfaces.Attachment) (interfaces.Intent, string, error) {
	if strings.TrimSpace(query) == "" && len(attachments) == 0 {
		return interfaces.IntentGeneral, "", ErrEmptyQuery
	}

	entity := c.ExtractEntity(query)
	if entity != "" {
		return interfaces.IntentProductSearch, entity, nil
	}

	lower := strings.ToLower(query)
	for _, signal := range productSignals {
		if strings.Contains(lower, signal) {
			return interfaces.IntentProductSearch, "", nil
		}
	}

	return interfaces.IntentGeneral, "", nil
}

// ExtractEntity returns the product noun phrase named by the query, or "".
func (c *Classifier) ExtractEntity(query string) string {
	for _, pattern := range entityPatterns {
		if m := pattern.FindStringSubmatch(query); m != nil {
			entity := strings.TrimSpace(m[1])
			entity = strings.Trim(entity, "'- ")
			if len(entity) >= 3 {
				return strings.ToLower(entity)
			}
		}
	}
	return ""
}
