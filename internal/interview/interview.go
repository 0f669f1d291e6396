package interview

import (
	"regexp"
	"strings"

	"ShopScout/server/internal/interfaces"
)

// Round questions, asked in order. The slot key is where the answer lands
// when nothing more specific is extracted from it.
type question struct {
	slot string
	text string
}

var questions = []question{
	{"use_case", "What will you mainly use it for?"},
	{"budget", "What budget do you have in mind?"},
	{"preference", "Any must-have features or brands you prefer?"},
}

var budgetPattern = regexp.MustCompile(`(?i)(?:under |below |around |about |max )?[\$€£]?\s?(\d[\d,]*(?:\.\d+)?)\s*(?:dollars|usd|eur|bucks)?`)

var knownBrands = []string{
	"sony", "bose", "apple", "samsung", "anker", "logitech", "dyson",
	"philips", "jbl", "sennheiser", "lenovo", "dell", "asus", "garmin",
}

// Engine runs the shopping slot-filling interview. All state lives in the
// session's InterviewState; the engine itself is stateless.
type Engine struct {
	maxRounds int
}

func NewEngine(maxRounds int) *Engine {
	if maxRounds <= 0 {
		maxRounds = len(questions)
	}
	if maxRounds > len(questions) {
		maxRounds = len(questions)
	}
	return &Engine{maxRounds: maxRounds}
}

func (e *Engine) MaxRounds() int {
	return e.maxRounds
}

// Start puts the session into shopping mode at round 1 with empty slots.
func (e *Engine) Start(session *interfaces.Session) {
	session.Mode = interfaces.ModeShopping
	session.Interview = &interfaces.InterviewState{
		Round: 1,
		Slots: make(map[string]string),
	}
}

// Reset discards interview state. Called on mode toggle-off and after a
// terminal recommendation, so no partial slots leak into later turns.
func (e *Engine) Reset(session *interfaces.Session) {
	session.Interview = nil
}

// CurrentQuestion returns the question for the session's current round.
func (e *Engine) CurrentQuestion(session *interfaces.Session) string {
	iv := session.Interview
	if iv == nil || iv.Round < 1 || iv.Round > e.maxRounds {
		return ""
	}
	return questions[iv.Round-1].text
}

// Advance treats answer as the reply to the current round's question:
// extracts slots, moves to the next round, and reports whether the interview
// reached its recommendation. When not done, nextQuestion carries the
// question to ask.
func (e *Engine) Advance(session *interfaces.Session, answer string) (done bool, nextQuestion string) {
	iv := session.Interview
	if iv == nil {
		e.Start(session)
		iv = session.Interview
	}
	if iv.Slots == nil {
		iv.Slots = make(map[string]string)
	}

	e.extractSlots(iv, questions[iv.Round-1].slot, answer)
	iv.Round++

	if iv.Round > e.maxRounds {
		return true, ""
	}
	return false, questions[iv.Round-1].text
}

// extractSlots pulls structured values out of free text. Whatever cannot be
// parsed lands raw under the round's slot so the recommender always sees an
// answer for every round.
func (e *Engine) extractSlots(iv *interfaces.InterviewState, roundSlot, answer string) {
	trimmed := strings.TrimSpace(answer)
	lower := strings.ToLower(trimmed)

	if m := budgetPattern.FindStringSubmatch(lower); m != nil && strings.ContainsAny(lower, "0123456789") {
		if roundSlot == "budget" || strings.Contains(lower, "$") || strings.Contains(lower, "budget") {
			iv.Slots["budget"] = strings.TrimSpace(m[0])
		}
	}
	for _, brand := range knownBrands {
		if strings.Contains(lower, brand) {
			iv.Slots["brand"] = brand
			break
		}
	}

	if _, ok := iv.Slots[roundSlot]; !ok && trimmed != "" {
		iv.Slots[roundSlot] = trimmed
	}
}

// RecommendationQuery builds the product-lookup query out of collected slots.
func RecommendationQuery(session *interfaces.Session, slots map[string]string) string {
	parts := make([]string, 0, 4)
	if session.LastProductEntity != "" {
		parts = append(parts, session.LastProductEntity)
	}
	for _, key := range []string{"use_case", "brand", "preference", "budget"} {
		if v, ok := slots[key]; ok && v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "product recommendation"
	}
	return strings.Join(parts, " ")
}
