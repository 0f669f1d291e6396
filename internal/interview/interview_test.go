package interview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopScout/server/internal/interfaces"
)

func TestStartPutsSessionAtRoundOne(t *testing.T) {
	e := NewEngine(3)
	session := &interfaces.Session{ID: "s1"}

	e.Start(session)

	require.NotNil(t, session.Interview)
	assert.Equal(t, interfaces.ModeShopping, session.Mode)
	assert.Equal(t, 1, session.Interview.Round)
	assert.Empty(t, session.Interview.Slots)
	assert.Equal(t, "What will you mainly use it for?", e.CurrentQuestion(session))
}

func TestThreeAnswersReachRecommendation(t *testing.T) {
	e := NewEngine(3)
	session := &interfaces.Session{ID: "s1"}
	e.Start(session)

	done, next := e.Advance(session, "mostly for commuting and flights")
	require.False(t, done)
	assert.Equal(t, "What budget do you have in mind?", next)
	assert.Equal(t, 2, session.Interview.Round)

	done, next = e.Advance(session, "around $250")
	require.False(t, done)
	assert.Equal(t, "Any must-have features or brands you prefer?", next)
	assert.Equal(t, 3, session.Interview.Round)

	done, next = e.Advance(session, "I like Sony, needs good battery life")
	assert.True(t, done)
	assert.Empty(t, next)

	slots := session.Interview.Slots
	assert.Equal(t, "mostly for commuting and flights", slots["use_case"])
	assert.Contains(t, slots["budget"], "250")
	assert.Equal(t, "sony", slots["brand"])
	assert.NotEmpty(t, slots["preference"])
}

func TestRawAnswerLandsUnderRoundSlot(t *testing.T) {
	e := NewEngine(3)
	session := &interfaces.Session{ID: "s1"}
	e.Start(session)

	// No budget figure, no brand; the text itself is still kept.
	e.Advance(session, "gaming at home")
	e.Advance(session, "not sure yet")

	assert.Equal(t, "gaming at home", session.Interview.Slots["use_case"])
	assert.Equal(t, "not sure yet", session.Interview.Slots["budget"])
}

func TestResetDiscardsState(t *testing.T) {
	e := NewEngine(3)
	session := &interfaces.Session{ID: "s1"}
	e.Start(session)
	e.Advance(session, "travel")

	e.Reset(session)

	assert.Nil(t, session.Interview)
}

func TestRestartBeginsAtRoundOne(t *testing.T) {
	e := NewEngine(3)
	session := &interfaces.Session{ID: "s1"}
	e.Start(session)
	e.Advance(session, "travel")
	e.Advance(session, "$100")
	e.Reset(session)

	e.Start(session)

	require.NotNil(t, session.Interview)
	assert.Equal(t, 1, session.Interview.Round)
	assert.Empty(t, session.Interview.Slots)
}

func TestRecommendationQueryJoinsSlots(t *testing.T) {
	session := &interfaces.Session{LastProductEntity: "headphones"}
	slots := map[string]string{
		"use_case":   "commuting",
		"budget":     "$250",
		"brand":      "sony",
		"preference": "good battery",
	}

	q := RecommendationQuery(session, slots)

	assert.Equal(t, "headphones commuting sony good battery $250", q)
}

func TestRecommendationQueryFallback(t *testing.T) {
	q := RecommendationQuery(&interfaces.Session{}, map[string]string{})
	assert.Equal(t, "product recommendation", q)
}
