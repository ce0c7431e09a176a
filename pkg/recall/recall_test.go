package recall

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenDSN(":memory:", "agent-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClassify(t *testing.T) {
	cases := map[string]QuestionType{
		"What is my name?":                     QuestionSingleHop,
		"Where do I work?":                     QuestionSingleHop,
		"Why did Alex move to Seattle?":        QuestionMultiHop,
		"When did Caroline visit the agency?":  QuestionDate,
		"How long did the trip last?":          QuestionDuration,
		"Did Melanie finish the painting?":     QuestionYesNo,
		"How many people came to the party?":   QuestionCount,
		"What is the relationship between us?": QuestionMultiHop,
	}
	for q, want := range cases {
		assert.Equal(t, want, Classify(q), q)
	}
}

func TestCalibrateCountAnswer(t *testing.T) {
	got := Calibrate("about seven (7) people because that is what you told me", QuestionCount, "How many people came?")
	assert.Equal(t, "7", got)
}

func TestCalibrateWordNumber(t *testing.T) {
	got := Calibrate("seven people", QuestionCount, "How many people came?")
	assert.Equal(t, "7", got)
}

func TestCalibratePrefixStripping(t *testing.T) {
	got := Calibrate("Based on the facts, the answer is Alex Chen.", QuestionSingleHop, "What is my name?")
	assert.Equal(t, "Alex Chen", got)
}

func TestCalibrateDate(t *testing.T) {
	got := Calibrate("It happened the week before 9 June 2023, as mentioned earlier.", QuestionDate, "When did it happen?")
	assert.Equal(t, "the week before 9 June 2023", got)
}

func TestCalibrateWhereKeepsFirstClause(t *testing.T) {
	got := Calibrate("Seattle, which is in Washington", QuestionSingleHop, "Where does Alex live?")
	assert.Equal(t, "Seattle", got)
}

func TestCalibrateExplanationClause(t *testing.T) {
	got := Calibrate("TechCorp because you said so last week", QuestionSingleHop, "Who employs me?")
	assert.Equal(t, "TechCorp", got)
}

// seedPersonFacts inserts count facts about a subject themed around a
// keyword.
func seedPersonFacts(t *testing.T, s *store.Store, subject, theme string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		f := &store.Fact{
			Subject:    subject,
			Predicate:  "mentioned",
			Object:     fmt.Sprintf("%s detail %d", theme, i),
			Confidence: 0.8,
		}
		require.NoError(t, s.InsertFact(f))
	}
}

func TestAdversarialFilter(t *testing.T) {
	s := newTestStore(t)
	seedPersonFacts(t, s, "Caroline", "adoption", 25)
	seedPersonFacts(t, s, "Melanie", "painting", 25)

	facts, err := s.ActiveFacts()
	require.NoError(t, err)
	idx, err := BuildEntityIndex(facts)
	require.NoError(t, err)

	// Melanie is named but "adoption" belongs to Caroline.
	assert.True(t, idx.IsAdversarial("What are Melanie's adoption plans?"))
	// The straight questions are fine.
	assert.False(t, idx.IsAdversarial("What are Caroline's adoption plans?"))
	assert.False(t, idx.IsAdversarial("What is Melanie painting?"))
	// Questions naming nobody pass through.
	assert.False(t, idx.IsAdversarial("What happened last week?"))
}

func TestAdversarialRecallReturnsLiteral(t *testing.T) {
	s := newTestStore(t)
	seedPersonFacts(t, s, "Caroline", "adoption", 25)
	seedPersonFacts(t, s, "Melanie", "painting", 25)

	mock := llm.NewMockClient("should never be called")
	e := NewEngine(s, mock, nil, nil, "test", nil)

	res := e.Recall(context.Background(), "What are Melanie's adoption plans?", "s1", ModeMemory)
	assert.Equal(t, NoInformation, res.Answer)
	assert.Empty(t, res.FactsUsed)
	assert.Zero(t, mock.CallCount(), "adversarial answers must not consult the LLM")
}

func TestRecallAnswersFromFacts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertFact(&store.Fact{
		Subject: "user", Predicate: "name_is", Object: "Alex Chen", Confidence: 0.95,
	}))

	mock := llm.NewMockClient("Alex Chen")
	e := NewEngine(s, mock, nil, nil, "test", nil)

	res := e.Recall(context.Background(), "What is my name?", "s1", ModeMemory)
	assert.Equal(t, "Alex Chen", res.Answer)
	require.NotEmpty(t, res.FactsUsed)
	assert.Equal(t, "name_is", res.FactsUsed[0].Predicate)
	assert.Empty(t, res.Err)
}

func TestRecallDegradedWhenLLMDown(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertFact(&store.Fact{
		Subject: "user", Predicate: "works_at", Object: "TechCorp", Confidence: 0.9,
	}))

	down := llm.NewMockClient()
	down.Down = true
	e := NewEngine(s, down, nil, nil, "test", nil)

	res := e.Recall(context.Background(), "Where do I work?", "s1", ModeMemory)
	assert.Contains(t, res.Answer, "TechCorp")
	assert.Contains(t, res.Answer, "unavailable")
	assert.NotEmpty(t, res.Err)
}

func TestRecallBadRequestNoRetry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertFact(&store.Fact{
		Subject: "user", Predicate: "works_at", Object: "TechCorp", Confidence: 0.9,
	}))

	mock := llm.NewMockClient()
	mock.Err = llm.ErrBadRequest
	e := NewEngine(s, mock, nil, nil, "test", nil)

	res := e.Recall(context.Background(), "Where do I work?", "s1", ModeMemory)
	assert.Contains(t, res.Answer, "misconfigured")
	assert.Equal(t, 1, mock.CallCount(), "bad requests must not retry")
}

func TestRecallIdentityPath(t *testing.T) {
	s := newTestStore(t)
	mock := llm.NewMockClient("nope")
	e := NewEngine(s, mock, nil, nil, "1.2.3", nil)

	res := e.Recall(context.Background(), "Who are you?", "s1", ModeMemory)
	assert.Contains(t, res.Answer, "1.2.3")
	assert.Contains(t, res.Answer, "agent-test")
	assert.Zero(t, mock.CallCount())
}

func TestSessionCacheInvalidation(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, llm.NewMockClient("x"), nil, nil, "test", nil)

	facts, err := e.cache.SessionFacts(s, "s1")
	require.NoError(t, err)
	assert.Empty(t, facts)

	require.NoError(t, s.InsertFact(&store.Fact{
		Subject: "user", Predicate: "likes", Object: "coffee", Confidence: 0.8,
	}))

	facts, err = e.cache.SessionFacts(s, "s1")
	require.NoError(t, err)
	assert.Len(t, facts, 1, "fact writes must invalidate the session cache")
}

func TestRetrieveTwoHop(t *testing.T) {
	facts := []*store.Fact{
		{ID: "f1", Subject: "user", Predicate: "works_at", Object: "TechCorp", Confidence: 0.9, IsActive: true},
		{ID: "f2", Subject: "TechCorp", Predicate: "located_in", Object: "Seattle", Confidence: 0.8, IsActive: true},
		{ID: "f3", Subject: "Caroline", Predicate: "likes", Object: "tea", Confidence: 0.7, IsActive: true},
	}

	// Single-hop pulls only the directly mentioned fact.
	got := retrieveFacts(facts, "Where does the user work?", QuestionSingleHop)
	require.Len(t, got, 1)
	assert.Equal(t, "f1", got[0].ID)

	// The inference question's hop two follows TechCorp.
	got = retrieveFacts(facts, "Why might the user know Seattle work culture?", QuestionMultiHop)
	ids := map[string]bool{}
	for _, f := range got {
		ids[f.ID] = true
	}
	assert.True(t, ids["f2"])
	assert.False(t, ids["f3"])
}
