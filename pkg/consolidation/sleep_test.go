package consolidation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
)

func seedSleepStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenDSN(":memory:", "agent-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for i := 0; i < 6; i++ {
		require.NoError(t, s.InsertEpisode(&store.Episode{
			Summary:   "episode summary",
			Timestamp: time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		}))
	}
	for _, obj := range []string{"coffee", "espresso", "strong coffee", "tea", "jazz"} {
		require.NoError(t, s.InsertFact(&store.Fact{
			Subject: "user", Predicate: "likes", Object: obj, Confidence: 0.8,
		}))
	}
	return s
}

func TestRunSleepParsesSubPasses(t *testing.T) {
	s := seedSleepStore(t)

	client := llm.NewMockClient()
	client.Respond = func(prompt string, _ llm.Options) (string, error) {
		switch {
		case strings.Contains(prompt, "recurring patterns"):
			return `{"patterns":[{"type":"preference","statement":"user gravitates to caffeinated drinks","confidence":0.8,"memoryIds":[]},{"type":"bogus","statement":"dropped"}]}`, nil
		case strings.Contains(prompt, "propose merges"):
			return `{"merges":[]}`, nil
		case strings.Contains(prompt, "Propose connections"):
			return `{"connections":[{"kind":"similar","sourceId":"a","targetId":"b"},{"kind":"weird","sourceId":"a","targetId":"c"},{"kind":"causal","sourceId":"x","targetId":"x"}]}`, nil
		default:
			return `{"forgets":[{"targetId":"fact-1","reason":"redundant","confidence":0.7},{"targetId":"fact-2","reason":"felt like it"}]}`, nil
		}
	}

	res, err := RunSleep(context.Background(), s, client, AllSleepPasses(), zap.NewNop().Sugar())
	require.NoError(t, err)

	assert.Equal(t, 4, res.PassesAttempted)
	assert.Equal(t, 4, res.PassesSucceeded)
	// Invalid types, self-loops, and unknown reasons are filtered.
	require.Len(t, res.Patterns, 1)
	assert.Equal(t, "preference", res.Patterns[0].Type)
	require.Len(t, res.Connections, 1)
	require.Len(t, res.Forgets, 1)
	assert.Equal(t, "redundant", res.Forgets[0].Reason)
}

func TestRunSleepGatesConsolidation(t *testing.T) {
	s, err := store.OpenDSN(":memory:", "agent-test", nil)
	require.NoError(t, err)
	defer s.Close()

	// Two facts only: below the consolidation gate, and below the
	// pattern/connection memory gate.
	for _, obj := range []string{"coffee", "tea"} {
		require.NoError(t, s.InsertFact(&store.Fact{
			Subject: "user", Predicate: "likes", Object: obj, Confidence: 0.8,
		}))
	}

	client := llm.NewMockClient(`{"patterns":[],"merges":[],"connections":[],"forgets":[]}`)
	res, err := RunSleep(context.Background(), s, client, AllSleepPasses(), zap.NewNop().Sugar())
	require.NoError(t, err)

	// Only the forgetting pass runs (it needs just one fact).
	assert.Equal(t, 1, res.PassesAttempted)
}

func TestRunSleepUnavailable(t *testing.T) {
	s := seedSleepStore(t)
	down := llm.NewMockClient()
	down.Down = true

	_, err := RunSleep(context.Background(), s, down, AllSleepPasses(), zap.NewNop().Sugar())
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestApplySleepResultMergesAndForgets(t *testing.T) {
	s := seedSleepStore(t)

	facts, err := s.ActiveFacts()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(facts), 3)
	keeper, dup, victim := facts[0], facts[1], facts[2]

	res := &SleepResult{
		Merges: []MergeProposal{{
			FactIDs:   []string{keeper.ID, dup.ID},
			Subject:   "user",
			Predicate: "likes",
			Object:    "coffee drinks",
		}},
		Forgets: []ForgetRecommendation{{
			TargetID: victim.ID, Reason: "redundant", Confidence: 0.8,
		}},
	}
	ApplySleepResult(s, res, "cr-test", zap.NewNop().Sugar())

	merged, err := s.GetFact(keeper.ID)
	require.NoError(t, err)
	assert.Equal(t, "coffee drinks", merged.Object)
	assert.True(t, merged.IsActive)

	retired, err := s.GetFact(dup.ID)
	require.NoError(t, err)
	assert.False(t, retired.IsActive)

	forgotten, err := s.GetFact(victim.ID)
	require.NoError(t, err)
	assert.False(t, forgotten.IsActive)
	assert.Contains(t, forgotten.RetractedReason, "redundant")
}
