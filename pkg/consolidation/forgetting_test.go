package consolidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sheep/internal/store"
	"go.uber.org/zap"
)

func TestFactRetentionOrdering(t *testing.T) {
	now := time.Now().UTC()

	strong := &store.Fact{
		Confidence:    0.95,
		LastConfirmed: now,
		AccessCount:   8,
		Evidence:      []string{"ep-1", "ep-2", "ep-3"},
	}
	weak := &store.Fact{
		Confidence:    0.3,
		LastConfirmed: now.Add(-120 * 24 * time.Hour),
		Evidence:      []string{"ep-1"},
	}

	assert.Greater(t, FactRetention(strong, now), FactRetention(weak, now))
	assert.LessOrEqual(t, FactRetention(strong, now), 1.0)
	assert.GreaterOrEqual(t, FactRetention(weak, now), 0.0)
}

func TestFactRetentionAffirmedFloor(t *testing.T) {
	now := time.Now().UTC()
	f := &store.Fact{
		Confidence:     0.1,
		LastConfirmed:  now.Add(-365 * 24 * time.Hour),
		UserAffirmed:   true,
		Contradictions: []string{"fact-x"},
	}
	assert.GreaterOrEqual(t, FactRetention(f, now), 0.9)
}

func TestFactRetentionContradictionPenalty(t *testing.T) {
	now := time.Now().UTC()
	clean := &store.Fact{Confidence: 0.7, LastConfirmed: now}
	conflicted := &store.Fact{Confidence: 0.7, LastConfirmed: now, Contradictions: []string{"a", "b"}}
	assert.Greater(t, FactRetention(clean, now), FactRetention(conflicted, now))
}

func TestEpisodeRetentionReferencedBoost(t *testing.T) {
	now := time.Now().UTC()
	ep := &store.Episode{
		UtilityScore:      0.3,
		EmotionalSalience: 0.2,
		TTL:               store.TTL30Days,
		LastAccessed:      now.Add(-10 * 24 * time.Hour),
	}
	plain := EpisodeRetention(ep, EpisodeContext{}, now)
	boosted := EpisodeRetention(ep, EpisodeContext{ReferencedByActiveFact: true}, now)
	assert.Greater(t, boosted, plain)
}

func TestEpisodeRetentionTTLOrdering(t *testing.T) {
	now := time.Now().UTC()
	mk := func(ttl store.TTLBucket) float64 {
		return EpisodeRetention(&store.Episode{TTL: ttl, LastAccessed: now}, EpisodeContext{}, now)
	}
	assert.Greater(t, mk(store.TTLPermanent), mk(store.TTL90Days))
	assert.Greater(t, mk(store.TTL90Days), mk(store.TTL30Days))
	assert.Greater(t, mk(store.TTL30Days), mk(store.TTL7Days))
}

func TestActiveForgettingSparesAffirmedFacts(t *testing.T) {
	s, err := store.OpenDSN(":memory:", "agent-test", nil)
	require.NoError(t, err)
	defer s.Close()

	old := time.Now().UTC().Add(-200 * 24 * time.Hour)
	stale := &store.Fact{
		Subject: "user", Predicate: "visited", Object: "a cafe",
		Confidence: 0.15, LastConfirmed: old,
	}
	require.NoError(t, s.InsertFact(stale))

	affirmed := &store.Fact{
		Subject: "user", Predicate: "name_is", Object: "Alex",
		Confidence: 0.2, LastConfirmed: old, UserAffirmed: true,
	}
	require.NoError(t, s.InsertFact(affirmed))

	// High threshold forces everything non-affirmed out.
	pruned, err := ActiveForgetting(s, 0.99, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pruned, 1)

	kept, err := s.GetFact(affirmed.ID)
	require.NoError(t, err)
	assert.True(t, kept.IsActive, "user-affirmed facts are never retracted by forgetting")

	gone, err := s.GetFact(stale.ID)
	require.NoError(t, err)
	assert.False(t, gone.IsActive)
}
