package tools

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
	"github.com/kittclouds/sheep/pkg/recall"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	s, err := store.OpenDSN(":memory:", "agent-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	engine := recall.NewEngine(s, llm.NewMockClient("ok"), nil, nil, "test", nil)
	r, err := NewRegistry(s, engine)
	require.NoError(t, err)
	return r, s
}

func TestRememberStampsUserAffirmed(t *testing.T) {
	r, s := newTestRegistry(t)

	out, err := r.Invoke(context.Background(), "remember",
		json.RawMessage(`{"subject":"user","predicate":"Works At","object":"GitHub"}`))
	require.NoError(t, err)

	factID := out.(map[string]any)["factId"].(string)
	f, err := s.GetFact(factID)
	require.NoError(t, err)
	assert.True(t, f.UserAffirmed)
	assert.Equal(t, "works_at", f.Predicate)
	assert.Equal(t, []string{store.EvidenceUserExplicit}, f.Evidence)
}

func TestRememberKeepsUniquePredicateInvariant(t *testing.T) {
	r, s := newTestRegistry(t)

	_, err := r.Invoke(context.Background(), "remember",
		json.RawMessage(`{"subject":"user","predicate":"works_at","object":"Google"}`))
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "remember",
		json.RawMessage(`{"subject":"user","predicate":"works_at","object":"GitHub"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["retracted"])

	// Exactly one active fact survives for the unique predicate.
	active, err := s.QueryFacts(store.FactFilter{Subject: "user", Predicate: "works_at", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "GitHub", active[0].Object)

	all, err := s.QueryFacts(store.FactFilter{Subject: "user", Predicate: "works_at"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, f := range all {
		if f.Object == "Google" {
			assert.False(t, f.IsActive)
			assert.Contains(t, f.RetractedReason, "superseded")
		}
	}

	// Non-unique predicates still accumulate freely.
	for _, obj := range []string{"tea", "coffee"} {
		_, err := r.Invoke(context.Background(), "remember",
			json.RawMessage(`{"subject":"user","predicate":"likes","object":"`+obj+`"}`))
		require.NoError(t, err)
	}
	likes, err := s.QueryFacts(store.FactFilter{Subject: "user", Predicate: "likes", ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, likes, 2)
}

func TestCorrectRetractsAndReplaces(t *testing.T) {
	r, s := newTestRegistry(t)

	old := &store.Fact{Subject: "user", Predicate: "works_at", Object: "Google", Confidence: 0.9}
	require.NoError(t, s.InsertFact(old))

	out, err := r.Invoke(context.Background(), "correct",
		json.RawMessage(`{"subject":"user","predicate":"works_at","oldValue":"Google","newValue":"GitHub"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["retracted"])

	stale, err := s.GetFact(old.ID)
	require.NoError(t, err)
	assert.False(t, stale.IsActive)

	active, err := s.QueryFacts(store.FactFilter{Subject: "user", Predicate: "works_at", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "GitHub", active[0].Object)
	assert.Equal(t, 0.95, active[0].Confidence)
	assert.True(t, active[0].UserAffirmed)
}

func TestForgetRequiresReason(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Invoke(context.Background(), "forget",
		json.RawMessage(`{"subject":"user"}`))
	assert.Error(t, err)
}

func TestForgetByFilter(t *testing.T) {
	r, s := newTestRegistry(t)

	require.NoError(t, s.InsertFact(&store.Fact{Subject: "user", Predicate: "likes", Object: "tea", Confidence: 0.8}))
	require.NoError(t, s.InsertFact(&store.Fact{Subject: "user", Predicate: "likes", Object: "coffee", Confidence: 0.8}))
	require.NoError(t, s.InsertFact(&store.Fact{Subject: "user", Predicate: "works_at", Object: "TechCorp", Confidence: 0.9}))

	out, err := r.Invoke(context.Background(), "forget",
		json.RawMessage(`{"subject":"user","predicate":"likes","reason":"stale preferences"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, out.(map[string]any)["retracted"])

	active, err := s.ActiveFacts()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "works_at", active[0].Predicate)
}

func TestWhyCausalChain(t *testing.T) {
	r, s := newTestRegistry(t)

	require.NoError(t, s.InsertCausalLink(&store.CausalLink{
		CauseType: store.CauseEvent, CauseID: "a", CauseDesc: "A",
		EffectType: store.CauseEvent, EffectID: "b", EffectDesc: "B",
		Confidence: 0.8,
	}))
	require.NoError(t, s.InsertCausalLink(&store.CausalLink{
		CauseType: store.CauseEvent, CauseID: "b", CauseDesc: "B",
		EffectType: store.CauseEvent, EffectID: "c", EffectDesc: "C",
		Confidence: 0.9,
	}))

	out, err := r.Invoke(context.Background(), "why",
		json.RawMessage(`{"effect":"C"}`))
	require.NoError(t, err)

	chain := out.(*CausalChain)
	require.Len(t, chain.Chain, 2)
	assert.InDelta(t, 0.72, chain.TotalConfidence, 1e-9)
	assert.Contains(t, chain.Explanation, "A")
	assert.Contains(t, chain.Explanation, "B")
}

func TestWhyNoHistory(t *testing.T) {
	r, _ := newTestRegistry(t)

	out, err := r.Invoke(context.Background(), "why",
		json.RawMessage(`{"effect":"the moon landing"}`))
	require.NoError(t, err)

	chain := out.(*CausalChain)
	assert.Empty(t, chain.Chain)
	assert.True(t, math.Abs(chain.TotalConfidence) < 1e-9)
}

func TestSchemasExposed(t *testing.T) {
	r, _ := newTestRegistry(t)
	tools := r.List()
	require.Len(t, tools, 5)
	for _, tool := range tools {
		assert.NotNil(t, tool.Schema, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
}
