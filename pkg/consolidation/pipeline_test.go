package consolidation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
)

type memorySource struct {
	sessions []Session
}

func (m *memorySource) SessionsBetween(from, to time.Time) []Session {
	var out []Session
	for _, s := range m.sessions {
		if !from.IsZero() && !s.Date.After(from) {
			continue
		}
		if !to.IsZero() && s.Date.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// scriptedLLM answers extraction prompts by recognizable instruction
// text, the way the real prompts are built.
func scriptedLLM() *llm.MockClient {
	m := llm.NewMockClient()
	m.Respond = func(prompt string, _ llm.Options) (string, error) {
		switch {
		case strings.Contains(prompt, "Summarize this conversational segment"):
			return `{"summary":"Alex introduced themselves and mentioned their employer","topic":"introductions","keywords":["alex","techcorp"],"participants":["user","assistant"],"emotionalSalience":0.2,"utilityScore":0.7}`, nil
		case strings.Contains(prompt, "Extract factual statements"):
			return `{"facts":[
				{"subject":"user","predicate":"name_is","object":"Alex Chen","confidence":0.95},
				{"subject":"user","predicate":"works_at","object":"TechCorp","confidence":0.9}]}`, nil
		case strings.Contains(prompt, "Extract reusable behavioral rules"):
			return `{"procedures":[]}`, nil
		case strings.Contains(prompt, "Extract causal relationships"):
			return `{"causalLinks":[{"cause":"Alex started a new job","effect":"Alex moved to a new city","mechanism":"relocation for work","confidence":0.8}]}`, nil
		case strings.Contains(prompt, "plans and upcoming events"):
			return `{"foresights":[]}`, nil
		case strings.Contains(prompt, "Two remembered facts"):
			return `{"verdict":"keep_second","reason":"incoming is user affirmed"}`, nil
		default:
			// Sleep sub-passes.
			return `{"patterns":[],"merges":[],"connections":[],"forgets":[]}`, nil
		}
	}
	return m
}

func testSession(date time.Time) Session {
	return Session{
		ID:   "s1",
		Num:  1,
		Date: date,
		Messages: []Message{
			{ID: "m1", Role: "user", Content: "My name is Alex Chen", Timestamp: date},
			{ID: "m2", Role: "assistant", Content: "Nice to meet you", Timestamp: date},
			{ID: "m3", Role: "user", Content: "I work at TechCorp", Timestamp: date},
			{ID: "m4", Role: "assistant", Content: "Cool", Timestamp: date},
		},
	}
}

func newTestPipeline(t *testing.T, src SessionSource, client llm.Client) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.OpenDSN(":memory:", "agent-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	factory := func() (llm.Client, error) { return client, nil }
	cfg := DefaultConfig()
	cfg.EnableSleep = false
	return NewPipeline(s, src, factory, nil, cfg, nil), s
}

func TestPipelineIngestsSession(t *testing.T) {
	date := time.Now().UTC().Add(-time.Hour)
	src := &memorySource{sessions: []Session{testSession(date)}}
	p, s := newTestPipeline(t, src, scriptedLLM())

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, 1, run.EpisodesCreated)
	assert.GreaterOrEqual(t, run.FactsExtracted, 2)
	assert.Equal(t, 1, run.CausalLinksFound)

	facts, err := s.QueryFacts(store.FactFilter{Subject: "user", Predicate: "name_is", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Alex Chen", facts[0].Object)
}

func TestPipelineIdempotentWindow(t *testing.T) {
	date := time.Now().UTC().Add(-time.Hour)
	src := &memorySource{sessions: []Session{testSession(date)}}
	p, s := newTestPipeline(t, src, scriptedLLM())

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, store.RunCompleted, first.Status)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, second.Status)
	assert.Zero(t, second.EpisodesCreated)
	assert.Zero(t, second.FactsExtracted)
	assert.Zero(t, second.CausalLinksFound)
	assert.Zero(t, second.ProceduresLearned)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Episodes)
}

func TestPipelineContradictionResolution(t *testing.T) {
	date := time.Now().UTC().Add(-time.Hour)
	src := &memorySource{sessions: []Session{{
		ID:   "s2",
		Date: date,
		Messages: []Message{
			{ID: "m1", Role: "user", Content: "I work at GitHub now", Timestamp: date},
		},
	}}}

	client := llm.NewMockClient()
	client.Respond = func(prompt string, _ llm.Options) (string, error) {
		switch {
		case strings.Contains(prompt, "Summarize this conversational segment"):
			return `{"summary":"Job update","topic":"career","keywords":["github"],"participants":["user"],"emotionalSalience":0.3,"utilityScore":0.6}`, nil
		case strings.Contains(prompt, "Extract factual statements"):
			return `{"facts":[{"subject":"user","predicate":"works_at","object":"GitHub","confidence":0.95}]}`, nil
		case strings.Contains(prompt, "Two remembered facts"):
			return `{"verdict":"keep_second","reason":"more recent employment"}`, nil
		default:
			return `{"facts":[],"procedures":[],"causalLinks":[],"foresights":[]}`, nil
		}
	}

	p, s := newTestPipeline(t, src, client)

	seeded := &store.Fact{Subject: "user", Predicate: "works_at", Object: "Google", Confidence: 0.9}
	require.NoError(t, s.InsertFact(seeded))

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, run.ContradictionsResolved, 1)

	active, err := s.QueryFacts(store.FactFilter{Subject: "user", Predicate: "works_at", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "GitHub", active[0].Object)

	old, err := s.GetFact(seeded.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	changes, err := s.ChangesForTarget(seeded.ID)
	require.NoError(t, err)
	var retracts int
	for _, c := range changes {
		if c.ChangeType == store.ChangeRetract {
			retracts++
		}
	}
	assert.Equal(t, 1, retracts)
}

func TestPipelinePatternOnlyDegradation(t *testing.T) {
	date := time.Now().UTC().Add(-time.Hour)
	src := &memorySource{sessions: []Session{testSession(date)}}

	down := llm.NewMockClient()
	down.Down = true
	p, s := newTestPipeline(t, src, down)

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
	// Pattern extractors still find the name and employer.
	assert.GreaterOrEqual(t, run.FactsExtracted, 2)
	// Causal links are LLM-only.
	assert.Zero(t, run.CausalLinksFound)

	facts, err := s.QueryFacts(store.FactFilter{Subject: "user", Predicate: "works_at", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "TechCorp", facts[0].Object)
}

func TestPipelinePreferenceMirroring(t *testing.T) {
	date := time.Now().UTC().Add(-time.Hour)
	src := &memorySource{sessions: []Session{{
		ID:   "s3",
		Date: date,
		Messages: []Message{
			{ID: "m1", Role: "user", Content: "I love hiking in the mountains", Timestamp: date},
		},
	}}}

	down := llm.NewMockClient()
	down.Down = true
	p, s := newTestPipeline(t, src, down)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	prefs, err := s.ListPreferences(CanonicalUser)
	require.NoError(t, err)
	require.NotEmpty(t, prefs)
	assert.Equal(t, store.SentimentPositive, prefs[0].Sentiment)
	assert.Equal(t, "loves", prefs[0].Category)
}

func TestRuleResolverPriority(t *testing.T) {
	now := time.Now().UTC()
	base := func() (*store.Fact, *store.Fact) {
		return &store.Fact{Object: "A", Confidence: 0.5, LastConfirmed: now},
			&store.Fact{Object: "B", Confidence: 0.5, LastConfirmed: now}
	}

	existing, incoming := base()
	existing.UserAffirmed = true
	assert.Equal(t, VerdictKeepFirst, resolveRules(existing, incoming).Verdict)

	existing, incoming = base()
	incoming.UserAffirmed = true
	assert.Equal(t, VerdictKeepSecond, resolveRules(existing, incoming).Verdict)

	existing, incoming = base()
	incoming.LastConfirmed = now.Add(time.Hour)
	assert.Equal(t, VerdictKeepSecond, resolveRules(existing, incoming).Verdict)

	existing, incoming = base()
	existing.Confidence = 0.9
	assert.Equal(t, VerdictKeepFirst, resolveRules(existing, incoming).Verdict)

	existing, incoming = base()
	incoming.Evidence = []string{"ep-1", "ep-2"}
	assert.Equal(t, VerdictKeepSecond, resolveRules(existing, incoming).Verdict)
}

func TestBuildProfileDiscrimination(t *testing.T) {
	facts := []*store.Fact{
		{Subject: "user", Predicate: "name_is", Object: "Alex", Confidence: 0.95, IsActive: true, UserAffirmed: true},
		{Subject: "user", Predicate: "works_at", Object: "TechCorp", Confidence: 0.9, IsActive: true, Evidence: []string{"ep-1", "ep-2"}},
		{Subject: "user", Predicate: "feels", Object: "tired", Confidence: 0.6, IsActive: true},
		{Subject: "Caroline", Predicate: "works_at", Object: "Elsewhere", Confidence: 0.9, IsActive: true},
	}
	profile := BuildProfile(facts)

	assert.Equal(t, "Alex", profile.StableTraits["name_is"])
	assert.Equal(t, "TechCorp", profile.StableTraits["works_at"])
	assert.Equal(t, "tired", profile.TransientTraits["feels"])
	assert.NotContains(t, profile.StableTraits, "Elsewhere")
}

func TestSegmentSession(t *testing.T) {
	base := time.Now().UTC()
	var msgs []Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, Message{ID: "m", Role: "user", Content: "hi", Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	// A long silence then two more turns.
	msgs = append(msgs,
		Message{ID: "m", Role: "user", Content: "back again", Timestamp: base.Add(2 * time.Hour)},
		Message{ID: "m", Role: "assistant", Content: "welcome", Timestamp: base.Add(2*time.Hour + time.Minute)})

	segments := SegmentSession(Session{ID: "s", Messages: msgs})
	// 15 turns split at 12, then the post-gap pair.
	require.Len(t, segments, 3)
	assert.Len(t, segments[0].Messages, 12)
	assert.Len(t, segments[2].Messages, 2)
}
