package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sheep/internal/llm"
)

var june9 = time.Date(2023, time.June, 9, 12, 0, 0, 0, time.UTC)

func TestExtractFactsPattern(t *testing.T) {
	text := "user: My name is Alex Chen\nassistant: Nice to meet you\nuser: I work at TechCorp"
	facts := ExtractFactsPattern(text, "ep-1", Options{})

	require.Len(t, facts, 2)
	assert.Equal(t, "name_is", facts[0].Predicate)
	assert.Equal(t, "Alex Chen", facts[0].Object)
	assert.Equal(t, "works_at", facts[1].Predicate)
	assert.Equal(t, "TechCorp", facts[1].Object)
	for _, f := range facts {
		assert.Equal(t, []string{"ep-1"}, f.Evidence)
		assert.GreaterOrEqual(t, f.Confidence, MinConfidenceGeneral)
	}
}

func TestExtractFactsPatternPrimaryMode(t *testing.T) {
	text := "user: I like spicy food\nuser: I live in Denver"
	facts := ExtractFactsPattern(text, "ep-1", Options{Mode: ModePrimary})
	// Pattern confidence (0.65) sits below the primary floor (0.85).
	assert.Empty(t, facts)
}

func TestCollapseFacts(t *testing.T) {
	in := []FactCandidate{
		{Subject: "user", Predicate: "works_at", Object: "TechCorp", Confidence: 0.7},
		{Subject: "user", Predicate: "works_at", Object: "TechCorp", Confidence: 0.9},
		{Subject: "user", Predicate: "works_at", Object: "TechCorp Inc", Confidence: 0.8},
		{Subject: "user", Predicate: "lives_in", Object: "Denver", Confidence: 0.8},
	}
	out := CollapseFacts(in)
	require.Len(t, out, 2)
	assert.Equal(t, 0.9, out[0].Confidence)
	assert.Equal(t, "lives_in", out[1].Predicate)
}

func TestExtractCausalPattern(t *testing.T) {
	text := "user: I was late to work because my car broke down yesterday"
	links := ExtractCausalPattern(text, "ep-1", june9)

	require.Len(t, links, 1)
	assert.Contains(t, links[0].CauseDesc, "car broke down")
	assert.Contains(t, links[0].CauseDesc, "8 June 2023")
	assert.Contains(t, links[0].EffectDesc, "late to work")
}

func TestExtractProceduresPattern(t *testing.T) {
	text := "user: When I paste an error message, explain the root cause first"
	procs := ExtractProceduresPattern(text, "ep-1")

	require.Len(t, procs, 1)
	assert.Contains(t, procs[0].Trigger, "paste an error message")
	assert.Contains(t, procs[0].Action, "explain the root cause")
}

func TestExtractForesightsPattern(t *testing.T) {
	text := "user: I'm planning to visit Tokyo next month"
	foresights := ExtractForesightsPattern(text, "ep-1", june9)

	require.Len(t, foresights, 1)
	assert.Contains(t, foresights[0].Description, "visit Tokyo")
	assert.Contains(t, foresights[0].Description, "9 July 2023")
}

func TestResolveRelativeTime(t *testing.T) {
	cases := map[string]string{
		"my car broke down yesterday": "my car broke down 8 June 2023",
		"we met two weeks ago":        "we met 26 May 2023",
		"see you tomorrow":            "see you 10 June 2023",
		"it happened last Monday":     "it happened 5 June 2023",
		"no dates here":               "no dates here",
	}
	for in, want := range cases {
		assert.Equal(t, want, ResolveRelativeTime(in, june9), in)
	}
}

func TestServiceFactsLLM(t *testing.T) {
	mock := llm.NewMockClient(`{"facts":[{"subject":"user","predicate":"Works At","object":"TechCorp","confidence":0.9}]}`)
	svc := NewService(mock)

	facts, err := svc.ExtractFacts(context.Background(), "I work at TechCorp", "ep-1", june9, Options{})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "works_at", facts[0].Predicate)
	assert.Equal(t, []string{"ep-1"}, facts[0].Evidence)
}

func TestServiceFactsFallsBackToPattern(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Down = true
	svc := NewService(mock)

	facts, err := svc.ExtractFacts(context.Background(), "user: I work at TechCorp", "ep-1", june9, Options{})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "works_at", facts[0].Predicate)
	assert.Zero(t, mock.CallCount())
}

func TestServiceFactsParseFailureYieldsEmpty(t *testing.T) {
	mock := llm.NewMockClient("sorry, I cannot help with that")
	svc := NewService(mock)

	facts, err := svc.ExtractFacts(context.Background(), "I work at TechCorp", "ep-1", june9, Options{})
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestServiceCausalRequiresTimestamp(t *testing.T) {
	svc := NewService(llm.NewMockClient(`{"causalLinks":[]}`))
	_, err := svc.ExtractCausalLinks(context.Background(), "text", "ep-1", time.Time{})
	assert.Error(t, err)
}

func TestServiceCausalCapsLinks(t *testing.T) {
	raw := `{"causalLinks":[
		{"cause":"a","effect":"b","confidence":0.9},
		{"cause":"c","effect":"d","confidence":0.8},
		{"cause":"e","effect":"f","confidence":0.7}]}`
	svc := NewService(llm.NewMockClient(raw))

	links, err := svc.ExtractCausalLinks(context.Background(), "text", "ep-1", june9)
	require.NoError(t, err)
	assert.Len(t, links, MaxCausalLinksPerEpisode)
}

func TestServiceSummaryFenced(t *testing.T) {
	raw := "```json\n{\"summary\":\"Alex introduced themselves and their job\",\"topic\":\"introductions\",\"keywords\":[\"alex\",\"techcorp\"],\"participants\":[\"user\",\"assistant\"],\"emotionalSalience\":0.2,\"utilityScore\":0.8}\n```"
	svc := NewService(llm.NewMockClient(raw))

	sum, err := svc.SummarizeEpisode(context.Background(), "conversation text", []string{"user"}, june9)
	require.NoError(t, err)
	assert.Equal(t, "introductions", sum.Topic)
	assert.Equal(t, 0.8, sum.UtilityScore)
}

func TestServiceSummaryPatternFallback(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Down = true
	svc := NewService(mock)

	sum, err := svc.SummarizeEpisode(context.Background(),
		"user: I had a rough day at the office today.", []string{"user", "assistant"}, june9)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.Summary)
	assert.Equal(t, []string{"user", "assistant"}, sum.Participants)
}
