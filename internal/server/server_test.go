package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
	"github.com/kittclouds/sheep/pkg/consolidation"
	"github.com/kittclouds/sheep/pkg/recall"
)

// scriptedLLM answers both extraction and recall prompts.
func scriptedLLM() *llm.MockClient {
	m := llm.NewMockClient()
	m.Respond = func(prompt string, _ llm.Options) (string, error) {
		switch {
		case strings.Contains(prompt, "Summarize this conversational segment"):
			return `{"summary":"Alex introduced themselves and their employer","topic":"introductions","keywords":["alex","techcorp"],"participants":["user","assistant"],"emotionalSalience":0.2,"utilityScore":0.7}`, nil
		case strings.Contains(prompt, "Extract factual statements"):
			return `{"facts":[
				{"subject":"user","predicate":"name_is","object":"Alex Chen","confidence":0.95},
				{"subject":"user","predicate":"works_at","object":"TechCorp","confidence":0.9}]}`, nil
		case strings.Contains(prompt, "QUESTION:"):
			if strings.Contains(prompt, "name") {
				return "Alex Chen", nil
			}
			return "TechCorp", nil
		default:
			return `{"facts":[],"procedures":[],"causalLinks":[],"foresights":[],"patterns":[],"merges":[],"connections":[],"forgets":[]}`, nil
		}
	}
	return m
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.OpenDSN(":memory:", "agent-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	client := scriptedLLM()
	buffer := NewSessionBuffer("agent-test")

	cfg := consolidation.DefaultConfig()
	cfg.EnableSleep = false
	pipeline := consolidation.NewPipeline(s, buffer,
		func() (llm.Client, error) { return client, nil }, nil, cfg, nil)

	runner := func(ctx context.Context, agentID string) (*store.ConsolidationRun, error) {
		return pipeline.Run(ctx)
	}
	sched := consolidation.NewScheduler(runner, buffer, consolidation.DefaultSchedulerConfig(), nil)
	engine := recall.NewEngine(s, client, buffer, sched, Version, nil)

	return New("agent-test", buffer, sched, engine, s, nil)
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIngestAndRecall(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	for _, msg := range []struct{ role, content string }{
		{"user", "My name is Alex Chen"},
		{"assistant", "Nice to meet you"},
		{"user", "I work at TechCorp"},
		{"assistant", "Cool"},
	} {
		w := postJSON(t, h, "/memories",
			`{"content":"`+msg.content+`","role":"`+msg.role+`","sessionId":"s1"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"success":true`)
	}

	w := postJSON(t, h, "/consolidate", `{"sessionId":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var counters map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counters))
	assert.GreaterOrEqual(t, counters["facts"], 2)
	assert.GreaterOrEqual(t, counters["episodes"], 1)

	req := httptest.NewRequest(http.MethodGet, "/recall?query=What+is+my+name%3F&sessionId=s1&mode=memory", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Answer    string       `json:"answer"`
		Mode      string       `json:"mode"`
		FactsUsed int          `json:"factsUsed"`
		Facts     []recallFact `json:"facts"`
		Version   string       `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "Alex Chen", envelope.Answer)
	assert.Equal(t, "memory", envelope.Mode)
	assert.Equal(t, Version, envelope.Version)
	assert.LessOrEqual(t, len(envelope.Facts), 10)
}

func TestRecallNeverFailsHard(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	// No query parameter: still a 200 with a valid envelope.
	req := httptest.NewRequest(http.MethodGet, "/recall", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope["answer"])
	assert.NotEmpty(t, envelope["error"])
	assert.Equal(t, Version, envelope["version"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status  string   `json:"status"`
		AgentID string   `json:"agentId"`
		Modes   []string `json:"modes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "agent-test", health.AgentID)
	assert.ElementsMatch(t, []string{"memory", "hybrid"}, health.Modes)
}

func TestSessionDatesAnnotation(t *testing.T) {
	buffer := NewSessionBuffer("agent-test")
	buffer.Append("s1", "user", "hello", time.Now().UTC())
	buffer.SetSessionDates(map[string]string{"1": "2023-06-09"})

	sessions := buffer.SessionsBetween(time.Time{}, time.Time{})
	require.Len(t, sessions, 1)
	assert.Equal(t, 2023, sessions[0].Date.Year())
	assert.Equal(t, time.June, sessions[0].Date.Month())
}

func TestTranscriptCarriesDateMarker(t *testing.T) {
	buffer := NewSessionBuffer("agent-test")
	buffer.Append("s1", "user", "hello there", time.Date(2023, 6, 9, 10, 0, 0, 0, time.UTC))

	text, date, ok := buffer.Transcript("s1")
	require.True(t, ok)
	assert.Contains(t, text, "[Session 1 - 9 June 2023]")
	assert.Contains(t, text, "user: hello there")
	assert.Equal(t, "9 June 2023", date)
}
