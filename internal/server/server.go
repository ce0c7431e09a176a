package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/store"
	"github.com/kittclouds/sheep/pkg/consolidation"
	"github.com/kittclouds/sheep/pkg/recall"
)

// Version is reported in recall envelopes and the identity path.
const Version = "3.0.0"

// Server wires the HTTP surface to the buffer, scheduler, and recall
// engine.
type Server struct {
	agentID string
	buffer  *SessionBuffer
	sched   *consolidation.Scheduler
	engine  *recall.Engine
	store   *store.Store
	log     *zap.SugaredLogger
	mux     *http.ServeMux
}

// New assembles the server and its routes.
func New(agentID string, buffer *SessionBuffer, sched *consolidation.Scheduler, engine *recall.Engine, s *store.Store, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	srv := &Server{
		agentID: agentID,
		buffer:  buffer,
		sched:   sched,
		engine:  engine,
		store:   s,
		log:     log,
		mux:     http.NewServeMux(),
	}
	srv.mux.HandleFunc("POST /memories", srv.handleMemories)
	srv.mux.HandleFunc("POST /consolidate", srv.handleConsolidate)
	srv.mux.HandleFunc("GET /recall", srv.handleRecall)
	srv.mux.HandleFunc("GET /health", srv.handleHealth)
	return srv
}

// Handler returns the HTTP handler for ListenAndServe.
func (s *Server) Handler() http.Handler { return s.mux }

type memoriesRequest struct {
	Content   string `json:"content"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	var req memoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid body"})
		return
	}
	if req.Content == "" || req.Role == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "content and role required"})
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		if parsed, err := parseLooseDate(req.Timestamp); err == nil {
			ts = parsed
		}
	}
	s.buffer.Append(req.SessionID, req.Role, req.Content, ts)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type consolidateRequest struct {
	SessionID    string            `json:"sessionId,omitempty"`
	SessionDates map[string]string `json:"sessionDates,omitempty"`
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if r.Body != nil {
		// An empty body consolidates everything buffered.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if len(req.SessionDates) > 0 {
		s.buffer.SetSessionDates(req.SessionDates)
	}

	run, err := s.sched.TriggerConsolidation(r.Context(), s.agentID, true)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if run == nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "consolidation already running"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"episodes":       run.EpisodesCreated,
		"facts":          run.FactsExtracted,
		"contradictions": run.ContradictionsResolved,
		"causalLinks":    run.CausalLinksFound,
	})
}

type recallFact struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// handleRecall always answers 200 with a valid envelope; internal
// failures surface as a fallback answer plus an error field.
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorw("recall handler panic", "panic", rec)
			writeJSON(w, http.StatusOK, map[string]any{
				"answer":    "Memory is temporarily unavailable.",
				"mode":      "memory",
				"factsUsed": 0,
				"facts":     []recallFact{},
				"version":   Version,
				"error":     "internal failure",
			})
		}
	}()

	query := r.URL.Query().Get("query")
	sessionID := r.URL.Query().Get("sessionId")
	mode := recall.Mode(r.URL.Query().Get("mode"))

	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"answer":    "No question was asked.",
			"mode":      string(recall.ModeMemory),
			"factsUsed": 0,
			"facts":     []recallFact{},
			"version":   Version,
			"error":     "query parameter required",
		})
		return
	}

	res := s.engine.Recall(r.Context(), query, sessionID, mode)

	facts := make([]recallFact, 0, 10)
	for i, f := range res.FactsUsed {
		if i >= 10 {
			break
		}
		facts = append(facts, recallFact{
			Subject:    f.Subject,
			Predicate:  f.Predicate,
			Object:     f.Object,
			Confidence: f.Confidence,
		})
	}

	envelope := map[string]any{
		"answer":    res.Answer,
		"mode":      string(res.Mode),
		"factsUsed": len(res.FactsUsed),
		"facts":     facts,
		"version":   Version,
	}
	if res.Err != "" {
		envelope["error"] = res.Err
	}
	writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"agentId": s.agentID,
		"modes":   []string{string(recall.ModeMemory), string(recall.ModeHybrid)},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode failures after the header is written are unrecoverable.
	_ = json.NewEncoder(w).Encode(payload)
}
