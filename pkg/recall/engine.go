package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeMemory answers from extracted facts only.
	ModeMemory Mode = "memory"
	// ModeHybrid mixes facts with the raw conversation transcript.
	ModeHybrid Mode = "hybrid"
)

// TranscriptSource supplies raw session text for hybrid mode. The
// server's session buffer implements it; the returned transcript
// carries session-date markers.
type TranscriptSource interface {
	Transcript(sessionID string) (text string, date string, ok bool)
}

// SchedulerStatus is the slice of the scheduler the identity report
// needs.
type SchedulerStatus interface {
	Active(agentID string) bool
	LastConsolidation(agentID string) time.Time
}

// Result is a recall answer plus the facts that produced it.
type Result struct {
	Answer       string        `json:"answer"`
	Mode         Mode          `json:"mode"`
	QuestionType QuestionType  `json:"questionType"`
	FactsUsed    []*store.Fact `json:"factsUsed"`
	Err          string        `json:"error,omitempty"`
}

// Engine answers questions against one agent's memory store.
type Engine struct {
	store       *store.Store
	client      llm.Client
	transcripts TranscriptSource
	sched       SchedulerStatus
	version     string
	cache       *caches
	log         *zap.SugaredLogger
}

// NewEngine assembles a recall engine. transcripts and sched may be nil;
// hybrid mode and the identity report then degrade gracefully.
func NewEngine(s *store.Store, client llm.Client, transcripts TranscriptSource, sched SchedulerStatus, version string, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		store:       s,
		client:      client,
		transcripts: transcripts,
		sched:       sched,
		version:     version,
		cache:       newCaches(s),
		log:         log,
	}
}

// Recall answers a question. All failures are absorbed: the result
// always carries a human-readable answer, with Err set when synthesis
// degraded.
func (e *Engine) Recall(ctx context.Context, query, sessionID string, mode Mode) *Result {
	if mode != ModeHybrid {
		mode = ModeMemory
	}
	res := &Result{Mode: mode}

	// Identity and version questions self-report without the LLM.
	if isIdentityQuery(query) {
		res.Answer = e.identityReport()
		res.QuestionType = QuestionSingleHop
		return res
	}

	qt := Classify(query)
	res.QuestionType = qt

	facts, err := e.cache.SessionFacts(e.store, sessionID)
	if err != nil {
		e.log.Warnw("recall: fact load failed", "err", err)
		res.Answer = NoInformation + " (memory unavailable)"
		res.Err = err.Error()
		return res
	}
	res.FactsUsed = retrieveFacts(facts, query, qt)

	var transcript, sessionDate string
	if mode == ModeHybrid && e.transcripts != nil {
		if text, date, ok := e.transcripts.Transcript(sessionID); ok {
			transcript, sessionDate = text, date
		}
	}

	// Adversarial filter applies to pure memory answers only.
	if mode == ModeMemory {
		idx, err := e.cache.EntityIndex(e.store)
		if err != nil {
			e.log.Warnw("recall: entity index build failed", "err", err)
		} else if idx.IsAdversarial(query) {
			res.Answer = NoInformation
			res.FactsUsed = nil
			return res
		}
	}

	prompt := buildPrompt(query, qt, res.FactsUsed, transcript, sessionDate)
	raw, err := llm.CompleteWithRetry(ctx, e.client, prompt, llm.Options{
		MaxTokens:   tokenBudget(qt),
		Temperature: 0,
	}, llm.RecallRetry)
	if err != nil {
		res.Answer = degradedAnswer(res.FactsUsed, diagnose(err))
		res.Err = err.Error()
		return res
	}

	res.Answer = Calibrate(raw, qt, query)
	if res.Answer == "" {
		res.Answer = NoInformation
	}

	e.touchFacts(res.FactsUsed)
	return res
}

// touchFacts records access on the facts an answer used, and on the
// episodes they cite as evidence.
func (e *Engine) touchFacts(facts []*store.Fact) {
	seenEpisodes := map[string]bool{}
	for _, f := range facts {
		if err := e.store.TouchFact(f.ID); err != nil {
			e.log.Debugw("recall: fact touch failed", "fact", f.ID, "err", err)
		}
		for _, ev := range f.Evidence {
			if !store.HasPrefix(ev, store.PrefixEpisode) || seenEpisodes[ev] {
				continue
			}
			seenEpisodes[ev] = true
			// Evidence is a weak reference; the episode may be gone.
			if err := e.store.TouchEpisode(ev); err != nil {
				e.log.Debugw("recall: episode touch failed", "episode", ev, "err", err)
			}
		}
	}
}

// diagnose renders a short operator-readable failure class.
func diagnose(err error) string {
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		return "language model unavailable"
	case errors.Is(err, llm.ErrBadRequest):
		return "language model misconfigured"
	case errors.Is(err, llm.ErrRateLimited):
		return "language model rate limited"
	default:
		return "language model error"
	}
}

var identityCues = []string{
	"who are you", "what are you", "your version", "what version",
	"which model", "what model are you", "how do you work",
}

func isIdentityQuery(query string) bool {
	q := strings.ToLower(query)
	for _, cue := range identityCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}

// identityReport describes the running system from live state. Never
// invokes the LLM.
func (e *Engine) identityReport() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I am a cognitive memory agent (version %s) for agent %q.", e.version, e.store.AgentID())

	if stats, err := e.store.GetStats(); err == nil {
		fmt.Fprintf(&sb, " Memory holds %d episodes, %d active facts, %d causal links, and %d procedures.",
			stats.Episodes, stats.ActiveFacts, stats.CausalLinks, stats.Procedures)
	}
	if e.sched != nil {
		agentID := e.store.AgentID()
		if e.sched.Active(agentID) {
			sb.WriteString(" A consolidation cycle is running now.")
		} else if last := e.sched.LastConsolidation(agentID); !last.IsZero() {
			fmt.Fprintf(&sb, " Last consolidation finished %s.", last.UTC().Format("2006-01-02 15:04 UTC"))
		} else {
			sb.WriteString(" No consolidation has run yet.")
		}
	}
	if e.client != nil && e.client.Available() {
		sb.WriteString(" Language model: available.")
	} else {
		sb.WriteString(" Language model: unavailable (pattern-only mode).")
	}
	return sb.String()
}
