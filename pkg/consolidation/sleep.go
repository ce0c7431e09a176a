package consolidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/jsonx"
	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
)

// LLM sleep: four optional sub-passes over a snapshot of recent memory.
// Each has its own prompt, min-input gate, token budget, and tolerant
// parse; each degrades independently.

// Sleep sub-pass input gates and budgets.
const (
	sleepMinFactsForConsolidation = 3
	sleepMinMemoriesForPatterns   = 5
	sleepSnapshotEpisodes         = 50
	sleepSnapshotFacts            = 100

	sleepTokensPatterns    = 768
	sleepTokensConsolidate = 768
	sleepTokensConnections = 512
	sleepTokensForgetting  = 512
)

// DiscoveredPattern is one pattern-discovery result.
type DiscoveredPattern struct {
	Type       string   `json:"type"` // behavioral|preference|temporal|causal|association
	Statement  string   `json:"statement"`
	Confidence float64  `json:"confidence"`
	MemoryIDs  []string `json:"memoryIds"`
}

// MergeProposal is one fact-consolidation result.
type MergeProposal struct {
	FactIDs   []string `json:"factIds"`
	Subject   string   `json:"subject"`
	Predicate string   `json:"predicate"`
	Object    string   `json:"object"`
}

// ConnectionProposal is one connection-discovery result.
type ConnectionProposal struct {
	Kind     string `json:"kind"` // similar|causal|temporal|contradicts|elaborates
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Note     string `json:"note,omitempty"`
}

// ForgetRecommendation is one forgetting-recommendation result.
type ForgetRecommendation struct {
	TargetID   string  `json:"targetId"`
	Reason     string  `json:"reason"` // redundant|outdated|low_value|superseded|contradicted
	Confidence float64 `json:"confidence"`
}

// SleepResult aggregates the four sub-pass outputs.
type SleepResult struct {
	Patterns        []DiscoveredPattern    `json:"patterns"`
	Merges          []MergeProposal        `json:"merges"`
	Connections     []ConnectionProposal   `json:"connections"`
	Forgets         []ForgetRecommendation `json:"forgets"`
	PassesAttempted int                    `json:"passesAttempted"`
	PassesSucceeded int                    `json:"passesSucceeded"`
}

// SleepOptions toggles the sub-passes.
type SleepOptions struct {
	Patterns    bool
	Consolidate bool
	Connections bool
	Forgetting  bool
}

// AllSleepPasses enables every sub-pass.
func AllSleepPasses() SleepOptions {
	return SleepOptions{Patterns: true, Consolidate: true, Connections: true, Forgetting: true}
}

// RunSleep executes the enabled sub-passes over a snapshot of recent
// episodes, active facts, and causal links. Sub-pass failures are
// logged, not propagated.
func RunSleep(ctx context.Context, s *store.Store, client llm.Client, opts SleepOptions, log *zap.SugaredLogger) (*SleepResult, error) {
	if client == nil || !client.Available() {
		return nil, llm.ErrUnavailable
	}

	episodes, err := s.ListEpisodes(time.Time{}, time.Time{}, sleepSnapshotEpisodes)
	if err != nil {
		return nil, fmt.Errorf("sleep: snapshot episodes: %w", err)
	}
	facts, err := s.ActiveFacts()
	if err != nil {
		return nil, fmt.Errorf("sleep: snapshot facts: %w", err)
	}
	if len(facts) > sleepSnapshotFacts {
		facts = facts[:sleepSnapshotFacts]
	}
	links, err := s.ListCausalLinks(50)
	if err != nil {
		return nil, fmt.Errorf("sleep: snapshot links: %w", err)
	}

	snapshot := renderSnapshot(episodes, facts, links)
	result := &SleepResult{}

	run := func(name string, budget int, prompt string, into func(string) error) {
		result.PassesAttempted++
		raw, err := llm.CompleteWithRetry(ctx, client, prompt, llm.Options{
			MaxTokens:   budget,
			Temperature: 0.3,
			JSONMode:    true,
		}, llm.SleepRetry)
		if err != nil {
			log.Warnw("sleep: sub-pass failed", "pass", name, "err", err)
			return
		}
		if err := into(raw); err != nil {
			log.Warnw("sleep: sub-pass parse failed", "pass", name, "err", err)
			return
		}
		result.PassesSucceeded++
	}

	if opts.Patterns && len(episodes)+len(facts) >= sleepMinMemoriesForPatterns {
		run("patterns", sleepTokensPatterns, patternsPrompt(snapshot), func(raw string) error {
			var env struct {
				Patterns []DiscoveredPattern `json:"patterns"`
			}
			if err := jsonx.Unmarshal(raw, &env); err != nil {
				return err
			}
			result.Patterns = filterPatterns(env.Patterns)
			return nil
		})
	}

	if opts.Consolidate && len(facts) >= sleepMinFactsForConsolidation {
		run("consolidate", sleepTokensConsolidate, consolidatePrompt(snapshot), func(raw string) error {
			var env struct {
				Merges []MergeProposal `json:"merges"`
			}
			if err := jsonx.Unmarshal(raw, &env); err != nil {
				return err
			}
			result.Merges = env.Merges
			return nil
		})
	}

	if opts.Connections && len(episodes)+len(facts) >= sleepMinMemoriesForPatterns {
		run("connections", sleepTokensConnections, connectionsPrompt(snapshot), func(raw string) error {
			var env struct {
				Connections []ConnectionProposal `json:"connections"`
			}
			if err := jsonx.Unmarshal(raw, &env); err != nil {
				return err
			}
			result.Connections = filterConnections(env.Connections)
			return nil
		})
	}

	if opts.Forgetting && len(facts) > 0 {
		run("forgetting", sleepTokensForgetting, forgettingPrompt(snapshot), func(raw string) error {
			var env struct {
				Forgets []ForgetRecommendation `json:"forgets"`
			}
			if err := jsonx.Unmarshal(raw, &env); err != nil {
				return err
			}
			result.Forgets = filterForgets(env.Forgets)
			return nil
		})
	}

	return result, nil
}

// ApplySleepResult applies the actionable sub-pass outputs: merges
// rewrite facts, connections become causal links, forgetting
// recommendations retract facts or demote episodes. Each application is
// tolerant per-recommendation.
func ApplySleepResult(s *store.Store, res *SleepResult, runID string, log *zap.SugaredLogger) {
	for _, m := range res.Merges {
		if len(m.FactIDs) < 2 || m.Subject == "" || m.Predicate == "" || m.Object == "" {
			continue
		}
		keeper := m.FactIDs[0]
		if err := s.ModifyFact(keeper, m.Object, 0.85, "sleep: consolidated with "+strings.Join(m.FactIDs[1:], ", ")); err != nil {
			log.Warnw("sleep: merge apply failed", "fact", keeper, "err", err)
			continue
		}
		for _, id := range m.FactIDs[1:] {
			if err := s.RetractFact(id, "sleep: merged into "+keeper); err != nil {
				log.Warnw("sleep: merge retract failed", "fact", id, "err", err)
			}
		}
	}

	for _, c := range res.Connections {
		if c.Kind != "causal" {
			continue
		}
		link := &store.CausalLink{
			CauseType:  store.CauseEvent,
			CauseID:    c.SourceID,
			CauseDesc:  c.SourceID,
			EffectType: store.CauseEvent,
			EffectID:   c.TargetID,
			EffectDesc: c.TargetID,
			Mechanism:  c.Note,
			Confidence: 0.5,
			Evidence:   []string{},
		}
		if err := s.InsertCausalLink(link); err != nil {
			log.Warnw("sleep: connection apply failed", "source", c.SourceID, "err", err)
		}
	}

	for _, f := range res.Forgets {
		switch {
		case strings.HasPrefix(f.TargetID, store.PrefixFact):
			fact, err := s.GetFact(f.TargetID)
			if err != nil || fact.UserAffirmed {
				continue
			}
			if err := s.RetractFact(f.TargetID, "sleep: "+f.Reason); err != nil {
				log.Warnw("sleep: forget apply failed", "fact", f.TargetID, "err", err)
			}
		case strings.HasPrefix(f.TargetID, store.PrefixEpisode):
			ep, err := s.GetEpisode(f.TargetID)
			if err != nil {
				continue
			}
			// Demote rather than delete: halve utility.
			if err := s.UpdateEpisodeScores(f.TargetID, ep.EmotionalSalience, ep.UtilityScore/2); err != nil {
				log.Warnw("sleep: episode demote failed", "episode", f.TargetID, "err", err)
			}
		}
	}
}

var patternTypes = map[string]bool{
	"behavioral": true, "preference": true, "temporal": true,
	"causal": true, "association": true,
}

func filterPatterns(in []DiscoveredPattern) []DiscoveredPattern {
	out := in[:0]
	for _, p := range in {
		if patternTypes[p.Type] && p.Statement != "" {
			out = append(out, p)
		}
	}
	return out
}

var connectionKinds = map[string]bool{
	"similar": true, "causal": true, "temporal": true,
	"contradicts": true, "elaborates": true,
}

func filterConnections(in []ConnectionProposal) []ConnectionProposal {
	out := in[:0]
	for _, c := range in {
		if connectionKinds[c.Kind] && c.SourceID != "" && c.TargetID != "" && c.SourceID != c.TargetID {
			out = append(out, c)
		}
	}
	return out
}

var forgetReasons = map[string]bool{
	"redundant": true, "outdated": true, "low_value": true,
	"superseded": true, "contradicted": true,
}

func filterForgets(in []ForgetRecommendation) []ForgetRecommendation {
	out := in[:0]
	for _, f := range in {
		if forgetReasons[f.Reason] && f.TargetID != "" {
			out = append(out, f)
		}
	}
	return out
}

// renderSnapshot serializes the memory snapshot for the sub-pass prompts.
func renderSnapshot(episodes []*store.Episode, facts []*store.Fact, links []*store.CausalLink) string {
	var sb strings.Builder
	sb.WriteString("EPISODES:\n")
	for _, ep := range episodes {
		fmt.Fprintf(&sb, "%s [%s] %s\n", ep.ID, ep.Timestamp.Format("2006-01-02"), ep.Summary)
	}
	sb.WriteString("\nFACTS:\n")
	for _, f := range facts {
		fmt.Fprintf(&sb, "%s (%s, %s, %s) conf=%.2f\n", f.ID, f.Subject, f.Predicate, f.Object, f.Confidence)
	}
	sb.WriteString("\nCAUSAL LINKS:\n")
	for _, l := range links {
		fmt.Fprintf(&sb, "%s %s -> %s conf=%.2f\n", l.ID, l.CauseDesc, l.EffectDesc, l.Confidence)
	}
	return sb.String()
}

func patternsPrompt(snapshot string) string {
	return `Review this agent memory snapshot and identify recurring patterns.
Return ONLY JSON: {"patterns": [{"type": "behavioral|preference|temporal|causal|association", "statement": "...", "confidence": 0.0-1.0, "memoryIds": ["..."]}]}

` + snapshot
}

func consolidatePrompt(snapshot string) string {
	return `Find groups of facts with the same subject and predicate whose objects describe the same thing, and propose merges.
Return ONLY JSON: {"merges": [{"factIds": ["..."], "subject": "...", "predicate": "...", "object": "merged value"}]}
Only propose a merge when the facts are genuinely redundant.

` + snapshot
}

func connectionsPrompt(snapshot string) string {
	return `Propose connections between memories that are not yet linked.
Return ONLY JSON: {"connections": [{"kind": "similar|causal|temporal|contradicts|elaborates", "sourceId": "...", "targetId": "...", "note": "..."}]}

` + snapshot
}

func forgettingPrompt(snapshot string) string {
	return `Recommend memories that can be forgotten.
Return ONLY JSON: {"forgets": [{"targetId": "...", "reason": "redundant|outdated|low_value|superseded|contradicted", "confidence": 0.0-1.0}]}
Never recommend forgetting user-affirmed facts.

` + snapshot
}
