package consolidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
	"github.com/kittclouds/sheep/pkg/extraction"
)

// ClientFactory obtains a completion capability. The pipeline retries it
// during bootstrap and degrades to pattern-only mode when it keeps
// failing.
type ClientFactory func() (llm.Client, error)

// foresightPrefixLen is the normalized-prefix length used to dedupe
// foresights.
const foresightPrefixLen = 40

// Config tunes one pipeline instance.
type Config struct {
	MaxEpisodesPerRun int
	ExtractionMode    extraction.Mode
	EnableSleep       bool
	SleepPasses       SleepOptions
	MinRetentionScore float64
	Limits            store.Limits
	EmbedDedupe       bool
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxEpisodesPerRun: 50,
		ExtractionMode:    extraction.ModeGeneral,
		EnableSleep:       true,
		SleepPasses:       AllSleepPasses(),
		MinRetentionScore: DefaultMinRetentionScore,
		Limits:            store.DefaultLimits(),
	}
}

// Pipeline runs the consolidation sleep cycle for one agent.
type Pipeline struct {
	store    *store.Store
	source   SessionSource
	factory  ClientFactory
	embedder llm.Embedder
	cfg      Config
	log      *zap.SugaredLogger
}

// NewPipeline assembles a pipeline. embedder may be nil; the online
// synthesis dedupe then falls back to SPO equality.
func NewPipeline(s *store.Store, source SessionSource, factory ClientFactory, embedder llm.Embedder, cfg Config, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.MaxEpisodesPerRun <= 0 {
		cfg.MaxEpisodesPerRun = 50
	}
	if cfg.Limits == (store.Limits{}) {
		cfg.Limits = store.DefaultLimits()
	}
	return &Pipeline{store: s, source: source, factory: factory, embedder: embedder, cfg: cfg, log: log}
}

// bootstrapRetry covers LLM acquisition: 3 attempts, 1s/2s/4s.
var bootstrapRetry = llm.RetryPolicy{Attempts: 3, Initial: time.Second, Factor: 2, Max: 10 * time.Second}

// Run executes the full sleep cycle. The returned run record carries
// counters and terminal status; err is non-nil only for fatal-stage
// failures.
func (p *Pipeline) Run(ctx context.Context) (*store.ConsolidationRun, error) {
	started := time.Now()

	// Stage 1: bootstrap the LLM capability; degrade, never fail.
	client := p.bootstrapClient(ctx)
	svc := extraction.NewService(client)
	if !svc.LLMAvailable() {
		p.log.Warnw("consolidation degraded to pattern-only mode")
	}

	// Stage 2: compute the window and open the run record.
	from := time.Time{}
	if last, err := p.store.LastCompletedRun(); err == nil {
		from = last.ProcessedTo
	}
	to := time.Now().UTC()

	run := &store.ConsolidationRun{ProcessedFrom: from, ProcessedTo: to}
	if err := p.store.OpenRun(run); err != nil {
		return nil, fmt.Errorf("consolidation: open run: %w", err)
	}

	fail := func(stage string, err error) (*store.ConsolidationRun, error) {
		run.Status = store.RunFailed
		run.Error = fmt.Sprintf("%s: %v", stage, err)
		run.Duration = time.Since(started)
		if closeErr := p.store.CloseRun(run); closeErr != nil {
			p.log.Errorw("consolidation: close failed run", "err", closeErr)
		}
		return run, fmt.Errorf("consolidation %s: %w", stage, err)
	}

	// Stage 3: collect and segment the window's sessions.
	sessions := p.source.SessionsBetween(from, to)
	run.SessionsProcessed = len(sessions)

	var segments []Segment
	for _, sess := range sessions {
		segments = append(segments, SegmentSession(sess)...)
	}
	if len(segments) > p.cfg.MaxEpisodesPerRun {
		segments = segments[:p.cfg.MaxEpisodesPerRun]
	}

	// Stages 3-5: episodes, facts, contradiction resolution.
	type storedEpisode struct {
		ep  *store.Episode
		seg Segment
	}
	var stored []storedEpisode

	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return fail("cancelled", err)
		}

		sum, err := svc.SummarizeEpisode(ctx, seg.Transcript, participants(seg.Messages), seg.Date)
		if err != nil {
			return fail("episode extraction", err)
		}
		ep := &store.Episode{
			Timestamp:         seg.Date,
			Summary:           sum.Summary,
			Participants:      sum.Participants,
			Topic:             sum.Topic,
			Keywords:          sum.Keywords,
			EmotionalSalience: sum.EmotionalSalience,
			UtilityScore:      sum.UtilityScore,
			SessionID:         seg.SessionID,
			MessageIDs:        messageIDs(seg.Messages),
			TTL:               ttlFor(sum),
		}
		if err := p.store.InsertEpisode(ep); err != nil {
			return fail("episode insert", err)
		}
		run.EpisodesCreated++
		stored = append(stored, storedEpisode{ep: ep, seg: seg})

		facts, err := svc.ExtractFacts(ctx, seg.Transcript, ep.ID, seg.Date, extraction.Options{Mode: p.cfg.ExtractionMode})
		if err != nil {
			return fail("fact extraction", err)
		}
		for _, cand := range facts {
			inserted, resolved, err := p.upsertFact(ctx, client, cand, ep.ID, run.ID)
			if err != nil {
				return fail("fact insert", err)
			}
			if inserted {
				run.FactsExtracted++
			}
			run.ContradictionsResolved += resolved
		}
	}

	// Stage 6: mirror preference facts. Best-effort.
	if facts, err := p.store.ActiveFacts(); err == nil {
		if _, err := MirrorPreferences(p.store, facts); err != nil {
			p.log.Warnw("consolidation: preference mirroring failed", "err", err)
		}
	} else {
		p.log.Warnw("consolidation: preference load failed", "err", err)
	}

	// Stage 7: procedures, deduped by lowercase trigger+action.
	for _, se := range stored {
		procs, err := svc.ExtractProcedures(ctx, se.seg.Transcript, se.ep.ID)
		if err != nil {
			p.log.Warnw("consolidation: procedure extraction failed", "episode", se.ep.ID, "err", err)
			continue
		}
		for _, cand := range procs {
			if existing, err := p.store.FindProcedure(cand.Trigger, cand.Action); err == nil && existing != nil {
				continue
			}
			proc := &store.Procedure{
				Trigger:         cand.Trigger,
				Action:          cand.Action,
				ExpectedOutcome: cand.ExpectedOutcome,
				Examples:        []string{se.ep.ID},
				Tags:            cand.Tags,
			}
			if err := p.store.InsertProcedure(proc); err != nil {
				p.log.Warnw("consolidation: procedure insert failed", "err", err)
				continue
			}
			run.ProceduresLearned++
		}
	}

	// Stage 8: causal links, LLM-only, capped per episode.
	if svc.LLMAvailable() {
		for _, se := range stored {
			links, err := svc.ExtractCausalLinks(ctx, se.seg.Transcript, se.ep.ID, se.seg.Date)
			if err != nil {
				p.log.Warnw("consolidation: causal extraction failed", "episode", se.ep.ID, "err", err)
				continue
			}
			for _, cand := range links {
				link := &store.CausalLink{
					CauseType:     store.CauseEpisode,
					CauseID:       se.ep.ID,
					CauseDesc:     cand.CauseDesc,
					EffectType:    store.CauseEpisode,
					EffectID:      se.ep.ID,
					EffectDesc:    cand.EffectDesc,
					Mechanism:     cand.Mechanism,
					Confidence:    cand.Confidence,
					Evidence:      cand.Evidence,
					TemporalDelay: cand.TemporalDelay,
				}
				if err := p.store.InsertCausalLink(link); err != nil {
					p.log.Warnw("consolidation: causal insert failed", "err", err)
					continue
				}
				run.CausalLinksFound++
			}
		}
	}

	// Stage 9: foresights, LLM-only, deduped by normalized prefix.
	if svc.LLMAvailable() {
		for _, se := range stored {
			foresights, err := svc.ExtractForesights(ctx, se.seg.Transcript, se.ep.ID, se.seg.Date)
			if err != nil {
				p.log.Warnw("consolidation: foresight extraction failed", "episode", se.ep.ID, "err", err)
				continue
			}
			for _, cand := range foresights {
				prefix := foresightPrefix(cand.Description)
				if dup, err := p.store.HasForesightPrefix(CanonicalUser, prefix); err != nil || dup {
					continue
				}
				fs := &store.Foresight{
					UserID:          CanonicalUser,
					Description:     cand.Description,
					Confidence:      cand.Confidence,
					StartTime:       cand.StartTime,
					DurationDays:    cand.DurationDays,
					SourceEpisodeID: se.ep.ID,
				}
				if err := p.store.InsertForesight(fs); err != nil {
					p.log.Warnw("consolidation: foresight insert failed", "err", err)
				}
			}
		}
	}

	// Stage 10: profile discrimination. Best-effort.
	if facts, err := p.store.ActiveFacts(); err == nil {
		if err := p.store.UpsertProfile(BuildProfile(facts)); err != nil {
			p.log.Warnw("consolidation: profile upsert failed", "err", err)
		}
	}

	// Stage 11: LLM sleep.
	if p.cfg.EnableSleep && svc.LLMAvailable() {
		if res, err := RunSleep(ctx, p.store, client, p.cfg.SleepPasses, p.log); err != nil {
			p.log.Warnw("consolidation: sleep failed", "err", err)
		} else {
			ApplySleepResult(p.store, res, run.ID, p.log)
		}
	}

	// Stage 12: active forgetting. Best-effort.
	if pruned, err := ActiveForgetting(p.store, p.cfg.MinRetentionScore, p.log); err != nil {
		p.log.Warnw("consolidation: active forgetting failed", "err", err)
	} else {
		run.MemoriesPruned += pruned
	}

	// Stage 13: size-limit enforcement. Fatal.
	report, err := p.store.EnforceLimits(p.cfg.Limits)
	if err != nil {
		return fail("limit enforcement", err)
	}
	run.MemoriesPruned += report.Total()

	// Stage 14: finalize.
	run.Status = store.RunCompleted
	run.Duration = time.Since(started)
	if err := p.store.CloseRun(run); err != nil {
		return nil, fmt.Errorf("consolidation: finalize: %w", err)
	}

	p.log.Infow("consolidation completed",
		"run", run.ID,
		"episodes", run.EpisodesCreated,
		"facts", run.FactsExtracted,
		"contradictions", run.ContradictionsResolved,
		"causalLinks", run.CausalLinksFound,
		"pruned", run.MemoriesPruned,
		"duration", run.Duration)
	return run, nil
}

// bootstrapClient obtains the completion capability with up to three
// attempts and exponential backoff. Returns nil when unobtainable.
func (p *Pipeline) bootstrapClient(ctx context.Context) llm.Client {
	if p.factory == nil {
		return nil
	}
	for attempt := 0; attempt < bootstrapRetry.Attempts; attempt++ {
		if wait := bootstrapRetry.Backoff(attempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
		}
		client, err := p.factory()
		if err == nil && client != nil && client.Available() {
			return client
		}
		p.log.Warnw("consolidation: llm bootstrap attempt failed", "attempt", attempt+1, "err", err)
	}
	return nil
}

// upsertFact applies the contradiction-aware insert of stages 4-5.
// Returns whether a new fact was inserted and how many contradictions
// were resolved.
func (p *Pipeline) upsertFact(ctx context.Context, client llm.Client, cand extraction.FactCandidate, episodeID, runID string) (bool, int, error) {
	incoming := &store.Fact{
		Subject:       cand.Subject,
		Predicate:     cand.Predicate,
		Object:        cand.Object,
		Confidence:    cand.Confidence,
		Evidence:      cand.Evidence,
		LastConfirmed: time.Now().UTC(),
	}

	existing, err := p.store.QueryFacts(store.FactFilter{
		Subject:    cand.Subject,
		Predicate:  cand.Predicate,
		ActiveOnly: true,
	})
	if err != nil {
		return false, 0, err
	}

	// Exact SPO match reconfirms instead of duplicating.
	for _, f := range existing {
		if strings.EqualFold(f.Object, cand.Object) {
			return false, 0, p.store.ConfirmFact(f.ID, cand.Confidence, episodeID)
		}
	}

	// Embedding dedupe: a near-identical belief reconfirms its neighbour.
	if p.cfg.EmbedDedupe && p.embedder != nil {
		if dupID := p.findEmbeddingDuplicate(ctx, incoming); dupID != "" {
			return false, 0, p.store.ConfirmFact(dupID, cand.Confidence, episodeID)
		}
	}

	resolved := 0
	var conflicts []*store.Fact
	if store.UniquePredicates[cand.Predicate] {
		for _, f := range existing {
			res := ResolveContradiction(ctx, client, f, incoming)
			resolved++
			switch res.Verdict {
			case VerdictKeepFirst:
				p.recordConflict(f, incoming)
				return false, resolved, nil
			case VerdictKeepSecond:
				reason := res.Reason
				if reason == "" {
					reason = "superseded by newer belief"
				}
				if err := p.store.RetractFact(f.ID, reason); err != nil {
					return false, resolved, err
				}
			case VerdictMerge:
				if err := p.store.ModifyFact(f.ID, res.Merged, maxF(f.Confidence, incoming.Confidence), "merged conflicting beliefs"); err != nil {
					return false, resolved, err
				}
				return false, resolved, nil
			case VerdictKeepBoth, VerdictNeedsUser:
				// Both survive; the conflict is recorded once the incoming
				// fact is inserted.
				conflicts = append(conflicts, f)
			}
		}
	}

	if err := p.store.InsertFact(incoming); err != nil {
		return false, resolved, err
	}
	for _, f := range conflicts {
		p.recordConflict(f, incoming)
	}
	p.storeEmbedding(ctx, incoming)
	return true, resolved, nil
}

// recordConflict links the contradicting pair when both rows exist.
func (p *Pipeline) recordConflict(existing, incoming *store.Fact) {
	if incoming.ID == "" {
		return
	}
	if err := p.store.AddContradiction(existing.ID, incoming.ID); err != nil {
		p.log.Warnw("consolidation: contradiction bookkeeping failed", "err", err)
	}
}

// findEmbeddingDuplicate returns the id of a near-identical stored fact.
func (p *Pipeline) findEmbeddingDuplicate(ctx context.Context, f *store.Fact) string {
	vec, err := p.embedder.Embed(ctx, f.Subject+" "+f.Predicate+" "+f.Object)
	if err != nil {
		return ""
	}
	nearest, err := p.store.NearestFacts(vec, 1)
	if err != nil || len(nearest) == 0 {
		return ""
	}
	// vec0 reports squared L2 over normalized embeddings; below 0.15 the
	// two statements say the same thing.
	if nearest[0].Distance < 0.15 {
		return nearest[0].FactID
	}
	return ""
}

func (p *Pipeline) storeEmbedding(ctx context.Context, f *store.Fact) {
	if !p.cfg.EmbedDedupe || p.embedder == nil {
		return
	}
	vec, err := p.embedder.Embed(ctx, f.Subject+" "+f.Predicate+" "+f.Object)
	if err != nil {
		return
	}
	if err := p.store.UpsertFactEmbedding(f.ID, vec); err != nil {
		p.log.Warnw("consolidation: embedding store failed", "fact", f.ID, "err", err)
	}
}

// foresightPrefix normalizes a description to its dedupe prefix.
func foresightPrefix(desc string) string {
	desc = strings.ToLower(strings.TrimSpace(desc))
	if len(desc) > foresightPrefixLen {
		desc = desc[:foresightPrefixLen]
	}
	return desc
}

// ttlFor assigns a retention bucket from the summary's scores.
func ttlFor(sum *extraction.EpisodeSummary) store.TTLBucket {
	switch {
	case sum.UtilityScore >= 0.8 || sum.EmotionalSalience >= 0.8:
		return store.TTLPermanent
	case sum.UtilityScore >= 0.6:
		return store.TTL90Days
	case sum.UtilityScore >= 0.3:
		return store.TTL30Days
	default:
		return store.TTL7Days
	}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
