package consolidation

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/store"
)

// DefaultMinRetentionScore is the pruning threshold for active
// forgetting.
const DefaultMinRetentionScore = 0.2

// Retention weights. Fixed within a build so scores are stable and the
// scoring functions stay pure.
const (
	epWeightAccess    = 0.20
	epWeightRecency   = 0.20
	epWeightSalience  = 0.20
	epWeightUtility   = 0.25
	epWeightTTL       = 0.15
	epReferencedBoost = 0.15

	factWeightConfidence     = 0.30
	factWeightRecency        = 0.25
	factWeightAccess         = 0.20
	factWeightEvidence       = 0.25
	factAffirmedFloor        = 0.90
	factContradictionPenalty = 0.10
)

// EpisodeContext is the store-derived summary EpisodeRetention needs
// beyond the episode itself.
type EpisodeContext struct {
	// ReferencedByActiveFact is true when any active fact lists the
	// episode as evidence.
	ReferencedByActiveFact bool
}

// EpisodeRetention scores an episode in [0,1]. Pure function of its
// inputs.
func EpisodeRetention(ep *store.Episode, ctx EpisodeContext, now time.Time) float64 {
	access := math.Min(1, float64(ep.AccessCount)/10)
	recency := decay(now.Sub(ep.LastAccessed), 30*24*time.Hour)

	ttlScore := 0.25
	switch ep.TTL {
	case store.TTL30Days:
		ttlScore = 0.5
	case store.TTL90Days:
		ttlScore = 0.75
	case store.TTLPermanent:
		ttlScore = 1.0
	}

	score := epWeightAccess*access +
		epWeightRecency*recency +
		epWeightSalience*ep.EmotionalSalience +
		epWeightUtility*ep.UtilityScore +
		epWeightTTL*ttlScore
	if ctx.ReferencedByActiveFact {
		score += epReferencedBoost
	}
	return clamp01(score)
}

// FactRetention scores a fact in [0,1]. User-affirmed facts floor at a
// high value and are never retracted by forgetting regardless.
func FactRetention(f *store.Fact, now time.Time) float64 {
	recency := decay(now.Sub(f.LastConfirmed), 60*24*time.Hour)
	access := math.Min(1, float64(f.AccessCount)/10)
	evidence := math.Min(1, float64(len(f.Evidence))/4)

	score := factWeightConfidence*f.Confidence +
		factWeightRecency*recency +
		factWeightAccess*access +
		factWeightEvidence*evidence
	score -= factContradictionPenalty * float64(len(f.Contradictions))

	if f.UserAffirmed && score < factAffirmedFloor {
		score = factAffirmedFloor
	}
	return clamp01(score)
}

// decay maps an age onto (0,1], halving every halfLife.
func decay(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ActiveForgetting retracts facts and hard-deletes episodes whose
// retention score falls below minScore. Returns the number of memories
// removed.
func ActiveForgetting(s *store.Store, minScore float64, log *zap.SugaredLogger) (int, error) {
	if minScore <= 0 {
		minScore = DefaultMinRetentionScore
	}
	now := time.Now().UTC()
	pruned := 0

	facts, err := s.ActiveFacts()
	if err != nil {
		return 0, fmt.Errorf("forgetting: load facts: %w", err)
	}

	referenced := map[string]bool{}
	for _, f := range facts {
		for _, ev := range f.Evidence {
			referenced[ev] = true
		}
	}

	for _, f := range facts {
		if f.UserAffirmed {
			continue
		}
		if FactRetention(f, now) >= minScore {
			continue
		}
		if err := s.RetractFact(f.ID, "forgotten: retention below threshold"); err != nil {
			log.Warnw("forgetting: retract failed", "fact", f.ID, "err", err)
			continue
		}
		pruned++
	}

	episodes, err := s.ListEpisodes(time.Time{}, time.Time{}, 0)
	if err != nil {
		return pruned, fmt.Errorf("forgetting: load episodes: %w", err)
	}
	for _, ep := range episodes {
		ctx := EpisodeContext{ReferencedByActiveFact: referenced[ep.ID]}
		if EpisodeRetention(ep, ctx, now) >= minScore {
			continue
		}
		if err := s.DeleteEpisode(ep.ID); err != nil {
			log.Warnw("forgetting: episode delete failed", "episode", ep.ID, "err", err)
			continue
		}
		pruned++
	}

	return pruned, nil
}
