// Package extraction turns raw conversation text into candidate memory
// records: facts, causal links, procedures, foresights, and episode
// summaries. Each target has two extractor families, deterministic
// pattern rules and an LLM-backed extractor, behind one service that
// prefers the LLM and falls back to patterns when the capability is
// unavailable.
package extraction

import (
	"strings"
	"time"
)

// Mode selects the extraction profile.
type Mode string

const (
	// ModeGeneral accepts any well-formed candidate above the general
	// confidence floor.
	ModeGeneral Mode = "general"
	// ModePrimary keeps only high-confidence biographical facts.
	ModePrimary Mode = "primary"
)

// Per-mode minimum confidence floors.
const (
	MinConfidenceGeneral = 0.60
	MinConfidencePrimary = 0.85
)

// MaxTextLength caps the characters sent to the LLM per call.
const MaxTextLength = 8000

// Options tune one extraction call.
type Options struct {
	MinConfidence float64
	MaxCount      int
	Mode          Mode
}

// floor resolves the effective confidence floor for the options.
func (o Options) floor() float64 {
	if o.MinConfidence > 0 {
		return o.MinConfidence
	}
	if o.Mode == ModePrimary {
		return MinConfidencePrimary
	}
	return MinConfidenceGeneral
}

// biographicalPredicates gate ModePrimary: only these survive the
// primary-biographical filter.
var biographicalPredicates = map[string]bool{
	"name_is":     true,
	"works_at":    true,
	"lives_in":    true,
	"birthday_is": true,
	"married_to":  true,
	"age_is":      true,
	"born_in":     true,
	"studied_at":  true,
}

// FactCandidate is an extracted subject-predicate-object triple without
// identity or timestamps; the store assigns those on insert.
type FactCandidate struct {
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// CausalCandidate is an extracted cause -> effect edge.
type CausalCandidate struct {
	CauseDesc     string   `json:"cause"`
	EffectDesc    string   `json:"effect"`
	Mechanism     string   `json:"mechanism,omitempty"`
	Confidence    float64  `json:"confidence"`
	TemporalDelay string   `json:"temporalDelay,omitempty"`
	Evidence      []string `json:"evidence"`
}

// ProcedureCandidate is an extracted trigger -> action pattern.
type ProcedureCandidate struct {
	Trigger         string   `json:"trigger"`
	Action          string   `json:"action"`
	ExpectedOutcome string   `json:"expectedOutcome,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Confidence      float64  `json:"confidence"`
	Evidence        []string `json:"evidence"`
}

// ForesightCandidate is a forward-looking expectation.
type ForesightCandidate struct {
	Description  string    `json:"description"`
	Confidence   float64   `json:"confidence"`
	StartTime    time.Time `json:"startTime"`
	DurationDays int       `json:"durationDays,omitempty"`
	Evidence     []string  `json:"evidence"`
}

// EpisodeSummary is the structured digest of a conversational segment.
type EpisodeSummary struct {
	Summary           string   `json:"summary"`
	Topic             string   `json:"topic"`
	Keywords          []string `json:"keywords"`
	Participants      []string `json:"participants"`
	EmotionalSalience float64  `json:"emotionalSalience"`
	UtilityScore      float64  `json:"utilityScore"`
}

// NormalizePredicate lowercases and underscore-joins a predicate
// ("Works At" -> "works_at").
func NormalizePredicate(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	return strings.Join(strings.Fields(p), "_")
}

// CollapseFacts removes exact SPO duplicates and near-duplicates (same
// subject+predicate where one object contains the other), keeping the
// higher-confidence instance. Order of first appearance is preserved.
func CollapseFacts(in []FactCandidate) []FactCandidate {
	out := make([]FactCandidate, 0, len(in))
	for _, cand := range in {
		cand.Predicate = NormalizePredicate(cand.Predicate)
		merged := false
		for i := range out {
			if !strings.EqualFold(out[i].Subject, cand.Subject) ||
				out[i].Predicate != cand.Predicate {
				continue
			}
			a := strings.ToLower(out[i].Object)
			b := strings.ToLower(cand.Object)
			if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
				if cand.Confidence > out[i].Confidence {
					out[i] = cand
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, cand)
		}
	}
	return out
}

// filterFacts applies the confidence floor, the primary-biographical
// gate, and the count cap.
func filterFacts(cands []FactCandidate, opts Options) []FactCandidate {
	floor := opts.floor()
	out := make([]FactCandidate, 0, len(cands))
	for _, c := range cands {
		c.Predicate = NormalizePredicate(c.Predicate)
		if c.Subject == "" || c.Predicate == "" || c.Object == "" {
			continue
		}
		if c.Confidence < floor {
			continue
		}
		if opts.Mode == ModePrimary && !biographicalPredicates[c.Predicate] {
			continue
		}
		out = append(out, c)
		if opts.MaxCount > 0 && len(out) >= opts.MaxCount {
			break
		}
	}
	return out
}

func truncateText(text string) string {
	if len(text) > MaxTextLength {
		return text[:MaxTextLength]
	}
	return text
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
