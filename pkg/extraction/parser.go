package extraction

import (
	"strings"
	"time"

	"github.com/kittclouds/sheep/internal/jsonx"
)

// Envelope parsers for each extraction target. jsonx handles fences,
// repair, and truncated-array salvage; the filters here supply defaults
// and drop malformed entries, mirroring the shape validation the
// prompts promise.

type factsEnvelope struct {
	Facts []FactCandidate `json:"facts"`
}

// ParseFacts decodes a facts envelope and attaches evidence.
func ParseFacts(raw, episodeID string, opts Options) ([]FactCandidate, error) {
	var env factsEnvelope
	if err := jsonx.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	for i := range env.Facts {
		if env.Facts[i].Confidence <= 0 {
			env.Facts[i].Confidence = 0.7
		}
		env.Facts[i].Confidence = clamp01(env.Facts[i].Confidence)
		env.Facts[i].Subject = strings.TrimSpace(env.Facts[i].Subject)
		env.Facts[i].Object = strings.TrimSpace(env.Facts[i].Object)
		env.Facts[i].Evidence = []string{episodeID}
	}
	return filterFacts(CollapseFacts(env.Facts), opts), nil
}

type causalEnvelope struct {
	CausalLinks []CausalCandidate `json:"causalLinks"`
}

// ParseCausalLinks decodes a causal envelope, resolving relative times
// inside the cause/effect strings against the conversation date.
func ParseCausalLinks(raw, episodeID string, ref time.Time, maxLinks int) ([]CausalCandidate, error) {
	var env causalEnvelope
	if err := jsonx.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	out := make([]CausalCandidate, 0, len(env.CausalLinks))
	for _, c := range env.CausalLinks {
		c.CauseDesc = ResolveRelativeTime(strings.TrimSpace(c.CauseDesc), ref)
		c.EffectDesc = ResolveRelativeTime(strings.TrimSpace(c.EffectDesc), ref)
		if c.CauseDesc == "" || c.EffectDesc == "" {
			continue
		}
		if c.Confidence <= 0 {
			c.Confidence = 0.6
		}
		c.Confidence = clamp01(c.Confidence)
		c.Evidence = []string{episodeID}
		out = append(out, c)
		if maxLinks > 0 && len(out) >= maxLinks {
			break
		}
	}
	return out, nil
}

type proceduresEnvelope struct {
	Procedures []ProcedureCandidate `json:"procedures"`
}

// ParseProcedures decodes a procedures envelope.
func ParseProcedures(raw, episodeID string) ([]ProcedureCandidate, error) {
	var env proceduresEnvelope
	if err := jsonx.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	out := make([]ProcedureCandidate, 0, len(env.Procedures))
	seen := map[string]bool{}
	for _, p := range env.Procedures {
		p.Trigger = strings.TrimSpace(p.Trigger)
		p.Action = strings.TrimSpace(p.Action)
		if p.Trigger == "" || p.Action == "" {
			continue
		}
		key := strings.ToLower(p.Trigger + "|" + p.Action)
		if seen[key] {
			continue
		}
		seen[key] = true
		if p.Confidence <= 0 {
			p.Confidence = 0.7
		}
		p.Confidence = clamp01(p.Confidence)
		p.Evidence = []string{episodeID}
		out = append(out, p)
	}
	return out, nil
}

type foresightsEnvelope struct {
	Foresights []ForesightCandidate `json:"foresights"`
}

// ParseForesights decodes a foresights envelope. StartTime defaults to
// the conversation date.
func ParseForesights(raw, episodeID string, ref time.Time) ([]ForesightCandidate, error) {
	var env foresightsEnvelope
	if err := jsonx.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	out := make([]ForesightCandidate, 0, len(env.Foresights))
	for _, f := range env.Foresights {
		f.Description = ResolveRelativeTime(strings.TrimSpace(f.Description), ref)
		if len(f.Description) < 5 {
			continue
		}
		if f.Confidence <= 0 {
			f.Confidence = 0.6
		}
		f.Confidence = clamp01(f.Confidence)
		if f.StartTime.IsZero() {
			f.StartTime = ref
		}
		f.Evidence = []string{episodeID}
		out = append(out, f)
	}
	return out, nil
}

// ParseSummary decodes an episode summary object.
func ParseSummary(raw string) (*EpisodeSummary, error) {
	var sum EpisodeSummary
	if err := jsonx.Unmarshal(raw, &sum); err != nil {
		return nil, err
	}
	sum.Summary = strings.TrimSpace(sum.Summary)
	sum.EmotionalSalience = clamp01(sum.EmotionalSalience)
	sum.UtilityScore = clamp01(sum.UtilityScore)
	if sum.Topic == "" {
		sum.Topic = "conversation"
	}
	return &sum, nil
}
