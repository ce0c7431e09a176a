package extraction

import (
	"regexp"
	"strings"
	"time"
)

// Pattern extractors: deterministic rules keyed on recognizable
// linguistic cues. They run when the LLM capability is down and produce
// conservative confidences.

const patternConfidence = 0.65

var factPatterns = []struct {
	re        *regexp.Regexp
	predicate string
}{
	{regexp.MustCompile(`(?i)\bmy name is ([A-Z][\w]*(?: [A-Z][\w]*)*)`), "name_is"},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) called ([A-Z][\w]*(?: [A-Z][\w]*)*)`), "name_is"},
	{regexp.MustCompile(`(?i)\bi work (?:at|for) ([A-Z][\w&.-]*(?: [A-Z][\w&.-]*)*)`), "works_at"},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) employed (?:at|by) ([A-Z][\w&.-]*(?: [A-Z][\w&.-]*)*)`), "works_at"},
	{regexp.MustCompile(`(?i)\bi live in ([A-Z][\w]*(?: [A-Z][\w]*)*)`), "lives_in"},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) (?:based|located) in ([A-Z][\w]*(?: [A-Z][\w]*)*)`), "lives_in"},
	{regexp.MustCompile(`(?i)\bmy birthday is (?:on )?([\w ]+?)(?:[.,!]|$)`), "birthday_is"},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) married to ([A-Z][\w]*(?: [A-Z][\w]*)*)`), "married_to"},
	{regexp.MustCompile(`(?i)\bi (?:really )?(?:like|enjoy) ([\w ]+?)(?:[.,!]|$)`), "likes"},
	{regexp.MustCompile(`(?i)\bi love ([\w ]+?)(?:[.,!]|$)`), "loves"},
	{regexp.MustCompile(`(?i)\bi (?:dislike|can't stand) ([\w ]+?)(?:[.,!]|$)`), "dislikes"},
	{regexp.MustCompile(`(?i)\bi hate ([\w ]+?)(?:[.,!]|$)`), "hates"},
	{regexp.MustCompile(`(?i)\bi prefer ([\w ]+?)(?:[.,!]|$)`), "prefers"},
}

// ExtractFactsPattern applies the rule set to each user line of text.
// The canonical subject for first-person statements is "user".
func ExtractFactsPattern(text, episodeID string, opts Options) []FactCandidate {
	var out []FactCandidate
	for _, line := range strings.Split(text, "\n") {
		if idx := strings.Index(line, ":"); idx > 0 && idx < 20 {
			switch strings.ToLower(strings.TrimSpace(line[:idx])) {
			case "assistant", "system", "ai":
				continue
			}
		}
		content := stripSpeakerLabel(line)
		for _, p := range factPatterns {
			for _, m := range p.re.FindAllStringSubmatch(content, -1) {
				object := strings.TrimSpace(m[1])
				if object == "" {
					continue
				}
				out = append(out, FactCandidate{
					Subject:    "user",
					Predicate:  p.predicate,
					Object:     object,
					Confidence: patternConfidence,
					Evidence:   []string{episodeID},
				})
			}
		}
	}
	opts.MinConfidence = patternMin(opts)
	return filterFacts(CollapseFacts(out), opts)
}

// patternMin keeps the pattern family usable in general mode even though
// its fixed confidence sits above the floor anyway.
func patternMin(opts Options) float64 {
	if opts.MinConfidence > 0 {
		return opts.MinConfidence
	}
	if opts.Mode == ModePrimary {
		return MinConfidencePrimary
	}
	return MinConfidenceGeneral
}

var causalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(.+?)\s+because\s+(.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)(.+?)\s+led to\s+(.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)(.+?),?\s+so\s+(.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)(.+?)\s+caused\s+(.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)as a result of\s+(.+?),\s+(.+?)(?:[.!?]|$)`),
}

// ExtractCausalPattern finds cause -> effect pairs from connective cues.
// "because" states the effect before the cause; the rest read
// cause-first.
func ExtractCausalPattern(text, episodeID string, ref time.Time) []CausalCandidate {
	var out []CausalCandidate
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		content := stripSpeakerLabel(line)
		for i, re := range causalPatterns {
			m := re.FindStringSubmatch(content)
			if m == nil {
				continue
			}
			cause, effect := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			if i == 0 {
				// "Y because X": the effect comes first in the text.
				cause, effect = effect, cause
			}
			if len(cause) < 3 || len(effect) < 3 {
				continue
			}
			cause = ResolveRelativeTime(cause, ref)
			effect = ResolveRelativeTime(effect, ref)
			key := strings.ToLower(cause + "->" + effect)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, CausalCandidate{
				CauseDesc:  cause,
				EffectDesc: effect,
				Confidence: patternConfidence,
				Evidence:   []string{episodeID},
			})
		}
	}
	return out
}

var procedurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhen(?:ever)?\s+(.+?),\s*(?:please\s+)?(?:i\s+|you should\s+|always\s+)?(.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)\bif\s+(.+?),\s*(?:then\s+)?(.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)\bevery time\s+(.+?),\s*(.+?)(?:[.!?]|$)`),
}

// ExtractProceduresPattern finds trigger -> action rules from
// "when X then Y"-shaped phrasing.
func ExtractProceduresPattern(text, episodeID string) []ProcedureCandidate {
	var out []ProcedureCandidate
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		content := stripSpeakerLabel(line)
		for _, re := range procedurePatterns {
			m := re.FindStringSubmatch(content)
			if m == nil {
				continue
			}
			trigger, action := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			if len(trigger) < 3 || len(action) < 3 {
				continue
			}
			key := strings.ToLower(trigger + "|" + action)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ProcedureCandidate{
				Trigger:    trigger,
				Action:     action,
				Confidence: patternConfidence,
				Evidence:   []string{episodeID},
			})
		}
	}
	return out
}

var foresightPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi(?:'m| am) planning to (.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) going to (.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)\bi will (.+?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)\bnext (?:week|month|year),?\s+i(?:'ll| will)?\s*(.+?)(?:[.!?]|$)`),
}

// ExtractForesightsPattern finds forward-looking statements from intent
// cues. Descriptions run through the relative-time resolver.
func ExtractForesightsPattern(text, episodeID string, ref time.Time) []ForesightCandidate {
	var out []ForesightCandidate
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		content := stripSpeakerLabel(line)
		for _, re := range foresightPatterns {
			m := re.FindStringSubmatch(content)
			if m == nil {
				continue
			}
			desc := ResolveRelativeTime(strings.TrimSpace(m[1]), ref)
			if len(desc) < 5 {
				continue
			}
			key := strings.ToLower(desc)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ForesightCandidate{
				Description: desc,
				Confidence:  patternConfidence,
				StartTime:   ref,
				Evidence:    []string{episodeID},
			})
		}
	}
	return out
}

// SummarizeEpisodePattern is the deterministic fallback summarizer: the
// first informative sentence, trimmed, plus crude keyword selection.
func SummarizeEpisodePattern(text string, participants []string) EpisodeSummary {
	summary := firstSentence(text)
	if len(summary) > 160 {
		summary = summary[:157] + "..."
	}

	return EpisodeSummary{
		Summary:           summary,
		Topic:             "conversation",
		Keywords:          keywordGuess(text, 6),
		Participants:      participants,
		EmotionalSalience: 0.3,
		UtilityScore:      0.4,
	}
}

func firstSentence(text string) string {
	for _, line := range strings.Split(text, "\n") {
		content := stripSpeakerLabel(line)
		content = strings.TrimSpace(content)
		if len(content) < 10 {
			continue
		}
		if idx := strings.IndexAny(content, ".!?"); idx > 10 {
			return content[:idx+1]
		}
		return content
	}
	return strings.TrimSpace(text)
}

// keywordGuess picks the most frequent capitalized or long tokens.
func keywordGuess(text string, max int) []string {
	counts := map[string]int{}
	order := []string{}
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, `.,!?:;"'()`)
		if len(tok) < 5 && !(len(tok) > 0 && tok[0] >= 'A' && tok[0] <= 'Z') {
			continue
		}
		low := strings.ToLower(tok)
		if _, seen := counts[low]; !seen {
			order = append(order, low)
		}
		counts[low]++
	}
	if len(order) > max {
		order = order[:max]
	}
	return order
}

// stripSpeakerLabel drops a leading "user:" / "assistant:" marker.
func stripSpeakerLabel(line string) string {
	if idx := strings.Index(line, ":"); idx > 0 && idx < 20 {
		label := strings.ToLower(strings.TrimSpace(line[:idx]))
		switch label {
		case "user", "assistant", "system", "human", "ai":
			return strings.TrimSpace(line[idx+1:])
		}
	}
	return line
}
