package consolidation

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/sheep/internal/jsonx"
	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/store"
)

// Verdict is the resolution outcome for a contradicting fact pair.
type Verdict string

const (
	VerdictKeepFirst  Verdict = "keep_first"
	VerdictKeepSecond Verdict = "keep_second"
	VerdictKeepBoth   Verdict = "keep_both"
	VerdictMerge      Verdict = "merge"
	VerdictNeedsUser  Verdict = "needs_user_input"
)

// Resolution carries a verdict plus the merged object when the verdict
// is merge.
type Resolution struct {
	Verdict Verdict `json:"verdict"`
	Merged  string  `json:"merged,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

const resolvePromptTemplate = `Two remembered facts about the same subject conflict.

Existing: %s %s %s (confidence %.2f, last confirmed %s%s)
Incoming: %s %s %s (confidence %.2f%s)

Decide which belief to keep. Return ONLY a JSON object:
{"verdict": "keep_first|keep_second|keep_both|merge|needs_user_input", "merged": "merged value if verdict is merge", "reason": "one short sentence"}

keep_first keeps the existing fact, keep_second the incoming one.
Prefer user-affirmed statements, then recency, then confidence.`

// ResolveContradiction decides between an existing fact and an incoming
// candidate for a unique-per-subject predicate. The LLM is consulted
// first; any failure falls back to the deterministic rule resolver.
func ResolveContradiction(ctx context.Context, client llm.Client, existing *store.Fact, incoming *store.Fact) Resolution {
	if client != nil && client.Available() {
		if res, err := resolveLLM(ctx, client, existing, incoming); err == nil {
			return res
		}
	}
	return resolveRules(existing, incoming)
}

func resolveLLM(ctx context.Context, client llm.Client, existing, incoming *store.Fact) (Resolution, error) {
	affirmedTag := func(f *store.Fact) string {
		if f.UserAffirmed {
			return ", user affirmed"
		}
		return ""
	}
	prompt := fmt.Sprintf(resolvePromptTemplate,
		existing.Subject, existing.Predicate, existing.Object,
		existing.Confidence, existing.LastConfirmed.Format("2006-01-02"), affirmedTag(existing),
		incoming.Subject, incoming.Predicate, incoming.Object,
		incoming.Confidence, affirmedTag(incoming))

	raw, err := llm.CompleteWithRetry(ctx, client, prompt, llm.Options{
		MaxTokens:   128,
		Temperature: 0,
		JSONMode:    true,
	}, llm.ExtractionRetry)
	if err != nil {
		return Resolution{}, err
	}

	var res Resolution
	if err := jsonx.Unmarshal(raw, &res); err != nil {
		return Resolution{}, err
	}
	switch res.Verdict {
	case VerdictKeepFirst, VerdictKeepSecond, VerdictKeepBoth, VerdictMerge, VerdictNeedsUser:
	default:
		return Resolution{}, fmt.Errorf("consolidation: unknown verdict %q", res.Verdict)
	}
	if res.Verdict == VerdictMerge && strings.TrimSpace(res.Merged) == "" {
		return Resolution{}, fmt.Errorf("consolidation: merge verdict without merged value")
	}
	return res, nil
}

// resolveRules is the deterministic fallback. Priority: user-affirmed
// wins, then more recent lastConfirmed, then higher confidence, then
// more evidence.
func resolveRules(existing, incoming *store.Fact) Resolution {
	pick := func(v Verdict, why string) Resolution {
		return Resolution{Verdict: v, Reason: why}
	}

	if existing.UserAffirmed != incoming.UserAffirmed {
		if existing.UserAffirmed {
			return pick(VerdictKeepFirst, "existing fact is user affirmed")
		}
		return pick(VerdictKeepSecond, "incoming fact is user affirmed")
	}
	if !existing.LastConfirmed.Equal(incoming.LastConfirmed) {
		if incoming.LastConfirmed.After(existing.LastConfirmed) {
			return pick(VerdictKeepSecond, "incoming fact is more recent")
		}
		return pick(VerdictKeepFirst, "existing fact is more recent")
	}
	if existing.Confidence != incoming.Confidence {
		if incoming.Confidence > existing.Confidence {
			return pick(VerdictKeepSecond, "incoming fact has higher confidence")
		}
		return pick(VerdictKeepFirst, "existing fact has higher confidence")
	}
	if len(incoming.Evidence) > len(existing.Evidence) {
		return pick(VerdictKeepSecond, "incoming fact has more evidence")
	}
	return pick(VerdictKeepFirst, "existing fact has at least as much evidence")
}
