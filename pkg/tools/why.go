package tools

import (
	"fmt"
	"strings"

	"github.com/kittclouds/sheep/internal/store"
)

// ChainLink is one hop in a causal explanation.
type ChainLink struct {
	LinkID     string  `json:"linkId"`
	Cause      string  `json:"cause"`
	Effect     string  `json:"effect"`
	Mechanism  string  `json:"mechanism,omitempty"`
	Confidence float64 `json:"confidence"`
}

// CausalChain explains an effect: the backwards chain of links, a
// composite confidence (product of per-link confidences), and a
// natural-language rendering.
type CausalChain struct {
	Effect          string      `json:"effect"`
	Chain           []ChainLink `json:"chain"`
	TotalConfidence float64     `json:"totalConfidence"`
	Explanation     string      `json:"explanation"`
}

// BuildCausalChain walks stored causal links backwards from the
// requested effect, matching link effect descriptions against the query
// and then each cause description in turn. Bounded-depth; ties break on
// higher confidence; each stored link is used at most once, but an
// effect description reached again through a different link is
// followed again.
func BuildCausalChain(s *store.Store, effect string, maxDepth int) (*CausalChain, error) {
	links, err := s.ListCausalLinks(0)
	if err != nil {
		return nil, err
	}

	chain := &CausalChain{Effect: effect, TotalConfidence: 1}
	visited := map[string]bool{}
	target := effect

	for depth := 0; depth < maxDepth; depth++ {
		best := pickLink(links, target, visited)
		if best == nil {
			break
		}
		visited[best.ID] = true
		chain.Chain = append(chain.Chain, ChainLink{
			LinkID:     best.ID,
			Cause:      best.CauseDesc,
			Effect:     best.EffectDesc,
			Mechanism:  best.Mechanism,
			Confidence: best.Confidence,
		})
		chain.TotalConfidence *= best.Confidence
		target = best.CauseDesc
	}

	if len(chain.Chain) == 0 {
		chain.TotalConfidence = 0
		chain.Explanation = fmt.Sprintf("No causal history recorded for %q.", effect)
		return chain, nil
	}

	chain.Explanation = renderExplanation(chain)
	return chain, nil
}

// pickLink finds the unvisited link whose effect best matches the
// target description, preferring higher confidence.
func pickLink(links []*store.CausalLink, target string, visited map[string]bool) *store.CausalLink {
	targetLow := strings.ToLower(strings.TrimSpace(target))
	var best *store.CausalLink
	for _, l := range links {
		if visited[l.ID] {
			continue
		}
		if !descMatches(strings.ToLower(l.EffectDesc), targetLow) {
			continue
		}
		if best == nil || l.Confidence > best.Confidence {
			best = l
		}
	}
	return best
}

// descMatches accepts containment in either direction, so "C" matches
// an effect recorded as "event C happened".
func descMatches(desc, target string) bool {
	if desc == "" || target == "" {
		return false
	}
	return strings.Contains(desc, target) || strings.Contains(target, desc)
}

// renderExplanation narrates the chain root-cause first.
func renderExplanation(chain *CausalChain) string {
	var sb strings.Builder
	for i := len(chain.Chain) - 1; i >= 0; i-- {
		link := chain.Chain[i]
		if sb.Len() == 0 {
			fmt.Fprintf(&sb, "%s led to %s", link.Cause, link.Effect)
		} else {
			fmt.Fprintf(&sb, ", which led to %s", link.Effect)
		}
		if link.Mechanism != "" {
			fmt.Fprintf(&sb, " (%s)", link.Mechanism)
		}
	}
	fmt.Fprintf(&sb, ". Overall confidence: %.2f.", chain.TotalConfidence)
	return sb.String()
}
