package recall

import (
	"sort"
	"strings"

	"github.com/orsinium-labs/stopwords"

	"github.com/kittclouds/sheep/internal/store"
)

// maxRetrievedFacts caps memory-mode retrieval, ranked by confidence.
const maxRetrievedFacts = 100

var questionStopwords = stopwords.MustGet("en")

// queryTokens returns the non-stopword tokens of a question. When every
// token is a stopword, the tokens of three or more characters are used
// instead, so short questions still reach their facts.
func queryTokens(query string) []string {
	var out, fallback []string
	for _, tok := range strings.Fields(canonicalize(query)) {
		if len(tok) >= 3 {
			fallback = append(fallback, tok)
		}
		if len(tok) < 2 || questionStopwords.Contains(tok) {
			continue
		}
		out = append(out, tok)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// retrieveFacts selects the facts relevant to a question from the
// session's cached snapshot. Hop one keeps facts mentioning any
// question token; for inference questions, hop two adds facts whose
// subject appears inside hop one's objects.
func retrieveFacts(facts []*store.Fact, query string, qt QuestionType) []*store.Fact {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil
	}

	selected := make([]*store.Fact, 0, 32)
	seen := map[string]bool{}

	for _, f := range facts {
		if mentionsAny(f, tokens) {
			selected = append(selected, f)
			seen[f.ID] = true
		}
	}

	if qt == QuestionMultiHop {
		// Hop two: subjects referenced by hop-one objects.
		var objects []string
		for _, f := range selected {
			objects = append(objects, canonicalize(f.Object))
		}
		for _, f := range facts {
			if seen[f.ID] {
				continue
			}
			subject := canonicalize(f.Subject)
			if subject == "" {
				continue
			}
			for _, obj := range objects {
				if strings.Contains(obj, subject) {
					selected = append(selected, f)
					seen[f.ID] = true
					break
				}
			}
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Confidence > selected[j].Confidence
	})
	if len(selected) > maxRetrievedFacts {
		selected = selected[:maxRetrievedFacts]
	}
	return selected
}

// mentionsAny reports whether any question token appears in the fact's
// subject, predicate, or object.
func mentionsAny(f *store.Fact, tokens []string) bool {
	haystack := canonicalize(f.Subject + " " + f.Predicate + " " + f.Object)
	padded := " " + haystack + " "
	for _, tok := range tokens {
		if strings.Contains(padded, " "+tok+" ") || strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}
