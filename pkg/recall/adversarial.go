package recall

import (
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"

	"github.com/kittclouds/sheep/internal/store"
)

// NoInformation is the literal returned when the adversarial filter
// fires. Callers and tests compare against it exactly.
const NoInformation = "No information available."

// personFactThreshold: subjects with at least this many facts are
// treated as person entities the filter can protect.
const personFactThreshold = 20

// adversarialRatio: another entity owning this multiple of the named
// entity's keyword weight marks the question adversarial.
const adversarialRatio = 3

// EntityIndex maps person entities to keyword co-occurrence counts and
// scans questions for entity mentions with one Aho-Corasick automaton.
type EntityIndex struct {
	counts  map[string]map[string]int // entity -> keyword -> count
	ac      *ahocorasick.Automaton
	names   []string // pattern index -> entity name
	checker *stopwords.Stopwords
}

// BuildEntityIndex derives the index from the active belief set.
func BuildEntityIndex(facts []*store.Fact) (*EntityIndex, error) {
	perSubject := map[string][]*store.Fact{}
	for _, f := range facts {
		if !isPersonName(f.Subject) {
			continue
		}
		key := canonicalize(f.Subject)
		perSubject[key] = append(perSubject[key], f)
	}

	idx := &EntityIndex{
		counts:  map[string]map[string]int{},
		checker: stopwords.MustGet("en"),
	}
	for name, subjectFacts := range perSubject {
		if len(subjectFacts) < personFactThreshold {
			continue
		}
		kw := map[string]int{}
		for _, f := range subjectFacts {
			for _, tok := range idx.tokenize(f.Predicate + " " + f.Object) {
				kw[tok]++
			}
		}
		idx.counts[name] = kw
		idx.names = append(idx.names, name)
	}

	if len(idx.names) > 0 {
		ac, err := ahocorasick.NewBuilder().
			AddStrings(idx.names).
			SetMatchKind(ahocorasick.LeftmostLongest).
			SetPrefilter(true).
			Build()
		if err != nil {
			return nil, err
		}
		idx.ac = ac
	}
	return idx, nil
}

// IsAdversarial reports whether the question names one person entity but
// asks about keywords that belong to another: the named entity's
// co-occurrence is zero while another's is non-zero, or another's is at
// least three times the named entity's.
func (idx *EntityIndex) IsAdversarial(query string) bool {
	if idx == nil || idx.ac == nil {
		return false
	}

	canonical := canonicalize(query)
	named := ""
	for _, m := range idx.ac.FindAllOverlapping([]byte(canonical)) {
		candidate := idx.names[m.PatternID]
		if wordBounded(canonical, m.Start, m.End) {
			named = candidate
			break
		}
	}
	if named == "" {
		return false
	}

	keywords := idx.distinctiveKeywords(canonical, named)
	if len(keywords) == 0 {
		return false
	}

	namedCount := keywordWeight(idx.counts[named], keywords)
	for entity, counts := range idx.counts {
		if entity == named {
			continue
		}
		otherCount := keywordWeight(counts, keywords)
		if otherCount == 0 {
			continue
		}
		if namedCount == 0 || otherCount >= adversarialRatio*namedCount {
			return true
		}
	}
	return false
}

// distinctiveKeywords are the question tokens minus stopwords and the
// named entity's own tokens.
func (idx *EntityIndex) distinctiveKeywords(canonicalQuery, named string) []string {
	nameTokens := map[string]bool{}
	for _, t := range strings.Fields(named) {
		nameTokens[t] = true
	}
	var out []string
	for _, tok := range idx.tokenize(canonicalQuery) {
		if nameTokens[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func keywordWeight(counts map[string]int, keywords []string) int {
	total := 0
	for _, kw := range keywords {
		total += counts[kw]
	}
	return total
}

// tokenize canonicalizes, splits, and drops stopwords and short tokens.
func (idx *EntityIndex) tokenize(text string) []string {
	var out []string
	for _, tok := range strings.Fields(canonicalize(text)) {
		if len(tok) < 3 {
			continue
		}
		if idx.checker != nil && idx.checker.Contains(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// canonicalize folds text for matching: lowercase, letters, digits and
// hyphens kept, everything else collapsed to single spaces. Possessives split
// off their apostrophe so "Melanie's" still matches the entity
// "melanie". The same form is used for index patterns and question
// scanning so multiword names match consistently.
func canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		switch {
		case unicode.IsLetter(c) || unicode.IsDigit(c) || c == '-':
			out.WriteRune(c)
			lastWasSpace = false
		default:
			if !lastWasSpace {
				out.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}
	return strings.TrimSpace(out.String())
}

// wordBounded checks the match does not sit inside a longer word.
func wordBounded(s string, start, end int) bool {
	if start > 0 && s[start-1] != ' ' {
		return false
	}
	if end < len(s) && s[end] != ' ' {
		return false
	}
	return true
}

// isPersonName treats capitalized one- or two-token subjects (other than
// the canonical user) as person names.
func isPersonName(subject string) bool {
	subject = strings.TrimSpace(subject)
	if subject == "" || strings.EqualFold(subject, "user") {
		return false
	}
	tokens := strings.Fields(subject)
	if len(tokens) > 3 {
		return false
	}
	for _, tok := range tokens {
		r := []rune(tok)
		if !unicode.IsUpper(r[0]) {
			return false
		}
	}
	return true
}
