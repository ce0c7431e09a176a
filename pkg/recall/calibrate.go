package recall

import (
	"regexp"
	"strings"
)

// Calibrate deterministically post-processes a raw model answer:
// markdown and hedging prefixes are stripped, explanatory clauses cut,
// and type-specific extraction applied (first date for when, first
// clause for where/what, first number for how many/much).
func Calibrate(raw string, qt QuestionType, query string) string {
	answer := strings.TrimSpace(raw)
	answer = stripMarkdown(answer)
	answer = stripPrefixes(answer)
	answer = stripExplanations(answer)
	answer = resolveParenthetical(answer)

	switch qt {
	case QuestionDate:
		if date := extractDate(answer); date != "" {
			answer = date
		}
	case QuestionCount:
		if num := extractNumber(answer); num != "" {
			answer = num
		}
	case QuestionDuration:
		if dur := extractDuration(answer); dur != "" {
			answer = dur
		}
	default:
		q := strings.ToLower(query)
		if strings.HasPrefix(q, "where") || strings.HasPrefix(q, "what") {
			answer = firstClause(answer)
		}
	}

	return strings.TrimRight(strings.TrimSpace(answer), ".,;: ")
}

func stripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "`", "")
	s = strings.TrimPrefix(s, "# ")
	s = strings.TrimPrefix(s, "- ")
	return s
}

var answerPrefixes = []string{
	"based on the facts provided, ",
	"based on the facts, ",
	"based on the conversation, ",
	"based on my memory, ",
	"based on the information, ",
	"according to the facts, ",
	"according to my memory, ",
	"the answer is ",
	"the answer would be ",
	"it appears that ",
	"it seems that ",
	"i believe ",
}

func stripPrefixes(s string) string {
	for changed := true; changed; {
		changed = false
		low := strings.ToLower(s)
		for _, p := range answerPrefixes {
			if strings.HasPrefix(low, p) {
				s = s[len(p):]
				changed = true
				break
			}
		}
	}
	if len(s) > 0 {
		// Re-capitalize after prefix removal is deliberately skipped:
		// answers are compared case-insensitively downstream.
		s = strings.TrimSpace(s)
	}
	return s
}

var explanationMarkers = []string{
	" because ", " since ", " which means ", " as mentioned", " as stated",
	", because", ", since", ", which",
}

func stripExplanations(s string) string {
	for _, m := range explanationMarkers {
		if idx := strings.Index(strings.ToLower(s), m); idx > 0 {
			s = s[:idx]
		}
	}
	return s
}

var parenPattern = regexp.MustCompile(`\(([^)]*)\)`)

// resolveParenthetical handles "about seven (7) people": when the
// parenthetical holds a bare number it replaces the phrase around it;
// otherwise parentheticals are dropped.
func resolveParenthetical(s string) string {
	m := parenPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	inner := strings.TrimSpace(m[1])
	if inner != "" && numberPattern.FindString(inner) == inner {
		return inner
	}
	return strings.TrimSpace(parenPattern.ReplaceAllString(s, ""))
}

var datePattern = regexp.MustCompile(`(?i)((?:the\s+(?:week|day|month)\s+(?:before|after)\s+)?\d{1,2}\s+(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4})`)
var isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// extractDate pulls the first date-like token, preserving qualifier
// phrases like "the week before 9 June 2023".
func extractDate(s string) string {
	if m := datePattern.FindString(s); m != "" {
		return m
	}
	return isoDatePattern.FindString(s)
}

var numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)

var numberWords = map[string]string{
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	"ten": "10", "eleven": "11", "twelve": "12",
}

// extractNumber returns the first numeric token, normalizing English
// number words to digits.
func extractNumber(s string) string {
	if m := numberPattern.FindString(s); m != "" {
		return m
	}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, `.,!?:;"'()`)
		if d, ok := numberWords[tok]; ok {
			return d
		}
	}
	return ""
}

var durationPattern = regexp.MustCompile(`(?i)\b(?:\d+|a|an|` + wordAlternation() + `)\s+(?:second|minute|hour|day|week|month|year)s?\b`)

func wordAlternation() string {
	words := make([]string, 0, len(numberWords))
	for w := range numberWords {
		words = append(words, w)
	}
	return strings.Join(words, "|")
}

func extractDuration(s string) string {
	return durationPattern.FindString(s)
}

// firstClause keeps the text before the first comma or semicolon.
func firstClause(s string) string {
	if idx := strings.IndexAny(s, ",;"); idx > 0 {
		return s[:idx]
	}
	return s
}
