package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayout renders resolved dates the way they appear in answers
// ("9 June 2023").
const dateLayout = "2 January 2006"

var (
	agoPattern  = regexp.MustCompile(`(?i)\b(a|an|one|two|three|four|five|six|seven|eight|nine|ten|\d+)\s+(day|week|month|year)s?\s+ago\b`)
	lastPattern = regexp.MustCompile(`(?i)\blast\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	nextPattern = regexp.MustCompile(`(?i)\bnext\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var smallNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// ResolveRelativeTime rewrites relative temporal expressions in text to
// absolute dates using ref as "now". Causal link cause/effect strings go
// through this before storage so later recall does not depend on when
// the conversation happened.
func ResolveRelativeTime(text string, ref time.Time) string {
	if ref.IsZero() || text == "" {
		return text
	}
	ref = ref.UTC()

	replacements := []struct {
		phrase string
		when   time.Time
	}{
		{"the day before yesterday", ref.AddDate(0, 0, -2)},
		{"yesterday", ref.AddDate(0, 0, -1)},
		{"tomorrow", ref.AddDate(0, 0, 1)},
		{"today", ref},
		{"last week", ref.AddDate(0, 0, -7)},
		{"next week", ref.AddDate(0, 0, 7)},
		{"last month", ref.AddDate(0, -1, 0)},
		{"next month", ref.AddDate(0, 1, 0)},
		{"last year", ref.AddDate(-1, 0, 0)},
	}
	for _, r := range replacements {
		text = replaceFold(text, r.phrase, r.when.Format(dateLayout))
	}

	text = agoPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := strings.Fields(strings.ToLower(m))
		if len(parts) < 3 {
			return m
		}
		n, ok := smallNumbers[parts[0]]
		if !ok {
			var err error
			n, err = strconv.Atoi(parts[0])
			if err != nil {
				return m
			}
		}
		unit := strings.TrimSuffix(parts[1], "s")
		var when time.Time
		switch unit {
		case "day":
			when = ref.AddDate(0, 0, -n)
		case "week":
			when = ref.AddDate(0, 0, -7*n)
		case "month":
			when = ref.AddDate(0, -n, 0)
		case "year":
			when = ref.AddDate(-n, 0, 0)
		default:
			return m
		}
		return when.Format(dateLayout)
	})

	text = lastPattern.ReplaceAllStringFunc(text, func(m string) string {
		day := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.ToLower(m), "last")))
		return previousWeekday(ref, weekdays[day]).Format(dateLayout)
	})
	text = nextPattern.ReplaceAllStringFunc(text, func(m string) string {
		day := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.ToLower(m), "next")))
		return nextWeekday(ref, weekdays[day]).Format(dateLayout)
	})

	return text
}

// previousWeekday returns the most recent strictly-past occurrence of wd.
func previousWeekday(ref time.Time, wd time.Weekday) time.Time {
	delta := int(ref.Weekday()) - int(wd)
	if delta <= 0 {
		delta += 7
	}
	return ref.AddDate(0, 0, -delta)
}

// nextWeekday returns the next strictly-future occurrence of wd.
func nextWeekday(ref time.Time, wd time.Weekday) time.Time {
	delta := int(wd) - int(ref.Weekday())
	if delta <= 0 {
		delta += 7
	}
	return ref.AddDate(0, 0, delta)
}

// replaceFold is a case-insensitive whole-phrase replacement.
func replaceFold(text, phrase, with string) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
	return re.ReplaceAllString(text, with)
}

// SessionDateHeader renders the marker inserted above transcript blocks
// in hybrid recall prompts.
func SessionDateHeader(sessionNum int, date string) string {
	return fmt.Sprintf("[Session %d - %s]", sessionNum, date)
}
