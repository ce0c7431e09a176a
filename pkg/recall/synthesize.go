package recall

import (
	"fmt"
	"strings"

	"github.com/kittclouds/sheep/internal/store"
)

// buildPrompt composes the synthesis prompt: session-date header,
// context block, question, and the type-specific instruction.
func buildPrompt(query string, qt QuestionType, facts []*store.Fact, transcript, sessionDate string) string {
	var sb strings.Builder

	if sessionDate != "" {
		fmt.Fprintf(&sb, "Today's session date: %s\n\n", sessionDate)
	}

	if len(facts) > 0 {
		sb.WriteString("KNOWN FACTS:\n")
		for _, f := range facts {
			fmt.Fprintf(&sb, "- %s %s %s", f.Subject, humanPredicate(f.Predicate), f.Object)
			if f.Confidence < 0.7 {
				sb.WriteString(" (uncertain)")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if transcript != "" {
		sb.WriteString("CONVERSATION:\n")
		sb.WriteString(transcript)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "QUESTION: %s\n\n", query)
	sb.WriteString(typeInstructions(qt))
	sb.WriteString("\nIf the context does not contain the answer, say \"No information available.\"")
	return sb.String()
}

// humanPredicate renders works_at as "works at" for the prompt.
func humanPredicate(p string) string {
	return strings.ReplaceAll(p, "_", " ")
}

// degradedAnswer names up to five supporting facts verbatim plus a short
// diagnostic suffix. Used whenever synthesis cannot run; recall never
// surfaces a raw failure.
func degradedAnswer(facts []*store.Fact, diagnostic string) string {
	if len(facts) == 0 {
		return NoInformation + " (" + diagnostic + ")"
	}
	var sb strings.Builder
	sb.WriteString("From memory: ")
	limit := len(facts)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		if i > 0 {
			sb.WriteString("; ")
		}
		f := facts[i]
		fmt.Fprintf(&sb, "%s %s %s", f.Subject, humanPredicate(f.Predicate), f.Object)
	}
	sb.WriteString(" (" + diagnostic + ")")
	return sb.String()
}
