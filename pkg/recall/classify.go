// Package recall answers natural-language questions against the memory
// store: deterministic question classification, fact retrieval with an
// adversarial-question filter, LLM answer synthesis, and calibrated
// post-processing. Every failure path degrades to a valid answer.
package recall

import "strings"

// QuestionType drives retrieval depth, prompt instructions, and the
// synthesis token budget.
type QuestionType string

const (
	QuestionSingleHop QuestionType = "single_hop"
	QuestionMultiHop  QuestionType = "multi_hop"
	QuestionDate      QuestionType = "temporal_date"
	QuestionDuration  QuestionType = "temporal_duration"
	QuestionYesNo     QuestionType = "yes_no"
	QuestionCount     QuestionType = "count"
)

var yesNoOpeners = []string{
	"is ", "are ", "was ", "were ", "do ", "does ", "did ",
	"has ", "have ", "had ", "can ", "could ", "will ", "would ", "should ",
}

var inferenceCues = []string{
	"why", "how come", "what might", "what would", "infer",
	"relationship between", "connected", "because of",
}

// Classify assigns a question type with lexical rules only. No model
// involvement: the classification must be stable and free.
func Classify(query string) QuestionType {
	q := strings.ToLower(strings.TrimSpace(query))

	switch {
	case strings.HasPrefix(q, "how many") || strings.HasPrefix(q, "how much") || strings.HasPrefix(q, "how often"):
		return QuestionCount
	case strings.HasPrefix(q, "how long") || strings.Contains(q, "duration"):
		return QuestionDuration
	case strings.HasPrefix(q, "when") || strings.Contains(q, "what date") || strings.Contains(q, "which day") || strings.Contains(q, "what year"):
		return QuestionDate
	}

	for _, cue := range inferenceCues {
		if strings.Contains(q, cue) {
			return QuestionMultiHop
		}
	}
	for _, opener := range yesNoOpeners {
		if strings.HasPrefix(q, opener) {
			return QuestionYesNo
		}
	}
	return QuestionSingleHop
}

// tokenBudget returns the synthesis cap for a question type.
func tokenBudget(qt QuestionType) int {
	switch qt {
	case QuestionYesNo, QuestionCount, QuestionDuration:
		return 15
	case QuestionMultiHop:
		return 60
	default:
		return 30
	}
}

// typeInstructions returns the answer-shaping instruction appended to
// the synthesis prompt.
func typeInstructions(qt QuestionType) string {
	switch qt {
	case QuestionYesNo:
		return "Answer with Yes or No, optionally followed by at most three words."
	case QuestionCount:
		return "Answer with the number only."
	case QuestionDuration:
		return "Answer with the duration only, e.g. \"3 weeks\"."
	case QuestionDate:
		return "Answer with the date only, e.g. \"9 June 2023\". If the memory says \"the week before\" a date, keep that phrase."
	case QuestionMultiHop:
		return "Reason over the facts and answer in one short sentence."
	default:
		return "Answer in as few words as possible, with no explanation."
	}
}
