package extraction

import (
	"fmt"
	"strings"
	"time"
)

// SystemPrompt instructs the LLM to return structured JSON only.
const SystemPrompt = `You are a memory extraction assistant for a conversational agent.
Extract structured memory records from the given conversation.
Return ONLY a valid JSON object. No markdown, no explanation.
Start with { and end with }.`

// BuildFactsPrompt asks for subject-predicate-object triples.
func BuildFactsPrompt(text string, sessionDate time.Time) string {
	var sb strings.Builder
	sb.WriteString("Extract factual statements from this conversation as subject-predicate-object triples.\n")
	sb.WriteString("Return a JSON object: {\"facts\": [...]}.\n\n")
	sb.WriteString("Each fact object:\n")
	sb.WriteString("- \"subject\": Who or what the fact is about. Use \"user\" for the person speaking (string)\n")
	sb.WriteString("- \"predicate\": The relation, lowercase with underscores, e.g. works_at, lives_in, likes (string)\n")
	sb.WriteString("- \"object\": The value (string)\n")
	sb.WriteString("- \"confidence\": 0.0-1.0 (number)\n\n")
	sb.WriteString("RULES:\n")
	sb.WriteString("1. Extract only EXPLICIT statements, never assumptions\n")
	sb.WriteString("2. One atomic fact per triple\n")
	sb.WriteString("3. Skip greetings and meta-conversation\n")
	sb.WriteString("4. confidence >= 0.8 only for unambiguous statements\n")
	if !sessionDate.IsZero() {
		fmt.Fprintf(&sb, "5. The conversation happened on %s; resolve relative dates against it\n",
			sessionDate.Format(dateLayout))
	}
	sb.WriteString("\nCONVERSATION:\n")
	sb.WriteString(truncateText(text))
	return sb.String()
}

// BuildCausalPrompt asks for cause -> effect links. The session date is
// required so the model can ground temporal references.
func BuildCausalPrompt(text string, sessionDate time.Time) string {
	var sb strings.Builder
	sb.WriteString("Extract causal relationships from this conversation.\n")
	sb.WriteString("Return a JSON object: {\"causalLinks\": [...]}.\n\n")
	sb.WriteString("Each link object:\n")
	sb.WriteString("- \"cause\": What happened first, verbatim from the text (string)\n")
	sb.WriteString("- \"effect\": What it led to, verbatim from the text (string)\n")
	sb.WriteString("- \"mechanism\": How the cause produced the effect (string)\n")
	sb.WriteString("- \"confidence\": 0.0-1.0 (number)\n")
	sb.WriteString("- \"temporalDelay\": Optional time gap between cause and effect (string)\n\n")
	sb.WriteString("RULES:\n")
	sb.WriteString("1. Only relationships the speaker actually asserts\n")
	sb.WriteString("2. At most 2 links\n")
	fmt.Fprintf(&sb, "3. The conversation happened on %s; rewrite any relative dates (yesterday, last week) as absolute dates\n",
		sessionDate.Format(dateLayout))
	sb.WriteString("\nCONVERSATION:\n")
	sb.WriteString(truncateText(text))
	return sb.String()
}

// BuildProceduresPrompt asks for reusable trigger -> action patterns.
func BuildProceduresPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Extract reusable behavioral rules the user expressed, as trigger -> action patterns.\n")
	sb.WriteString("Return a JSON object: {\"procedures\": [...]}.\n\n")
	sb.WriteString("Each procedure object:\n")
	sb.WriteString("- \"trigger\": The situation (string)\n")
	sb.WriteString("- \"action\": What to do when it occurs (string)\n")
	sb.WriteString("- \"expectedOutcome\": Optional result the user expects (string)\n")
	sb.WriteString("- \"tags\": Optional topical tags (string[])\n")
	sb.WriteString("- \"confidence\": 0.0-1.0 (number)\n\n")
	sb.WriteString("Only extract patterns meant to recur, like \"when I share code, review it for security\".\n")
	sb.WriteString("\nCONVERSATION:\n")
	sb.WriteString(truncateText(text))
	return sb.String()
}

// BuildForesightsPrompt asks for forward-looking expectations.
func BuildForesightsPrompt(text string, sessionDate time.Time) string {
	var sb strings.Builder
	sb.WriteString("Extract the user's plans and upcoming events from this conversation.\n")
	sb.WriteString("Return a JSON object: {\"foresights\": [...]}.\n\n")
	sb.WriteString("Each foresight object:\n")
	sb.WriteString("- \"description\": The expected future event, self-contained (string)\n")
	sb.WriteString("- \"confidence\": 0.0-1.0 (number)\n")
	sb.WriteString("- \"durationDays\": Optional expected duration in days (number)\n\n")
	fmt.Fprintf(&sb, "The conversation happened on %s; state dates absolutely.\n",
		sessionDate.Format(dateLayout))
	sb.WriteString("\nCONVERSATION:\n")
	sb.WriteString(truncateText(text))
	return sb.String()
}

// BuildSummaryPrompt asks for a one-line episode digest with scores.
func BuildSummaryPrompt(text string, sessionDate time.Time) string {
	var sb strings.Builder
	sb.WriteString("Summarize this conversational segment as an episodic memory.\n")
	sb.WriteString("Return a JSON object with:\n")
	sb.WriteString("- \"summary\": One sentence describing what happened (string)\n")
	sb.WriteString("- \"topic\": One or two words (string)\n")
	sb.WriteString("- \"keywords\": Up to 8 salient terms (string[])\n")
	sb.WriteString("- \"participants\": Speaker labels present (string[])\n")
	sb.WriteString("- \"emotionalSalience\": 0.0-1.0, how emotionally charged (number)\n")
	sb.WriteString("- \"utilityScore\": 0.0-1.0, how useful to remember (number)\n")
	if !sessionDate.IsZero() {
		fmt.Fprintf(&sb, "The conversation happened on %s.\n", sessionDate.Format(dateLayout))
	}
	sb.WriteString("\nCONVERSATION:\n")
	sb.WriteString(truncateText(text))
	return sb.String()
}
