package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/kittclouds/sheep/internal/llm"
)

// MaxCausalLinksPerEpisode caps causal extraction per episode.
const MaxCausalLinksPerEpisode = 2

// Service coordinates extraction across targets. It prefers the LLM
// family and falls back to the pattern family when the capability is
// unavailable; causal links and foresights are LLM-only in the pipeline
// but the pattern variants exist for callers that want them.
type Service struct {
	client llm.Client
}

// NewService creates an extraction service over the given completion
// capability. A nil or unavailable client yields pattern-only behavior.
func NewService(client llm.Client) *Service {
	return &Service{client: client}
}

// LLMAvailable reports whether the LLM family can run.
func (s *Service) LLMAvailable() bool {
	return s.client != nil && s.client.Available()
}

// ExtractFacts returns fact candidates for an episode's text.
func (s *Service) ExtractFacts(ctx context.Context, text, episodeID string, sessionDate time.Time, opts Options) ([]FactCandidate, error) {
	if !s.LLMAvailable() {
		return ExtractFactsPattern(text, episodeID, opts), nil
	}

	raw, err := llm.CompleteWithRetry(ctx, s.client, BuildFactsPrompt(text, sessionDate), llm.Options{
		MaxTokens:   1024,
		Temperature: 0.2,
		System:      SystemPrompt,
		JSONMode:    true,
	}, llm.ExtractionRetry)
	if err != nil {
		return ExtractFactsPattern(text, episodeID, opts), nil
	}

	facts, err := ParseFacts(raw, episodeID, opts)
	if err != nil {
		// Parse failure yields the empty extraction set, not an error.
		return nil, nil
	}
	return facts, nil
}

// ExtractCausalLinks returns up to MaxCausalLinksPerEpisode links.
// LLM-only: temporal grounding needs the conversation timestamp and a
// model that can restate the clauses.
func (s *Service) ExtractCausalLinks(ctx context.Context, text, episodeID string, sessionDate time.Time) ([]CausalCandidate, error) {
	if sessionDate.IsZero() {
		return nil, fmt.Errorf("extraction: causal links need a conversation timestamp")
	}
	if !s.LLMAvailable() {
		return nil, llm.ErrUnavailable
	}

	raw, err := llm.CompleteWithRetry(ctx, s.client, BuildCausalPrompt(text, sessionDate), llm.Options{
		MaxTokens:   768,
		Temperature: 0.2,
		System:      SystemPrompt,
		JSONMode:    true,
	}, llm.ExtractionRetry)
	if err != nil {
		return nil, err
	}

	links, err := ParseCausalLinks(raw, episodeID, sessionDate, MaxCausalLinksPerEpisode)
	if err != nil {
		return nil, nil
	}
	return links, nil
}

// ExtractProcedures returns procedure candidates for an episode.
func (s *Service) ExtractProcedures(ctx context.Context, text, episodeID string) ([]ProcedureCandidate, error) {
	if !s.LLMAvailable() {
		return ExtractProceduresPattern(text, episodeID), nil
	}

	raw, err := llm.CompleteWithRetry(ctx, s.client, BuildProceduresPrompt(text), llm.Options{
		MaxTokens:   768,
		Temperature: 0.2,
		System:      SystemPrompt,
		JSONMode:    true,
	}, llm.ExtractionRetry)
	if err != nil {
		return ExtractProceduresPattern(text, episodeID), nil
	}

	procs, err := ParseProcedures(raw, episodeID)
	if err != nil {
		return nil, nil
	}
	return procs, nil
}

// ExtractForesights returns foresight candidates. LLM-only in the
// pipeline.
func (s *Service) ExtractForesights(ctx context.Context, text, episodeID string, sessionDate time.Time) ([]ForesightCandidate, error) {
	if !s.LLMAvailable() {
		return nil, llm.ErrUnavailable
	}

	raw, err := llm.CompleteWithRetry(ctx, s.client, BuildForesightsPrompt(text, sessionDate), llm.Options{
		MaxTokens:   512,
		Temperature: 0.2,
		System:      SystemPrompt,
		JSONMode:    true,
	}, llm.ExtractionRetry)
	if err != nil {
		return nil, err
	}

	foresights, err := ParseForesights(raw, episodeID, sessionDate)
	if err != nil {
		return nil, nil
	}
	return foresights, nil
}

// SummarizeEpisode digests a segment into an episode summary.
func (s *Service) SummarizeEpisode(ctx context.Context, text string, participants []string, sessionDate time.Time) (*EpisodeSummary, error) {
	if !s.LLMAvailable() {
		sum := SummarizeEpisodePattern(text, participants)
		return &sum, nil
	}

	raw, err := llm.CompleteWithRetry(ctx, s.client, BuildSummaryPrompt(text, sessionDate), llm.Options{
		MaxTokens:   512,
		Temperature: 0.2,
		System:      SystemPrompt,
		JSONMode:    true,
	}, llm.ExtractionRetry)
	if err != nil {
		sum := SummarizeEpisodePattern(text, participants)
		return &sum, nil
	}

	sum, err := ParseSummary(raw)
	if err != nil {
		fallback := SummarizeEpisodePattern(text, participants)
		return &fallback, nil
	}
	if len(sum.Participants) == 0 {
		sum.Participants = participants
	}
	return sum, nil
}
