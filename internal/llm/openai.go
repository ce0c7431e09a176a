package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// completionTimeout is the hard ceiling on one extraction-class call.
const completionTimeout = 120 * time.Second

// OpenAIConfig configures the OpenAI-compatible completion provider.
// BaseURL may point at any compatible endpoint (OpenRouter, a local
// gateway); when APIKey is empty the client reports unavailable.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIClient adapts the openai-go SDK to the Client interface.
type OpenAIClient struct {
	client *openai.Client
	model  string
	ok     bool
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds the provider adapter.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.APIKey == "" || cfg.Model == "" {
		return &OpenAIClient{ok: false}
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{client: &client, model: cfg.Model, ok: true}
}

// Available reports whether credentials were provided.
func (c *OpenAIClient) Available() bool { return c != nil && c.ok }

// Complete performs one chat completion call.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	params.Temperature = openai.Float(opts.Temperature)
	if opts.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response from provider")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError maps provider failures onto the core's error taxonomy.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	return fmt.Errorf("llm: completion failed: %w", err)
}

// OpenAIEmbedder adapts the embeddings API to the Embedder interface.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder builds the embedding adapter; nil when unconfigured
// so callers can treat the capability as absent.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIEmbedder{client: &client, model: cfg.Model}
}

// Embed returns the vector for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llm: empty embedding response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
