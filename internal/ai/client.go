package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// ErrModelUnavailable marks model failures the caller should absorb with a
// degraded answer instead of surfacing to the client.
var ErrModelUnavailable = errors.New("ai: model unavailable")

// CompletionRequest carries one question with its data context already
// rendered into the system prompt.
type CompletionRequest struct {
	SystemPrompt string
	Question     string
	MaxTokens    int
}

// CompletionResponse reports the answer text and the provider-reported total
// token usage. UsedTokens falls back to zero when the provider omits usage.
type CompletionResponse struct {
	Text       string
	UsedTokens int
}

// ModelClient is the single seam between the insights pipeline and a model
// provider.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Options configure the OpenAI-backed client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client wraps the official OpenAI SDK.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("ai: api key required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("ai: model required")
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}

	client := openai.NewClient(requestOpts...)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{client: &client, model: opts.Model, timeout: timeout}, nil
}

// Complete runs a non-streaming chat completion under the configured
// deadline. Transport failures, provider errors, and deadline expiry all
// come back wrapped in ErrModelUnavailable.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.Question),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("%w: empty completion", ErrModelUnavailable)
	}

	return CompletionResponse{
		Text:       resp.Choices[0].Message.Content,
		UsedTokens: int(resp.Usage.TotalTokens),
	}, nil
}
