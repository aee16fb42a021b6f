package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client         anthropic.Client
	model          string
	requestTimeout time.Duration
	retry          retryPolicy
}

func NewAnthropicClient(apiKey, model string, requestTimeout time.Duration, maxRetries int, retryBase time.Duration) *AnthropicClient {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &AnthropicClient{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          strings.TrimSpace(model),
		requestTimeout: requestTimeout,
		retry:          newRetryPolicy(maxRetries, retryBase),
	}
}

func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// OnRetry registers a callback fired once per backoff.
func (c *AnthropicClient) OnRetry(fn func()) {
	c.retry.onRetry = fn
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := contextWithDefaultTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return c.retry.run(ctx, func() (string, bool, error) {
		message, err := c.client.Messages.New(ctx, params)
		if err != nil {
			if isContextError(err) {
				return "", false, err
			}
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				return "", retryableStatus(apiErr.StatusCode), err
			}
			return "", true, err
		}

		text := extractAnthropicText(message)
		if text == "" {
			return "", true, ErrEmptyCompletion
		}
		return text, false, nil
	})
}

func extractAnthropicText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}
