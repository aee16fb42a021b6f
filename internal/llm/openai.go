package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client         openai.Client
	model          string
	requestTimeout time.Duration
	retry          retryPolicy
}

func NewOpenAIClient(apiKey, baseURL, model string, requestTimeout time.Duration, maxRetries int, retryBase time.Duration) *OpenAIClient {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// The SDK already retries on its own; transient handling lives in
		// our retry policy so both providers behave the same.
		option.WithMaxRetries(0),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	return &OpenAIClient{
		client:         openai.NewClient(opts...),
		model:          strings.TrimSpace(model),
		requestTimeout: requestTimeout,
		retry:          newRetryPolicy(maxRetries, retryBase),
	}
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

// OnRetry registers a callback fired once per backoff.
func (c *OpenAIClient) OnRetry(fn func()) {
	c.retry.onRetry = fn
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := contextWithDefaultTimeout(ctx, c.requestTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	}

	return c.retry.run(ctx, func() (string, bool, error) {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isContextError(err) {
				return "", false, err
			}
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return "", retryableStatus(apiErr.StatusCode), err
			}
			return "", true, err
		}

		if len(completion.Choices) == 0 {
			return "", true, errors.New("provider returned no choices")
		}
		text := strings.TrimSpace(completion.Choices[0].Message.Content)
		if text == "" {
			return "", true, ErrEmptyCompletion
		}
		return text, false, nil
	})
}
