// Package llm sends single-prompt chat completions to the generative model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/bull/flc-rag/internal/embedding"
	"github.com/bull/flc-rag/internal/ratelimit"
)

const (
	// DefaultModel is the chat model (or Azure deployment) used for extraction.
	DefaultModel = "gpt-4o"

	// DefaultMaxTokens is the maximum prompt length before truncation (in tokens).
	DefaultMaxTokens = 100000

	// DefaultTimeout bounds a single completion call, retries included.
	DefaultTimeout = 120 * time.Second
)

// ErrProvider wraps every failure of the generative model call.
var ErrProvider = errors.New("llm provider error")

// Completer answers a prompt with the model's raw text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Model     string
	Timeout   time.Duration
	MaxTokens int
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger
}

// Client completes prompts with deterministic (temperature 0) chat completions.
type Client struct {
	client    *openai.Client
	model     string
	timeout   time.Duration
	maxTokens int
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

// NewClient creates a completion client on top of the shared OpenAI client.
func NewClient(client *embedding.Client, opts Options) *Client {
	c := &Client{
		client:    client.Client(),
		model:     opts.Model,
		timeout:   opts.Timeout,
		maxTokens: opts.MaxTokens,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.limiter == nil {
		c.limiter = ratelimit.Unlimited()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Model returns the chat model (or Azure deployment) name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends prompt as a single user message and returns the first choice.
// Errors wrap ErrProvider.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt = c.truncatePrompt(prompt)

	var content string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model:       openai.ChatModel(c.model),
			Temperature: openai.Float(0),
		})
		if err != nil {
			if delay, ok := embedding.RetryAfter(err); ok && delay > 0 {
				c.limiter.Backoff(delay)
			}
			if embedding.IsRetryable(err) {
				c.logger.Debug("retrying completion", "model", c.model, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}

		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("completion returned no choices"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("%w: chat completion failed: %w", ErrProvider, err)
	}
	return content, nil
}

// truncatePrompt truncates the prompt to fit within token limits.
// Uses rough estimate of 4 characters per token and cuts on a rune boundary.
func (c *Client) truncatePrompt(prompt string) string {
	maxChars := c.maxTokens * 4

	if len(prompt) <= maxChars {
		return prompt
	}

	c.logger.Warn("truncating prompt",
		"from_chars", len(prompt), "to_chars", maxChars, "estimated_tokens", c.maxTokens)

	cut := maxChars
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut]
}
