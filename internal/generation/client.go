// Package generation wraps a text-generation provider with the retry and
// fallback discipline used for every conversational call.
package generation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"kronos/internal/provider"
	"kronos/pkg/logger"
)

// Fixed prompts and fallback texts.
const (
	// DefaultSystemPrompt is the system instruction for conversational turns.
	DefaultSystemPrompt = "You are a helpful assistant."

	summarizeInstruction = "Please summarize the following user's prompt to the minimal amount of characters necessary, ensuring that the key information is retained for maintaining context in future conversations. Focus on the main points and core details:\n\n"

	previousContextPrefix = "Previous context: "

	// SummaryFallback is returned by Summarize when the service cannot produce one.
	SummaryFallback = "Summary could not be generated."

	// ResponseFallback is returned by Generate when the service cannot produce one.
	ResponseFallback = "Sorry, I am unable to process your request at the moment."
)

// Config configures a Client.
type Config struct {
	// Model overrides the provider's default model when set.
	Model string

	// SummaryMaxTokens is used when Summarize is called with maxTokens <= 0.
	// Default: 100
	SummaryMaxTokens int

	// SummaryTemperature is the sampling temperature for summaries.
	// Default: 0.5
	SummaryTemperature float64

	// Retry is the rate-limit retry policy.
	Retry RetryPolicy
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		SummaryMaxTokens:   100,
		SummaryTemperature: 0.5,
		Retry:              DefaultRetryPolicy(),
	}
}

// Client issues generate and summarize calls against a Provider.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	provider provider.Provider
	config   Config
	log      zerolog.Logger
}

// NewClient creates a Client.
func NewClient(p provider.Provider, config Config) *Client {
	if config.SummaryMaxTokens <= 0 {
		config.SummaryMaxTokens = 100
	}
	config.Retry = config.Retry.normalized()
	return &Client{
		provider: p,
		config:   config,
		log:      logger.Component("generation"),
	}
}

// Generate answers userMessage. The request carries the system prompt, the
// rolling context as a second system message when non-empty, then the user
// message. A service error yields ResponseFallback with a nil error.
func (c *Client) Generate(ctx context.Context, systemPrompt, contextText, userMessage string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	messages := []provider.Message{provider.SystemMessage(systemPrompt)}
	if contextText != "" {
		messages = append(messages, provider.SystemMessage(previousContextPrefix+contextText))
	}
	messages = append(messages, provider.UserMessage(userMessage))

	return c.call(ctx, "generate", provider.ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
	}, ResponseFallback)
}

// Summarize compresses text to at most maxTokens completion tokens.
// A service error yields SummaryFallback with a nil error.
func (c *Client) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.config.SummaryMaxTokens
	}
	return c.call(ctx, "summarize", provider.ChatRequest{
		Model:       c.config.Model,
		Messages:    []provider.Message{provider.SystemMessage(summarizeInstruction + text)},
		MaxTokens:   maxTokens,
		Temperature: c.config.SummaryTemperature,
	}, SummaryFallback)
}

// call runs req under the retry policy. Rate limits are retried with
// exponential backoff; any other service error ends the call at once.
// Both outcomes return the fallback text. Unclassified errors and
// cancellation are returned as errors.
func (c *Client) call(ctx context.Context, op string, req provider.ChatRequest, fallback string) (string, error) {
	if c.provider == nil {
		return "", ErrNoProvider
	}
	policy := c.config.Retry

	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		resp, err := c.provider.Chat(ctx, req)
		if err == nil {
			return resp.Content, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !provider.IsServiceError(err) {
			c.log.Error().Err(err).Str("op", op).Int("attempt", attempt).Msg("unclassified generation failure")
			return "", fmt.Errorf("%w: %s: %w", ErrUnknown, op, err)
		}

		if !provider.IsRateLimited(err) {
			c.log.Warn().Err(err).
				Str("op", op).
				Str("code", string(provider.CodeOf(err))).
				Msg("service error, returning fallback")
			return fallback, nil
		}

		if attempt == policy.MaxRetries {
			break
		}

		// Retry-After is logged only; the schedule is fixed.
		wait := policy.Backoff(attempt)
		event := c.log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", wait)
		if hint := provider.RetryAfterOf(err); hint > 0 {
			event = event.Dur("retry_after", hint)
		}
		event.Msg("rate limited, retrying")
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	c.log.Warn().Str("op", op).Int("attempts", policy.MaxRetries).Msg("retries exhausted, returning fallback")
	return fallback, nil
}
