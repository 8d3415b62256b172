// Package openai implements the Provider interface on top of the official
// OpenAI Go SDK.
package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"kronos/internal/provider"
	"kronos/pkg/logger"
)

// Compile-time interface check.
var _ provider.Provider = (*OpenAIProvider)(nil)

const (
	// DefaultModel matches the model the context budget defaults are tuned for.
	DefaultModel = "gpt-4"

	// DefaultTimeout bounds a single request, not the retry loop around it.
	DefaultTimeout = 2 * time.Minute

	providerName = "openai"
)

// Config holds OpenAI provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider implements provider.Provider for the OpenAI chat completions API.
type OpenAIProvider struct {
	client oai.Client
	model  string
}

// New creates an OpenAI provider.
//
// The SDK's own retry loop is disabled: rate limits must surface as
// provider.ErrCodeRateLimited so the generation client applies its backoff
// schedule exactly once.
func New(cfg Config) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}

	return &OpenAIProvider{
		client: oai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func init() {
	provider.Register("openai", func(s provider.Settings) (provider.Provider, error) {
		return New(Config{
			APIKey:  s.APIKey,
			BaseURL: s.BaseURL,
			Model:   s.Model,
			Timeout: s.Timeout,
		}), nil
	})
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return providerName
}

// Model returns the default model used when a request does not name one.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request and returns the first choice.
func (p *OpenAIProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeInvalidRequest, "no messages", providerName)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	params := oai.ChatCompletionNewParams{
		Messages: convertMessages(req.Messages),
		Model:    model,
	}
	if req.Temperature != 0 {
		params.Temperature = oai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		// Caller cancellation is not a service verdict.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyError(err)
	}

	if len(completion.Choices) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeEmptyResponse, "no choices in response", providerName)
	}

	choice := completion.Choices[0]
	logger.Debug().
		Str("model", model).
		Int64("prompt_tokens", completion.Usage.PromptTokens).
		Int64("completion_tokens", completion.Usage.CompletionTokens).
		Msg("openai completion")

	return &provider.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &provider.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

func convertMessages(messages []provider.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case provider.RoleSystem:
			out = append(out, oai.SystemMessage(msg.Content))
		case provider.RoleAssistant:
			out = append(out, oai.AssistantMessage(msg.Content))
		default:
			out = append(out, oai.UserMessage(msg.Content))
		}
	}
	return out
}

// classifyError converts an SDK or transport error to a ProviderError.
func classifyError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		pe := &provider.ProviderError{
			Code:       codeForStatus(apiErr.StatusCode, apiErr.Code),
			Message:    apiErr.Message,
			Provider:   providerName,
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
		if pe.Message == "" {
			pe.Message = http.StatusText(apiErr.StatusCode)
		}
		if apiErr.Response != nil {
			if s := apiErr.Response.Header.Get("Retry-After"); s != "" {
				if secs, convErr := strconv.Atoi(s); convErr == nil {
					pe.RetryAfter = secs
				}
			}
		}
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &provider.ProviderError{
			Code:     provider.ErrCodeTimeout,
			Message:  "request timed out",
			Provider: providerName,
			Err:      err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &provider.ProviderError{
			Code:     provider.ErrCodeNetworkError,
			Message:  netErr.Error(),
			Provider: providerName,
			Err:      err,
		}
	}

	// Unclassified: surfaces as an unknown error to the caller.
	return err
}

func codeForStatus(status int, apiCode string) provider.ErrorCode {
	switch {
	case status == http.StatusTooManyRequests && apiCode == "insufficient_quota":
		return provider.ErrCodeQuotaExceeded
	case status == http.StatusTooManyRequests:
		return provider.ErrCodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.ErrCodeAuthFailed
	case status == http.StatusNotFound:
		return provider.ErrCodeModelNotFound
	case status == http.StatusBadRequest && apiCode == "context_length_exceeded":
		return provider.ErrCodeContextWindowExceeded
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return provider.ErrCodeInvalidRequest
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return provider.ErrCodeTimeout
	case status >= 500:
		return provider.ErrCodeServiceUnavailable
	default:
		return provider.ErrCodeUnknown
	}
}
