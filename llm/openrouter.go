package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel       = "openrouter/auto"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 512
	DefaultAttempts    = 2

	defaultRetryStep   = 300 * time.Millisecond
	defaultRetryJitter = 200 * time.Millisecond
)

var _ Completer = (*OpenRouter)(nil)

// OpenRouter talks to any OpenAI compatible chat completions API, OpenRouter by default.
type OpenRouter struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	attempts    int
	retryStep   time.Duration
	retryJitter time.Duration
	log         zerolog.Logger
}

type OpenRouterOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	// SiteURL and AppTitle identify the calling app to OpenRouter.
	SiteURL     string
	AppTitle    string
	Temperature float64
	MaxTokens   int
	Attempts    int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

type OpenRouterOption func(*OpenRouter)

// WithRetryDelay overrides the wait between attempts.
func WithRetryDelay(step, jitter time.Duration) OpenRouterOption {
	return func(o *OpenRouter) {
		o.retryStep = step
		o.retryJitter = jitter
	}
}

func NewOpenRouter(opts OpenRouterOptions, options ...OpenRouterOption) (*OpenRouter, error) {
	if opts.APIKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidPayload, "completion API key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/") + "/"),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(0),
	}
	if opts.SiteURL != "" {
		clientOpts = append(clientOpts, option.WithHeader("HTTP-Referer", opts.SiteURL))
	}
	if opts.AppTitle != "" {
		clientOpts = append(clientOpts, option.WithHeader("X-Title", opts.AppTitle))
	}

	o := &OpenRouter{
		client:      openai.NewClient(clientOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		attempts:    opts.Attempts,
		retryStep:   defaultRetryStep,
		retryJitter: defaultRetryJitter,
		log:         opts.Logger.With().Str("component", "openrouter").Logger(),
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

func (o *OpenRouter) params(messages []Message) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    converted,
		Temperature: openai.Float(o.temperature),
		MaxTokens:   openai.Int(int64(o.maxTokens)),
	}
}

// retry runs op up to the configured number of attempts.
func (o *OpenRouter) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: o.retryStep, jitter: o.retryJitter}, uint64(o.attempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		o.log.Warn().Err(err).Dur("retry_in", wait).Msg("upstream not ok")
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		o.log.Error().Err(err).Msg("upstream failed after retries")
		return fmt.Errorf("%w: %w", errors.ErrUpstream, err)
	}
	return nil
}

func (o *OpenRouter) Complete(ctx context.Context, messages []Message) (string, error) {
	params := o.params(messages)

	var content string
	err := o.retry(ctx, func() error {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		var parts []string
		for _, choice := range resp.Choices {
			parts = append(parts, choice.Message.Content)
		}
		content = strings.TrimSpace(strings.Join(parts, ""))
		return nil
	})
	if err != nil {
		return "", err
	}
	if content == "" {
		o.log.Warn().Msg("empty content from upstream")
	}
	return content, nil
}

// Stream retries only until the first delta has been forwarded.
func (o *OpenRouter) Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error) {
	params := o.params(messages)

	var reply strings.Builder
	err := o.retry(ctx, func() error {
		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				reply.WriteString(choice.Delta.Content)
				if err := onDelta(choice.Delta.Content); err != nil {
					return backoff.Permanent(err)
				}
			}
		}
		if err := stream.Err(); err != nil {
			if reply.Len() > 0 {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	})
	return reply.String(), err
}
