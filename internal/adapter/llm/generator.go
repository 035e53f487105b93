package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/siderolabs/go-retry/retry"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// Generation is the text and token usage of a single model call.
type Generation struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Generator turns a prompt into generated text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Generation, error)
}

// ChatGenerator implements Generator on top of an LLMClient, sending each
// prompt as a single user message.
type ChatGenerator struct {
	client      LLMClient
	model       string
	temperature float64
	maxAttempts int
	backoff     time.Duration
	maxElapsed  time.Duration
	logger      logrus.FieldLogger
}

// GeneratorOption configures a ChatGenerator.
type GeneratorOption func(*ChatGenerator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GeneratorOption {
	return func(g *ChatGenerator) { g.temperature = t }
}

// WithRetry bounds retries of transient failures. maxAttempts counts the
// first call.
func WithRetry(maxAttempts int, backoff, maxElapsed time.Duration) GeneratorOption {
	return func(g *ChatGenerator) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			g.backoff = backoff
		}
		if maxElapsed > 0 {
			g.maxElapsed = maxElapsed
		}
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(l logrus.FieldLogger) GeneratorOption {
	return func(g *ChatGenerator) { g.logger = l }
}

// NewChatGenerator creates a generator for model.
func NewChatGenerator(client LLMClient, model string, opts ...GeneratorOption) *ChatGenerator {
	g := &ChatGenerator{
		client:      client,
		model:       model,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		maxElapsed:  2 * time.Minute,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements Generator. Transport failures, 429 and 5xx responses
// are retried; any other failure is returned wrapped in domain.ErrModelCall.
func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (*Generation, error) {
	temperature := g.temperature
	req := &ChatCompletionRequest{
		Model:       g.model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	}

	var (
		resp    *ChatCompletionResponse
		lastErr error
		attempt int
	)

	err := retry.Constant(g.maxElapsed, retry.WithUnits(g.backoff)).
		RetryWithContext(ctx, func(ctx context.Context) error {
			attempt++
			r, callErr := g.client.CreateChatCompletion(ctx, req)
			if callErr == nil {
				resp = r
				return nil
			}
			lastErr = callErr
			if ctx.Err() == nil && attempt < g.maxAttempts && isRetryable(callErr) {
				g.logger.WithError(callErr).WithField("attempt", attempt).Warn("model call failed, retrying")
				return retry.ExpectedError(callErr)
			}
			return retry.UnexpectedError(callErr)
		})

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: model call: %w", domain.ErrTimeout, ctxErr)
		}
		return nil, ctxErr
	}
	if err != nil || resp == nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrModelCall, lastErr)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, fmt.Errorf("%w: response has no choices", domain.ErrModelCall)
	}

	gen := &Generation{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: resp.Model,
	}
	if gen.Model == "" {
		gen.Model = g.model
	}
	if resp.Usage != nil {
		gen.InputTokens = resp.Usage.PromptTokens
		gen.OutputTokens = resp.Usage.CompletionTokens
	}
	return gen, nil
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
