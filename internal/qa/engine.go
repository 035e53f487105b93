// Package qa answers questions about text with a language model, splitting
// large inputs into chunks that are summarized before a final answer.
package qa

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/paulgibert/chaingpt/internal/adapter/llm"
	"github.com/paulgibert/chaingpt/internal/domain"
)

// Defaults used when a Config field is zero.
const (
	DefaultChunkSize    = 10000
	DefaultChunkOverlap = 500
	DefaultMaxParallel  = 4
)

const unknownFilePath = "unknown"

// Config holds the engine settings.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MaxParallel  int
	// Model is reported when the provider does not echo one back.
	Model string
}

// Engine answers questions about text.
type Engine struct {
	gen    llm.Generator
	cfg    Config
	logger logrus.FieldLogger
}

// NewEngine creates an Engine. Zero config fields take their defaults.
func NewEngine(gen llm.Generator, cfg Config, logger logrus.FieldLogger) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = min(DefaultChunkOverlap, cfg.ChunkSize/2)
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{gen: gen, cfg: cfg, logger: logger}
}

// Answer picks the direct strategy for text of at most ChunkSize characters
// and chunk-refine otherwise.
func (e *Engine) Answer(ctx context.Context, question, text, filePath string) (*domain.LLMResponse, error) {
	if text == "" {
		return nil, domain.ErrEmptyText
	}
	if utf8.RuneCountInString(text) <= e.cfg.ChunkSize {
		return e.Direct(ctx, question, text, filePath)
	}
	return e.Refine(ctx, question, text, filePath)
}

// Direct answers with a single model call over the whole text.
func (e *Engine) Direct(ctx context.Context, question, text, filePath string) (*domain.LLMResponse, error) {
	if text == "" {
		return nil, domain.ErrEmptyText
	}
	if filePath == "" {
		filePath = unknownFilePath
	}

	prompt, err := render(directTemplate, filePath, question, text)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	tracker := newUsageTracker(e.gen)
	gen, err := tracker.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	_, in, out, model := tracker.totals()
	return &domain.LLMResponse{
		Output:       gen.Text,
		Model:        e.modelOr(model),
		InputTokens:  in,
		OutputTokens: out,
		Strategy:     domain.QAStrategyDirect,
	}, nil
}

// Refine summarizes each chunk of text concurrently, then answers from the
// summaries joined in chunk order. Text must be longer than ChunkSize.
func (e *Engine) Refine(ctx context.Context, question, text, filePath string) (*domain.LLMResponse, error) {
	if text == "" {
		return nil, domain.ErrEmptyText
	}
	n := utf8.RuneCountInString(text)
	if n <= e.cfg.ChunkSize {
		return nil, fmt.Errorf("%w: text length %d must be greater than chunk size %d", domain.ErrValidation, n, e.cfg.ChunkSize)
	}
	if filePath == "" {
		filePath = unknownFilePath
	}

	chunks, err := Split(text, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tracker := newUsageTracker(e.gen)
	summaries := make([]string, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(e.cfg.MaxParallel))

	for i, chunk := range chunks {
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			prompt, err := render(chunkTemplate, filePath, question, chunk)
			if err != nil {
				return fmt.Errorf("render prompt: %w", err)
			}
			gen, err := tracker.Generate(groupCtx, prompt)
			if err != nil {
				return err
			}
			summaries[i] = gen.Text
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	prompt, err := render(synthesisTemplate, filePath, question, strings.Join(summaries, "\n\n"))
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	final, err := tracker.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	calls, in, out, model := tracker.totals()
	e.logger.WithFields(logrus.Fields{
		"file_path":   filePath,
		"chunks":      len(chunks),
		"model_calls": calls,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("chunk refine complete")

	return &domain.LLMResponse{
		Output:       final.Text,
		Model:        e.modelOr(model),
		InputTokens:  in,
		OutputTokens: out,
		Strategy:     domain.QAStrategyChunkRefine,
		Chunks:       len(chunks),
	}, nil
}

func (e *Engine) modelOr(model string) string {
	if model != "" {
		return model
	}
	return e.cfg.Model
}
