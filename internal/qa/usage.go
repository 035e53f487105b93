package qa

import (
	"context"
	"sync"

	"github.com/paulgibert/chaingpt/internal/adapter/llm"
)

// usageTracker attributes every call made through it to one QA request.
type usageTracker struct {
	gen llm.Generator

	mu           sync.Mutex
	calls        int
	inputTokens  int
	outputTokens int
	model        string
}

func newUsageTracker(gen llm.Generator) *usageTracker {
	return &usageTracker{gen: gen}
}

func (u *usageTracker) Generate(ctx context.Context, prompt string) (*llm.Generation, error) {
	g, err := u.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.inputTokens += g.InputTokens
	u.outputTokens += g.OutputTokens
	if u.model == "" {
		u.model = g.Model
	}
	return g, nil
}

func (u *usageTracker) totals() (calls, in, out int, model string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls, u.inputTokens, u.outputTokens, u.model
}
