package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/paulgibert/chaingpt/internal/adapter/llm"
	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/workspace"
)

// FileCloner materializes a fixed file tree instead of running git.
type FileCloner struct {
	Files map[string]string
	Err   error
}

func (c *FileCloner) Clone(_ context.Context, _ workspace.RepoURL, dest string) error {
	if c.Err != nil {
		return c.Err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for name, content := range c.Files {
		p := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// EchoGenerator answers every prompt with a fixed text and token counts
// and records how many calls it served.
type EchoGenerator struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Err          error

	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
}

func (g *EchoGenerator) Generate(_ context.Context, prompt string) (*llm.Generation, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	return &llm.Generation{
		Text:         g.Text,
		Model:        "test-model",
		InputTokens:  g.InputTokens,
		OutputTokens: g.OutputTokens,
	}, nil
}

// Calls returns the number of Generate calls.
func (g *EchoGenerator) Calls() int {
	return int(g.calls.Load())
}

// Prompts returns a copy of the prompts received so far.
func (g *EchoGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// ScriptEnvironment is a sandbox that returns a canned result.
type ScriptEnvironment struct {
	Result *domain.RunResult
	Err    error

	mu       sync.Mutex
	Scripts  []string
	LastDeps []string
}

func (e *ScriptEnvironment) Run(_ context.Context, script string, deps []string) (*domain.RunResult, error) {
	e.mu.Lock()
	e.Scripts = append(e.Scripts, script)
	e.LastDeps = deps
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	res := *e.Result
	return &res, nil
}

func (e *ScriptEnvironment) Close() error { return nil }
