// Package tools implements the fixed set of operations exposed to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/sandbox"
	"github.com/paulgibert/chaingpt/internal/workspace"
)

// MaxReadChars is the default bound on how much of a file File QA hands
// to the model.
const MaxReadChars = 100000

// Sessions resolves a session id to its workspace.
type Sessions interface {
	Get(id string) (*workspace.Workspace, error)
}

// Answerer answers a question about a text.
type Answerer interface {
	Answer(ctx context.Context, question, text, filePath string) (*domain.LLMResponse, error)
}

// Tool is one variant of the closed tool set.
type Tool interface {
	Name() domain.ToolName
	Invoke(ctx context.Context, args json.RawMessage) (interface{}, error)
}

// Surface dispatches tool invocations to the three tool variants.
type Surface struct {
	FileQA     *FileQA
	FileSearch *FileSearch
	RunScript  *RunScript
}

// Option configures a Surface.
type Option func(*Surface)

// WithMaxReadChars overrides how many characters File QA reads.
func WithMaxReadChars(n int) Option {
	return func(s *Surface) {
		if n > 0 {
			s.FileQA.maxChars = n
		}
	}
}

// NewSurface wires the tool variants to their collaborators.
func NewSurface(sessions Sessions, answerer Answerer, env sandbox.Environment, logger logrus.FieldLogger, opts ...Option) *Surface {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "tools")
	s := &Surface{
		FileQA:     &FileQA{sessions: sessions, answerer: answerer, maxChars: MaxReadChars, logger: logger},
		FileSearch: &FileSearch{sessions: sessions},
		RunScript:  &RunScript{env: env, logger: logger},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Names lists the tools in a stable order.
func (s *Surface) Names() []domain.ToolName {
	return []domain.ToolName{domain.ToolFileQA, domain.ToolFileSearch, domain.ToolRunScript}
}

// Lookup returns the tool registered under name.
func (s *Surface) Lookup(name domain.ToolName) (Tool, error) {
	switch name {
	case domain.ToolFileQA:
		return s.FileQA, nil
	case domain.ToolFileSearch:
		return s.FileSearch, nil
	case domain.ToolRunScript:
		return s.RunScript, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTool, name)
	}
}

// Invoke validates args and runs the named tool.
func (s *Surface) Invoke(ctx context.Context, name domain.ToolName, args json.RawMessage) (interface{}, error) {
	tool, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	return tool.Invoke(ctx, args)
}

// FileQA answers a question about one file of a session's repository.
type FileQA struct {
	sessions Sessions
	answerer Answerer
	maxChars int
	logger   logrus.FieldLogger
}

func (t *FileQA) Name() domain.ToolName { return domain.ToolFileQA }

func (t *FileQA) Invoke(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args FileQAArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	sessionID, err := required("session_id", args.SessionID)
	if err != nil {
		return nil, err
	}
	question, err := required("question", args.Question)
	if err != nil {
		return nil, err
	}
	filePath, err := required("file_path", args.FilePath)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, sessionID, question, filePath)
}

// Run reads at most the configured number of characters of filePath and
// answers question about them.
func (t *FileQA) Run(ctx context.Context, sessionID, question, filePath string) (*domain.LLMResponse, error) {
	ws, err := t.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	text, truncated, err := ws.Read(ctx, filePath, t.maxChars)
	if err != nil {
		return nil, err
	}
	if truncated {
		t.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"file_path":  filePath,
			"max_chars":  t.maxChars,
		}).Info("file truncated before answering")
	}
	resp, err := t.answerer.Answer(ctx, question, text, filePath)
	if err != nil {
		return nil, err
	}
	resp.Truncated = truncated
	return resp, nil
}

// FileSearch lists the immediate children of a directory in a session's
// repository.
type FileSearch struct {
	sessions Sessions
}

func (t *FileSearch) Name() domain.ToolName { return domain.ToolFileSearch }

func (t *FileSearch) Invoke(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args FileSearchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	sessionID, err := required("session_id", args.SessionID)
	if err != nil {
		return nil, err
	}
	path, err := present("path", args.Path)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, sessionID, path, optional(args.Pattern))
}

// Run lists path, keeping only names matching pattern when it is set.
func (t *FileSearch) Run(_ context.Context, sessionID, path, pattern string) (*domain.SearchResult, error) {
	ws, err := t.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	dirs, files, err := ws.Search(path, pattern)
	if err != nil {
		return nil, err
	}
	return &domain.SearchResult{Directories: dirs, Files: files}, nil
}

// RunScript executes a script in the sandbox. It needs no session.
type RunScript struct {
	env    sandbox.Environment
	logger logrus.FieldLogger
}

func (t *RunScript) Name() domain.ToolName { return domain.ToolRunScript }

func (t *RunScript) Invoke(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args RunScriptArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	script, err := required("script", args.Script)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, script, args.Deps)
}

// Run executes script with deps installed. A non-zero exit is a result,
// not an error.
func (t *RunScript) Run(ctx context.Context, script string, deps []string) (*domain.RunResult, error) {
	if script == "" {
		return nil, fmt.Errorf("%w: script must not be empty", domain.ErrValidation)
	}
	if deps == nil {
		deps = []string{}
	}
	if err := sandbox.ValidateDeps(deps); err != nil {
		return nil, err
	}
	res, err := t.env.Run(ctx, script, deps)
	if err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"return_code": res.ReturnCode,
		"timed_out":   res.TimedOut,
		"deps":        len(deps),
		"duration_ms": res.DurationMs,
	}).Info("script finished")
	return res, nil
}
