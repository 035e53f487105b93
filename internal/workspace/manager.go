package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// Cloner materializes a remote repository into dest.
type Cloner interface {
	Clone(ctx context.Context, repo RepoURL, dest string) error
}

// RepoInfo is metadata learned before cloning.
type RepoInfo struct {
	DefaultBranch string
	Private       bool
}

// Inspector looks a repository up before it is cloned. Inspect returns
// (nil, nil) when it cannot tell anything about repo.
type Inspector interface {
	Inspect(ctx context.Context, repo RepoURL) (*RepoInfo, error)
}

// Manager creates workspaces under a root directory.
type Manager struct {
	root      string
	cloner    Cloner
	inspector Inspector
	logger    logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithInspector enables a pre-clone repository lookup.
func WithInspector(i Inspector) Option {
	return func(m *Manager) { m.inspector = i }
}

// WithLogger sets the logger used by the manager.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager that allocates workspaces below root. An empty
// root selects the system temporary directory.
func NewManager(root string, cloner Cloner, opts ...Option) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	m := &Manager{
		root:   root,
		cloner: cloner,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates rawURL, allocates a fresh directory and clones the
// repository into it. On failure nothing is left on disk.
func (m *Manager) Create(ctx context.Context, rawURL string) (*Workspace, error) {
	repo, err := ParseRepoURL(rawURL)
	if err != nil {
		return nil, err
	}

	var info *RepoInfo
	if m.inspector != nil {
		info, err = m.inspector.Inspect(ctx, repo)
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	parent, err := os.MkdirTemp(m.root, "ws-")
	if err != nil {
		return nil, fmt.Errorf("allocate workspace: %w", err)
	}

	ws := &Workspace{
		URL:       repo,
		parentDir: parent,
		repoDir:   filepath.Join(parent, repo.Name),
	}
	if info != nil {
		ws.DefaultBranch = info.DefaultBranch
	}

	log := m.logger.WithField("repo", repo.String())
	log.Info("cloning repository")

	if err := m.cloner.Clone(ctx, repo, ws.repoDir); err != nil {
		if rmErr := os.RemoveAll(parent); rmErr != nil {
			log.WithError(rmErr).Warn("failed to remove workspace after clone failure")
		}
		var cloneErr *domain.CloneError
		if !errors.As(err, &cloneErr) {
			err = &domain.CloneError{Reason: domain.CloneReasonUnknown, Err: err}
		}
		log.WithError(err).Warn("clone failed")
		return nil, err
	}

	realRoot, err := filepath.EvalSymlinks(ws.repoDir)
	if err != nil {
		_ = os.RemoveAll(parent)
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	ws.realRoot = realRoot

	return ws, nil
}
