// Package session maps session ids to their workspaces.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/workspace"
)

// WorkspaceFactory builds a cloned workspace for a repository URL.
type WorkspaceFactory interface {
	Create(ctx context.Context, rawURL string) (*workspace.Workspace, error)
}

// Close reasons passed to the OnClose hook.
const (
	ReasonClosed   = "closed"
	ReasonExpired  = "expired"
	ReasonShutdown = "shutdown"
)

// closedRetention is the minimum time closed ids are remembered so that a
// second Close succeeds. The effective bound is max(TTL, closedRetention).
const closedRetention = time.Hour

type entry struct {
	session  domain.Session
	ws       *workspace.Workspace
	lastUsed atomic.Int64 // unix nanos
}

// Registry is the process-wide session table. It is safe for concurrent use.
type Registry struct {
	factory WorkspaceFactory
	ttl     time.Duration
	logger  logrus.FieldLogger
	now     func() time.Time
	newID   func() string
	onClose func(s domain.Session, reason string)

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   map[string]time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the idle time after which Reap removes a session. Zero
// disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the session id source.
func WithIDGenerator(f func() string) Option {
	return func(r *Registry) { r.newID = f }
}

// OnClose registers a hook run after a session's workspace is destroyed.
func OnClose(f func(s domain.Session, reason string)) Option {
	return func(r *Registry) { r.onClose = f }
}

// NewRegistry creates an empty Registry.
func NewRegistry(factory WorkspaceFactory, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		logger:   logrus.StandardLogger(),
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*entry),
		closed:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create clones rawURL into a new workspace and returns the new session id.
// The clone runs without holding the registry lock.
func (r *Registry) Create(ctx context.Context, rawURL string) (string, error) {
	ws, err := r.factory.Create(ctx, rawURL)
	if err != nil {
		return "", err
	}

	now := r.now()
	e := &entry{
		session: domain.Session{
			RepoURL:       ws.URL.String(),
			RepoName:      ws.URL.Name,
			DefaultBranch: ws.DefaultBranch,
			CreatedAt:     now,
		},
		ws: ws,
	}
	e.lastUsed.Store(now.UnixNano())

	r.mu.Lock()
	id := r.newID()
	for r.taken(id) {
		id = r.newID()
	}
	e.session.SessionID = id
	r.sessions[id] = e
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session_id": id,
		"repo":       e.session.RepoURL,
	}).Info("session created")
	return id, nil
}

// taken must be called with mu held.
func (r *Registry) taken(id string) bool {
	if _, ok := r.sessions[id]; ok {
		return true
	}
	_, ok := r.closed[id]
	return ok
}

// Get returns the workspace of session id and marks the session as used.
func (r *Registry) Get(id string) (*workspace.Workspace, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}
	e.lastUsed.Store(r.now().UnixNano())
	return e.ws, nil
}

// Session returns the metadata of session id.
func (r *Registry) Session(id string) (domain.Session, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}
	return e.snapshot(), nil
}

// List returns all live sessions ordered by creation time.
func (r *Registry) List() []domain.Session {
	r.mu.RLock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close destroys the workspace of session id. Closing a session that was
// already closed is a no-op for max(TTL, 1h) after the close; later the id is
// forgotten and Close reports ErrUnknownSession. If the workspace cannot be
// removed the session stays live so Close can be retried.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		_, wasClosed := r.closed[id]
		r.mu.Unlock()
		if wasClosed {
			return nil
		}
		return fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	return r.destroy(e, ReasonClosed)
}

// Reap closes every session idle for longer than the TTL and returns their
// ids.
func (r *Registry) Reap(now time.Time) []string {
	var expired []*entry

	r.mu.Lock()
	if r.ttl > 0 {
		cutoff := now.Add(-r.ttl).UnixNano()
		for id, e := range r.sessions {
			if e.lastUsed.Load() < cutoff {
				expired = append(expired, e)
				delete(r.sessions, id)
				r.closed[id] = now
			}
		}
	}
	retention := max(r.ttl, closedRetention)
	for id, at := range r.closed {
		if now.Sub(at) > retention {
			delete(r.closed, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		if r.destroy(e, ReasonExpired) == nil {
			ids = append(ids, e.session.SessionID)
		}
	}
	return ids
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := r.Reap(r.now()); len(ids) > 0 {
				r.logger.WithField("count", len(ids)).Info("reaped idle sessions")
			}
		}
	}
}

// CloseAll destroys every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		_ = r.destroy(e, ReasonShutdown)
	}
}

// destroy removes e's workspace. On success the id is recorded as closed;
// on failure e is put back so a later Close or Reap retries.
func (r *Registry) destroy(e *entry, reason string) error {
	id := e.session.SessionID
	log := r.logger.WithFields(logrus.Fields{
		"session_id": id,
		"reason":     reason,
	})
	if err := e.ws.Destroy(); err != nil {
		log.WithError(err).Warn("failed to destroy workspace")
		r.mu.Lock()
		r.sessions[id] = e
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.closed[id] = r.now()
	r.mu.Unlock()
	log.Info("session closed")

	if r.onClose != nil {
		s := e.snapshot()
		closedAt := r.now()
		s.ClosedAt = &closedAt
		r.onClose(s, reason)
	}
	return nil
}

func (e *entry) snapshot() domain.Session {
	s := e.session
	s.LastUsedAt = time.Unix(0, e.lastUsed.Load())
	return s
}
