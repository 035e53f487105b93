package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/workspace"
)

type readmeCloner struct{}

func (readmeCloner) Clone(_ context.Context, _ workspace.RepoURL, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "README.md"), []byte("widgets"), 0o644)
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(workspace.NewManager(t.TempDir(), readmeCloner{}), opts...)
	t.Cleanup(r.CloseAll)
	return r
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	assert.Len(t, id, 36)

	ws, err := r.Get(id)
	require.NoError(t, err)
	text, _, err := ws.Read(context.Background(), "README.md", 100)
	require.NoError(t, err)
	assert.Equal(t, "widgets", text)

	s, err := r.Session(id)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", s.RepoURL)
	assert.Equal(t, "widgets", s.RepoName)
}

func TestGetUnknown(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownSession)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateInvalidURL(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create(context.Background(), "ftp://example.com/a/b")
	assert.ErrorIs(t, err, domain.ErrInvalidURL)
	assert.Zero(t, r.Len())
}

func TestConcurrentCreateDistinct(t *testing.T) {
	r := newTestRegistry(t)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Create(context.Background(), "https://github.com/acme/widgets")
			if assert.NoError(t, err) {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	seenIDs := map[string]bool{}
	seenDirs := map[string]bool{}
	for _, id := range ids {
		require.False(t, seenIDs[id])
		seenIDs[id] = true

		ws, err := r.Get(id)
		require.NoError(t, err)
		require.False(t, seenDirs[ws.ParentDir()])
		seenDirs[ws.ParentDir()] = true
	}
	assert.Equal(t, n, r.Len())
}

func TestCreateRedrawsCollidingID(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	var mu sync.Mutex
	r := newTestRegistry(t, WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}))

	first, err := r.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	second, err := r.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, "dup", first)
	assert.Equal(t, "fresh", second)
}

func TestCloseTwice(t *testing.T) {
	var reasons []string
	r := newTestRegistry(t, OnClose(func(s domain.Session, reason string) {
		assert.NotNil(t, s.ClosedAt)
		reasons = append(reasons, reason)
	}))

	id, err := r.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	ws, err := r.Get(id)
	require.NoError(t, err)

	require.NoError(t, r.Close(id))
	assert.NoDirExists(t, ws.ParentDir())
	require.NoError(t, r.Close(id), "second close is a no-op")

	_, err = r.Get(id)
	assert.ErrorIs(t, err, domain.ErrUnknownSession)
	assert.Equal(t, []string{ReasonClosed}, reasons)

	assert.ErrorIs(t, r.Close("never-existed"), domain.ErrUnknownSession)
}

func TestCloseKeepsSessionWhenDestroyFails(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	var reasons []string
	r := newTestRegistry(t, OnClose(func(_ domain.Session, reason string) {
		reasons = append(reasons, reason)
	}))

	id, err := r.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	ws, err := r.Get(id)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(ws.Root(), 0o555))
	t.Cleanup(func() { os.Chmod(ws.Root(), 0o755) })

	require.Error(t, r.Close(id))
	_, err = r.Get(id)
	require.NoError(t, err, "session stays live after a failed close")
	require.Error(t, r.Close(id), "a retry hits the same failure instead of reporting success")
	assert.Empty(t, reasons)

	require.NoError(t, os.Chmod(ws.Root(), 0o755))
	require.NoError(t, r.Close(id))
	assert.NoDirExists(t, ws.ParentDir())
	assert.Equal(t, []string{ReasonClosed}, reasons)
}

func TestClosedIDsForgottenAfterRetention(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, WithClock(func() time.Time { return now }))

	id, err := r.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	require.NoError(t, r.Close(id))

	r.Reap(now.Add(30 * time.Minute))
	require.NoError(t, r.Close(id))

	r.Reap(now.Add(closedRetention + time.Minute))
	assert.ErrorIs(t, r.Close(id), domain.ErrUnknownSession)
}

func TestReapIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	r := newTestRegistry(t, WithTTL(time.Hour), WithClock(clock))

	idle, err := r.Create(context.Background(), "https://github.com/acme/idle")
	require.NoError(t, err)
	busy, err := r.Create(context.Background(), "https://github.com/acme/busy")
	require.NoError(t, err)
	idleWS, _ := r.Get(idle)

	advance(50 * time.Minute)
	_, err = r.Get(busy)
	require.NoError(t, err)

	advance(20 * time.Minute)
	reaped := r.Reap(clock())

	assert.Equal(t, []string{idle}, reaped)
	assert.NoDirExists(t, idleWS.ParentDir())
	_, err = r.Get(busy)
	assert.NoError(t, err)
	_, err = r.Get(idle)
	assert.ErrorIs(t, err, domain.ErrUnknownSession)
}

func TestReapDisabled(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	assert.Empty(t, r.Reap(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, r.Len())
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		_, err := r.Create(context.Background(), "https://github.com/acme/widgets")
		require.NoError(t, err)
	}
	require.Len(t, r.List(), 3)

	r.CloseAll()
	assert.Zero(t, r.Len())
}
