package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// fakeCloner writes a fixed file tree instead of running git.
type fakeCloner struct {
	files map[string]string
	err   error

	mu    sync.Mutex
	dests []string
}

func (f *fakeCloner) Clone(_ context.Context, _ RepoURL, dest string) error {
	f.mu.Lock()
	f.dests = append(f.dests, dest)
	f.mu.Unlock()

	if f.err != nil {
		// git leaves a partial directory behind on failure
		_ = os.MkdirAll(dest, 0o755)
		return f.err
	}
	for name, content := range f.files {
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

func newTestWorkspace(t *testing.T, files map[string]string) (*Manager, *Workspace) {
	t.Helper()
	m := NewManager(t.TempDir(), &fakeCloner{files: files})
	ws, err := m.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Destroy() })
	return m, ws
}

func TestCreateLayout(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, &fakeCloner{files: map[string]string{"README.md": "hi"}})

	ws, err := m.Create(context.Background(), "https://github.com/acme/widgets.git")
	require.NoError(t, err)

	assert.Equal(t, "widgets", filepath.Base(ws.Root()))
	assert.Equal(t, ws.ParentDir(), filepath.Dir(ws.Root()))
	assert.Equal(t, root, filepath.Dir(ws.ParentDir()))
	assert.DirExists(t, ws.Root())
}

func TestCreateInvalidURLTouchesNothing(t *testing.T) {
	root := t.TempDir()
	cloner := &fakeCloner{}
	m := NewManager(root, cloner)

	_, err := m.Create(context.Background(), "not a url")
	require.ErrorIs(t, err, domain.ErrInvalidURL)

	entries, _ := os.ReadDir(root)
	assert.Empty(t, entries)
	assert.Empty(t, cloner.dests)
}

func TestCreateCloneFailureCleansUp(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, &fakeCloner{err: &domain.CloneError{Reason: domain.CloneReasonNotFound}})

	_, err := m.Create(context.Background(), "https://github.com/acme/missing")

	var cloneErr *domain.CloneError
	require.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, domain.CloneReasonNotFound, cloneErr.Reason)
	assert.ErrorIs(t, err, domain.ErrUpstream)

	entries, _ := os.ReadDir(root)
	assert.Empty(t, entries, "parent directory must be removed")
}

func TestCreateWrapsUnclassifiedCloneError(t *testing.T) {
	m := NewManager(t.TempDir(), &fakeCloner{err: errors.New("disk full")})

	_, err := m.Create(context.Background(), "https://github.com/acme/widgets")

	var cloneErr *domain.CloneError
	require.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, domain.CloneReasonUnknown, cloneErr.Reason)
}

type stubInspector struct {
	info *RepoInfo
	err  error
}

func (s stubInspector) Inspect(context.Context, RepoURL) (*RepoInfo, error) {
	return s.info, s.err
}

func TestCreateUsesInspector(t *testing.T) {
	cloner := &fakeCloner{}
	m := NewManager(t.TempDir(), cloner, WithInspector(stubInspector{info: &RepoInfo{DefaultBranch: "trunk"}}))

	ws, err := m.Create(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "trunk", ws.DefaultBranch)

	m = NewManager(t.TempDir(), cloner, WithInspector(stubInspector{err: &domain.CloneError{Reason: domain.CloneReasonAuth}}))
	_, err = m.Create(context.Background(), "https://github.com/acme/private")
	var cloneErr *domain.CloneError
	require.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, domain.CloneReasonAuth, cloneErr.Reason)
	assert.Len(t, cloner.dests, 1, "clone must not run after a failed preflight")
}

func TestConcurrentCreateDistinctDirectories(t *testing.T) {
	m := NewManager(t.TempDir(), &fakeCloner{})

	const n = 16
	var wg sync.WaitGroup
	parents := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := m.Create(context.Background(), "https://github.com/acme/widgets")
			if assert.NoError(t, err) {
				parents[i] = ws.ParentDir()
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range parents {
		assert.False(t, seen[p], "duplicate workspace directory %s", p)
		seen[p] = true
	}
}

func TestRead(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{
		"README.md":   strings.Repeat("a", 500),
		"docs/ü.txt":  "héllo wörld",
		"src/main.go": "package main\n",
	})
	ctx := context.Background()

	text, truncated, err := ws.Read(ctx, "README.md", 100000)
	require.NoError(t, err)
	assert.Len(t, text, 500)
	assert.False(t, truncated)

	text, truncated, err = ws.Read(ctx, "docs/ü.txt", 5)
	require.NoError(t, err)
	assert.Equal(t, "héllo", text, "limit counts characters, not bytes")
	assert.True(t, truncated)

	text, truncated, err = ws.Read(ctx, "docs/ü.txt", len([]rune("héllo wörld")))
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", text)
	assert.False(t, truncated, "exact fit is not truncation")

	text, _, err = ws.Read(ctx, "./src/main.go", 0)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", text)
}

func TestReadErrors(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{"src/main.go": "x"})
	ctx := context.Background()

	_, _, err := ws.Read(ctx, "nope.md", 10)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = ws.Read(ctx, "src", 10)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	_, _, err = ws.Read(ctx, "../../etc/passwd", 10)
	assert.ErrorIs(t, err, domain.ErrPathTraversal)

	_, _, err = ws.Read(ctx, "/etc/passwd", 10)
	assert.ErrorIs(t, err, domain.ErrPathTraversal)
	assert.NotContains(t, err.Error(), ws.Root())
}

func TestReadRejectsNonText(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{
		"logo.png":   "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR",
		"latin1.txt": "caf\xe9",
		"nul.txt":    "abc\x00def",
		"ok.txt":     "replacement \uFFFD is fine",
	})
	ctx := context.Background()

	for _, name := range []string{"logo.png", "latin1.txt", "nul.txt"} {
		_, _, err := ws.Read(ctx, name, 100000)
		assert.ErrorIs(t, err, domain.ErrNotText, name)
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}

	text, _, err := ws.Read(ctx, "ok.txt", 100000)
	require.NoError(t, err)
	assert.Equal(t, "replacement \uFFFD is fine", text)
}

func TestReadRejectsEscapingSymlink(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{"README.md": "x"})

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(ws.Root(), "link.txt")))

	_, _, err := ws.Read(context.Background(), "link.txt", 10)
	assert.ErrorIs(t, err, domain.ErrPathTraversal)
}

func TestReadCancelled(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{"README.md": "content"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ws.Read(ctx, "README.md", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{
		"README.md":      "x",
		"go.mod":         "x",
		"src/main.go":    "x",
		"src/util.go":    "x",
		"docs/guide.md":  "x",
		".git/HEAD":      "ref",
		"src/pkg/a.go":   "x",
		".github/ci.yml": "x",
	})

	dirs, files, err := ws.Search(".", "")
	require.NoError(t, err)
	assert.Equal(t, []string{".github", "docs", "src"}, dirs)
	assert.Equal(t, []string{"README.md", "go.mod"}, files)

	dirs, files, err = ws.Search("src", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg"}, dirs)
	assert.Equal(t, []string{"main.go", "util.go"}, files)

	dirs, files, err = ws.Search("", "*.md")
	require.NoError(t, err)
	assert.Empty(t, dirs)
	assert.Equal(t, []string{"README.md"}, files)

	dirs, files, err = ws.Search("docs", "")
	require.NoError(t, err)
	assert.Empty(t, dirs)
	assert.NotNil(t, dirs)
	assert.Equal(t, []string{"guide.md"}, files)
}

func TestSearchErrors(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{"README.md": "x"})

	_, _, err := ws.Search("missing", "")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	_, _, err = ws.Search("..", "")
	assert.ErrorIs(t, err, domain.ErrPathTraversal)

	_, _, err = ws.Search("README.md", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = ws.Search(".", "[")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDestroyIdempotent(t *testing.T) {
	_, ws := newTestWorkspace(t, map[string]string{"README.md": "x"})

	require.NoError(t, ws.Destroy())
	assert.NoDirExists(t, ws.ParentDir())
	assert.True(t, ws.Destroyed())

	require.NoError(t, ws.Destroy())

	_, _, err := ws.Read(context.Background(), "README.md", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
