// Package workspace manages per-session clones of remote repositories.
package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/pathguard"
)

// Workspace is the local clone of one repository. It exclusively owns its
// parent directory until Destroy is called.
type Workspace struct {
	URL           RepoURL
	DefaultBranch string

	parentDir string
	repoDir   string
	realRoot  string

	mu        sync.Mutex
	destroyed bool
}

// Root returns the repository directory.
func (w *Workspace) Root() string {
	return w.repoDir
}

// ParentDir returns the directory allocated for this workspace.
func (w *Workspace) ParentDir() string {
	return w.parentDir
}

// Read returns at most maxChars characters of the file at relPath. The
// truncated result reports whether content beyond the limit was dropped. A
// non-positive maxChars reads the whole file. Files whose read portion holds
// invalid UTF-8 or a NUL byte fail with domain.ErrNotText.
func (w *Workspace) Read(ctx context.Context, relPath string, maxChars int) (string, bool, error) {
	full, err := w.resolve(relPath)
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("%w: %s", domain.ErrFileNotFound, relPath)
		}
		return "", false, fmt.Errorf("stat %s: %w", relPath, stripPath(err))
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%w: %s is a directory", domain.ErrFileNotFound, relPath)
	}

	f, err := os.Open(full)
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", relPath, stripPath(err))
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	var sb strings.Builder
	if maxChars > 0 && info.Size() > 0 {
		sb.Grow(int(min(info.Size(), int64(maxChars)*utf8.UTFMax)))
	}

	count := 0
	for maxChars <= 0 || count < maxChars {
		if count%8192 == 0 {
			if err := ctx.Err(); err != nil {
				return "", false, err
			}
		}
		r, size, err := reader.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sb.String(), false, nil
			}
			return "", false, fmt.Errorf("read %s: %w", relPath, stripPath(err))
		}
		if r == 0 || (r == utf8.RuneError && size == 1) {
			return "", false, fmt.Errorf("%w: %s", domain.ErrNotText, relPath)
		}
		sb.WriteRune(r)
		count++
	}

	if _, err := reader.Peek(1); err != nil {
		return sb.String(), false, nil
	}
	return sb.String(), true, nil
}

// Search lists the immediate children of relPath, split into directories and
// files and sorted by name. A non-empty pattern keeps only names matching
// the doublestar glob. The .git directory is never listed.
func (w *Workspace) Search(relPath, pattern string) ([]string, []string, error) {
	if relPath == "" {
		relPath = "."
	}
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, nil, fmt.Errorf("%w: invalid pattern %q", domain.ErrValidation, pattern)
	}

	full, err := w.resolve(relPath)
	if err != nil {
		return nil, nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, relPath)
		case isNotDir(full):
			return nil, nil, fmt.Errorf("%w: %s is not a directory", domain.ErrValidation, relPath)
		}
		return nil, nil, fmt.Errorf("list %s: %w", relPath, stripPath(err))
	}

	dirs := []string{}
	files := []string{}
	for _, e := range entries {
		name := e.Name()
		if name == ".git" {
			continue
		}
		if pattern != "" {
			ok, err := doublestar.Match(pattern, name)
			if err != nil || !ok {
				continue
			}
		}
		if e.IsDir() {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

// Destroy removes the workspace from disk. Calling it again is a no-op.
func (w *Workspace) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return nil
	}
	if err := os.RemoveAll(w.parentDir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	w.destroyed = true
	return nil
}

// Destroyed reports whether Destroy has completed.
func (w *Workspace) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

// resolve validates relPath lexically, then checks that symlinks inside the
// clone do not lead outside it.
func (w *Workspace) resolve(relPath string) (string, error) {
	if w.Destroyed() {
		return "", fmt.Errorf("%w: workspace has been destroyed", domain.ErrNotFound)
	}

	full, err := pathguard.Validate(relPath, w.repoDir)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"security_event": "path_traversal",
			"repo":           w.URL.String(),
		}).Warn("rejected workspace path")
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		// Missing files are reported by the caller.
		return full, nil
	}
	if !pathguard.Within(resolved, w.realRoot) {
		logrus.WithFields(logrus.Fields{
			"security_event": "path_traversal",
			"repo":           w.URL.String(),
		}).Warn("rejected symlink leaving workspace")
		return "", fmt.Errorf("%w: %q resolves outside the repository", domain.ErrPathTraversal, relPath)
	}
	return resolved, nil
}

func isNotDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// stripPath drops the absolute path carried by *fs.PathError.
func stripPath(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}
