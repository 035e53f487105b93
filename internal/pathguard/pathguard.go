// Package pathguard keeps caller-supplied paths inside a workspace root.
package pathguard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// Validate resolves path against root and returns the absolute result. It
// fails with domain.ErrPathTraversal when path is empty, absolute, contains a
// ".." segment or a NUL byte, or resolves outside root. It never touches the
// filesystem.
func Validate(path, root string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", domain.ErrPathTraversal)
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", domain.ErrPathTraversal)
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return "", fmt.Errorf("%w: absolute path %q", domain.ErrPathTraversal, path)
	}
	for _, seg := range strings.FieldsFunc(path, isSeparator) {
		if seg == ".." {
			return "", fmt.Errorf("%w: parent segment in %q", domain.ErrPathTraversal, path)
		}
	}

	base := filepath.Clean(root)
	full := filepath.Clean(filepath.Join(base, path))
	if !Within(full, base) {
		return "", fmt.Errorf("%w: %q escapes root", domain.ErrPathTraversal, path)
	}
	return full, nil
}

// Within reports whether the cleaned path p equals root or lies below it.
func Within(p, root string) bool {
	p = filepath.Clean(p)
	root = filepath.Clean(root)
	if p == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(p, root)
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
