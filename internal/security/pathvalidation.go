// Package security confines file references supplied in requests and config
// files to directories the operator allowed.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDir is returned when a path escapes its allowed directory.
var ErrOutsideDir = errors.New("path escapes allowed directory")

// canonical resolves symlinks in the longest existing prefix of path so that a
// link anywhere along the way cannot point outside the allowed tree.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rest := ""
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
	}
}

// WithinDir resolves path relative to dir when it is not absolute and returns
// the canonical result if it stays inside dir.
func WithinDir(path, dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: no directory configured", ErrOutsideDir)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	root, err := canonical(dir)
	if err != nil {
		return "", err
	}
	target, err := canonical(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s not under %s", ErrOutsideDir, path, dir)
	}
	return target, nil
}

// SanitizeFilename turns an arbitrary identifier such as a session name into a
// safe file name of at most 128 characters.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		ok := r == '.' || r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if r == '_' || !ok {
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
			continue
		}
		b.WriteRune(r)
		underscore = false
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
