package retrieval

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

// DefaultExtensions are the source files searched when none are given
var DefaultExtensions = []string{".py"}

var skipDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	"venv":         true,
	"env":          true,
	"dist":         true,
	"build":        true,
	"egg-info":     true,
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name] || strings.HasSuffix(name, ".egg-info")
}

func hasExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	for _, e := range exts {
		if strings.HasSuffix(name, e) {
			return true
		}
	}
	return false
}

// walkSource visits regular files under root in lexical order, pruning ignored
// directories. Returning fs.SkipAll from fn stops the walk.
func walkSource(ctx context.Context, root string, exts []string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, not fatal
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !hasExt(d.Name(), exts) {
			return nil
		}
		return fn(path)
	})
}

// IsTestFile reports whether a path looks like a test module
func IsTestFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "test_") || strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), "_test") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "tests" || part == "test" {
			return true
		}
	}
	return false
}
