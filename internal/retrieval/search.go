package retrieval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// SearchTimeout bounds a single keyword or grep scan
const SearchTimeout = 15 * time.Second

// keywordsSearched is how many of the leading keywords FindRelevantFiles scans for
const keywordsSearched = 5

// FindRelevantFiles ranks source files under root by how many of the first
// five keywords they contain. Ties keep discovery order. Any I/O problem
// degrades to fewer (or no) results, never an error.
func FindRelevantFiles(ctx context.Context, root string, keywords []string, maxFiles int) []string {
	if len(keywords) > keywordsSearched {
		keywords = keywords[:keywordsSearched]
	}
	if len(keywords) == 0 || maxFiles <= 0 {
		return nil
	}

	needles := make([][]byte, len(keywords))
	for i, kw := range keywords {
		needles[i] = []byte(kw)
	}

	ctx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	type hit struct {
		path  string
		count int
	}
	var hits []hit
	err := walkSource(ctx, root, DefaultExtensions, func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		n := 0
		for _, needle := range needles {
			if bytes.Contains(data, needle) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, hit{path: path, count: n})
		}
		return nil
	})
	if err != nil {
		slog.Debug("relevance scan stopped early", "root", root, "error", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].count > hits[j].count
	})

	if len(hits) > maxFiles {
		hits = hits[:maxFiles]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.path
	}
	return out
}

// PerFileContextChars caps each file excerpt in BuildCodeContext
const PerFileContextChars = 3000

// BuildCodeContext renders file excerpts with relative-path headers until
// maxChars is reached. Unreadable files and files past the budget are skipped.
func BuildCodeContext(root string, files []string, maxChars int) string {
	var parts []string
	total := 0
	for _, path := range files {
		if total >= maxChars {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		snippet := domain.Truncate(string(data), PerFileContextChars)
		part := fmt.Sprintf("### File: %s\n```python\n%s\n```\n", filepath.ToSlash(rel), snippet)
		parts = append(parts, part)
		total += len(part)
	}
	return strings.Join(parts, "\n")
}

// ReadFile returns a file's contents; files longer than maxLines keep their
// head and tail halves around a truncation marker.
func ReadFile(path string, maxLines int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.SplitAfter(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if maxLines <= 0 || len(lines) <= maxLines {
		return string(data), nil
	}
	half := maxLines / 2
	var b strings.Builder
	b.WriteString(strings.Join(lines[:half], ""))
	fmt.Fprintf(&b, "\n... [truncated %d lines] ...\n", len(lines)-maxLines)
	b.WriteString(strings.Join(lines[len(lines)-half:], ""))
	return b.String(), nil
}

// ListFiles returns up to maxFiles paths under dir, relative to dir.
// truncated is set when more files exist.
func ListFiles(ctx context.Context, dir string, exts []string, maxFiles int) (files []string, truncated bool, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, false, err
	}
	if !info.IsDir() {
		return nil, false, fmt.Errorf("%s is not a directory", dir)
	}

	err = walkSource(ctx, dir, exts, func(path string) error {
		if len(files) >= maxFiles {
			truncated = true
			return fs.SkipAll
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, truncated, err
}

// SourceFiles returns up to limit non-test source files under root in
// discovery order; it backs retrieval when keyword search finds nothing.
func SourceFiles(ctx context.Context, root string, limit int) []string {
	var out []string
	_ = walkSource(ctx, root, DefaultExtensions, func(path string) error {
		rel, err := filepath.Rel(root, path)
		if err != nil || IsTestFile(rel) {
			return nil
		}
		out = append(out, path)
		if len(out) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	return out
}

// Match is one grep hit
type Match struct {
	Path string
	Line int
	Text string
}

func (m Match) String() string {
	return fmt.Sprintf("%s:%d:%s", m.Path, m.Line, m.Text)
}

// perFileMatches mirrors grep -m 5
const perFileMatches = 5

// GrepSearch finds lines matching pattern under root, at most five per file
// and maxResults overall. Paths in results are relative to root. A pattern
// that is not a valid regular expression is matched literally.
func GrepSearch(ctx context.Context, root, pattern string, exts []string, maxResults int) ([]Match, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	ctx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	var matches []Match
	err = walkSource(ctx, root, exts, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		n, lineNo := 0, 0
		for sc.Scan() {
			lineNo++
			if !re.MatchString(sc.Text()) {
				continue
			}
			matches = append(matches, Match{Path: filepath.ToSlash(rel), Line: lineNo, Text: sc.Text()})
			n++
			if len(matches) >= maxResults {
				return fs.SkipAll
			}
			if n >= perFileMatches {
				break
			}
		}
		return nil
	})
	if err != nil {
		return matches, err
	}
	return matches, nil
}

// FormatMatches renders matches like grep -rn output
func FormatMatches(matches []Match) string {
	if len(matches) == 0 {
		return "(no matches)"
	}
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = m.String()
	}
	return strings.Join(lines, "\n")
}
