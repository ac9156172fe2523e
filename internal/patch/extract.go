// Package patch pulls unified diffs out of model output and checks their shape.
package patch

import (
	"regexp"
	"strings"
)

// Recognizer tries to find a patch in model output. It must be pure.
type Recognizer func(text string) (string, bool)

// Recognizers run in priority order; the first hit wins.
var Recognizers = []Recognizer{
	FencedDiff,
	FencedUnified,
	RawScan,
	MarkerFallback,
}

// Extract returns the first patch any recognizer finds, or "" when the text
// holds no recognizable diff.
func Extract(text string) string {
	for _, r := range Recognizers {
		if p, ok := r(text); ok {
			return p
		}
	}
	return ""
}

var (
	diffFenceRe = regexp.MustCompile("(?s)```diff\\s*(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \\t]*\\n(.*?)```")
)

// FencedDiff matches the first ```diff block with non-empty contents
func FencedDiff(text string) (string, bool) {
	for _, m := range diffFenceRe.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			return body, true
		}
	}
	return "", false
}

// FencedUnified matches the first fenced block of any language whose body
// carries both file markers and a hunk header
func FencedUnified(text string) (string, bool) {
	for _, m := range anyFenceRe.FindAllStringSubmatch(text, -1) {
		body := m[1]
		if strings.Contains(body, "--- ") && strings.Contains(body, "+++ ") && strings.Contains(body, "@@") {
			return strings.TrimSpace(body), true
		}
	}
	return "", false
}

// minRawLines is how much body RawScan collects before a blank line may end it
const minRawLines = 5

// RawScan collects an unfenced diff starting at the first "--- " or
// "diff --git" line. It stops at a blank line once more than five lines are
// collected and the line before the blank is not an added or removed line.
func RawScan(text string) (string, bool) {
	var out []string
	in := false
	for _, line := range strings.Split(text, "\n") {
		if !in && (strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "diff --git")) {
			in = true
		}
		if !in {
			continue
		}
		out = append(out, line)
		if strings.TrimSpace(line) == "" && len(out) > minRawLines {
			prev := out[len(out)-2]
			if !strings.HasPrefix(prev, "+") && !strings.HasPrefix(prev, "-") {
				break
			}
		}
	}
	p := strings.TrimSpace(strings.Join(out, "\n"))
	return p, p != ""
}

// MarkerFallback returns the whole text when it has a hunk header and a file marker
func MarkerFallback(text string) (string, bool) {
	if strings.Contains(text, "@@") && (strings.Contains(text, "---") || strings.Contains(text, "+++")) {
		return strings.TrimSpace(text), true
	}
	return "", false
}
