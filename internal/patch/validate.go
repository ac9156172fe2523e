package patch

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// MinLength is the trimmed length below which a patch is rejected outright
const MinLength = 20

// NonTrivialLength is the trimmed length a patch must exceed to count as non-trivial
const NonTrivialLength = 50

// Validity is the structural verdict on a patch
type Validity struct {
	Valid           bool `json:"valid"`
	HasSourceMarker bool `json:"has_from"`
	HasDestMarker   bool `json:"has_to"`
	HasHunkMarker   bool `json:"has_hunk"`
	HasChanges      bool `json:"has_changes"`
	TooShort        bool `json:"too_short,omitempty"`
}

// ValidateSyntax checks that a patch has source and destination file markers,
// a hunk header and at least one changed line
func ValidateSyntax(p string) Validity {
	trimmed := strings.TrimSpace(p)
	if len(trimmed) < MinLength {
		return Validity{TooShort: true}
	}

	var v Validity
	for _, line := range strings.Split(trimmed, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			v.HasSourceMarker = true
		case strings.HasPrefix(line, "+++ "):
			v.HasDestMarker = true
		case strings.HasPrefix(line, "@@"):
			v.HasHunkMarker = true
		}
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			v.HasChanges = true
		}
	}
	v.Valid = v.HasSourceMarker && v.HasDestMarker && v.HasHunkMarker && v.HasChanges
	return v
}

// IsNonTrivial reports whether a patch is longer than a placeholder
func IsNonTrivial(p string) bool {
	return len(strings.TrimSpace(p)) > NonTrivialLength
}

// Stats summarizes what a parsed patch touches
type Stats struct {
	Files        []string `json:"files"`
	Hunks        int      `json:"hunks"`
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`
}

// Parse reads a (multi-file) unified diff
func Parse(p string) ([]*diff.FileDiff, error) {
	if !strings.HasSuffix(p, "\n") {
		p += "\n"
	}
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(p)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}
	return fds, nil
}

// ComputeStats parses p and counts files, hunks and changed lines
func ComputeStats(p string) (Stats, error) {
	fds, err := Parse(p)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, fd := range fds {
		s.Files = append(s.Files, fileName(fd))
		s.Hunks += len(fd.Hunks)
		for _, h := range fd.Hunks {
			for _, line := range strings.Split(string(h.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					s.LinesAdded++
				case strings.HasPrefix(line, "-"):
					s.LinesRemoved++
				}
			}
		}
	}
	return s, nil
}

func fileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return name
}
