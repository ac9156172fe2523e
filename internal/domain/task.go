package domain

import (
	"fmt"
	"strings"
)

// TaskInstance describes one issue to resolve. Instances are loaded once
// from the dataset and never mutated.
type TaskInstance struct {
	InstanceID       string `json:"instance_id"`
	Repo             string `json:"repo"`
	BaseCommit       string `json:"base_commit"`
	ProblemStatement string `json:"problem_statement"`
}

// RepoDirName returns a filesystem-safe directory name for the repository
func (t TaskInstance) RepoDirName() string {
	return strings.ReplaceAll(t.Repo, "/", "__")
}

// GitURL returns the clone URL of the repository
func (t TaskInstance) GitURL() string {
	return fmt.Sprintf("https://github.com/%s.git", t.Repo)
}

// Title returns the first line of the problem statement, capped at 100 chars
func (t TaskInstance) Title() string {
	if t.ProblemStatement == "" {
		return "Unknown Issue"
	}
	title, _, _ := strings.Cut(t.ProblemStatement, "\n")
	return Truncate(title, 100)
}

// Summary returns a brief one-line description for logs
func (t TaskInstance) Summary() string {
	return fmt.Sprintf("[%s] repo=%s issue_len=%d chars", t.InstanceID, t.Repo, len(t.ProblemStatement))
}

// IndexByID maps instance IDs to instances
func IndexByID(instances []TaskInstance) map[string]TaskInstance {
	m := make(map[string]TaskInstance, len(instances))
	for _, inst := range instances {
		m[inst.InstanceID] = inst
	}
	return m
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func Truncate(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
