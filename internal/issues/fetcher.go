// Package issues reads live GitHub issues through the gh CLI so they can be
// solved like benchmark instances, and reports patches back as comments.
package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// GHTimeout bounds a single gh invocation
const GHTimeout = 30 * time.Second

// commandRunner runs gh with args and returns stdout
type commandRunner func(ctx context.Context, args ...string) ([]byte, error)

// Fetcher handles fetching and commenting on GitHub issues via gh CLI.
type Fetcher struct {
	repo string
	gh   commandRunner
}

// NewFetcher creates a Fetcher for owner/repo.
func NewFetcher(repo string) *Fetcher {
	return &Fetcher{repo: repo, gh: runGH}
}

func runGH(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, GHTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(ee.Stderr))
		}
		return nil, fmt.Errorf("gh %s: %w: %s", args[0]+" "+args[1], err, stderr)
	}
	return out, nil
}

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (g ghIssue) toDomain(repo string) *domain.GitHubIssue {
	return &domain.GitHubIssue{Number: g.Number, Repo: repo, Title: g.Title, Body: g.Body}
}

func parseIssueFromJSON(data []byte, repo string) (*domain.GitHubIssue, error) {
	var gh ghIssue
	if err := json.Unmarshal(data, &gh); err != nil {
		return nil, err
	}
	return gh.toDomain(repo), nil
}

// Fetch returns one issue.
func (f *Fetcher) Fetch(ctx context.Context, number int) (*domain.GitHubIssue, error) {
	out, err := f.gh(ctx, "issue", "view", strconv.Itoa(number),
		"--repo", f.repo,
		"--json", "number,title,body,labels")
	if err != nil {
		return nil, err
	}
	issue, err := parseIssueFromJSON(out, f.repo)
	if err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	return issue, nil
}

// FetchLabeled returns open issues carrying label, newest first as gh lists them.
func (f *Fetcher) FetchLabeled(ctx context.Context, label string, limit int) ([]*domain.GitHubIssue, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := f.gh(ctx, "issue", "list",
		"--repo", f.repo,
		"--label", label,
		"--state", "open",
		"--json", "number,title,body,labels",
		"--limit", strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}

	var ghIssues []ghIssue
	if err := json.Unmarshal(out, &ghIssues); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	issues := make([]*domain.GitHubIssue, 0, len(ghIssues))
	for _, gh := range ghIssues {
		issues = append(issues, gh.toDomain(f.repo))
	}
	return issues, nil
}

// PostComment posts a comment on an issue.
func (f *Fetcher) PostComment(ctx context.Context, number int, body string) error {
	_, err := f.gh(ctx, "issue", "comment", strconv.Itoa(number),
		"--repo", f.repo, "--body", body)
	return err
}

// ParseRef splits "owner/repo#123" into repository and issue number.
func ParseRef(ref string) (repo string, number int, err error) {
	repo, num, ok := strings.Cut(ref, "#")
	if !ok || strings.Count(repo, "/") != 1 {
		return "", 0, fmt.Errorf("invalid issue reference %q (expected owner/repo#123)", ref)
	}
	number, err = strconv.Atoi(num)
	if err != nil || number <= 0 {
		return "", 0, fmt.Errorf("invalid issue number in %q", ref)
	}
	return repo, number, nil
}
