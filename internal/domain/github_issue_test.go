package domain

import (
	"testing"
)

func TestGitHubIssue_InstanceID(t *testing.T) {
	tests := []struct {
		name  string
		issue GitHubIssue
		want  string
	}{
		{"owner and name", GitHubIssue{Number: 42, Repo: "django/django"}, "django__django-42"},
		{"dashed repo", GitHubIssue{Number: 7, Repo: "psf/requests-oauth"}, "psf__requests-oauth-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.issue.InstanceID(); got != tt.want {
				t.Errorf("InstanceID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGitHubIssue_ToInstance(t *testing.T) {
	issue := GitHubIssue{Number: 3, Repo: "a/b", Title: "Crash on empty input", Body: "Steps to reproduce"}
	inst := issue.ToInstance("abc123")

	if inst.InstanceID != "a__b-3" {
		t.Errorf("InstanceID = %q", inst.InstanceID)
	}
	if inst.BaseCommit != "abc123" {
		t.Errorf("BaseCommit = %q, want abc123", inst.BaseCommit)
	}
	if inst.ProblemStatement != "Crash on empty input\n\nSteps to reproduce" {
		t.Errorf("ProblemStatement = %q", inst.ProblemStatement)
	}

	noBody := GitHubIssue{Number: 4, Repo: "a/b", Title: "Only title"}
	if got := noBody.ToInstance("").ProblemStatement; got != "Only title" {
		t.Errorf("ProblemStatement = %q, want title only", got)
	}
}
