package domain

import (
	"fmt"
	"strings"
)

// GitHubIssue is a live issue fetched for ad-hoc solving
type GitHubIssue struct {
	Number int
	Repo   string
	Title  string
	Body   string
}

// InstanceID returns the benchmark-style identifier, e.g. "django__django-11001"
func (i *GitHubIssue) InstanceID() string {
	return fmt.Sprintf("%s-%d", strings.ReplaceAll(i.Repo, "/", "__"), i.Number)
}

// ToInstance converts the issue into a task instance at the given revision
func (i *GitHubIssue) ToInstance(baseCommit string) TaskInstance {
	problem := i.Title
	if i.Body != "" {
		problem = i.Title + "\n\n" + i.Body
	}
	return TaskInstance{
		InstanceID:       i.InstanceID(),
		Repo:             i.Repo,
		BaseCommit:       baseCommit,
		ProblemStatement: problem,
	}
}
