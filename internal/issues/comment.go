package issues

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
)

// maxCommentPatch keeps comments well under GitHub's body limit
const maxCommentPatch = 60000

// FormatPatchComment renders a solve result as an issue comment.
func FormatPatchComment(res domain.SolveResult) string {
	var b strings.Builder
	if res.Patch == "" {
		fmt.Fprintf(&b, "No patch could be generated with the `%s` strategy.", res.Strategy)
		if res.Error != "" {
			fmt.Fprintf(&b, "\n\nError: `%s`", res.Error)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Proposed fix (strategy `%s`, %.1fs, %d tokens)", res.Strategy, res.ElapsedSeconds, res.TokensUsed)
	if stats, err := patch.ComputeStats(res.Patch); err == nil && len(stats.Files) > 0 {
		fmt.Fprintf(&b, ": %d file(s), +%d/-%d", len(stats.Files), stats.LinesAdded, stats.LinesRemoved)
	}
	if !patch.ValidateSyntax(res.Patch).Valid {
		b.WriteString("\n\n> The patch is not a well-formed unified diff and may need manual cleanup.")
	}

	body := res.Patch
	if len(body) > maxCommentPatch {
		body = domain.Truncate(body, maxCommentPatch) + "\n... (truncated)"
	}
	fmt.Fprintf(&b, "\n\n```diff\n%s\n```\n", strings.TrimRight(body, "\n"))
	return b.String()
}
