// Package tools implements the repository inspection tools available to the
// iterative strategy, and the parser that finds tool calls in model output.
package tools

import (
	"regexp"
	"strings"
)

// Call is one parsed tool invocation
type Call struct {
	Name string
	Args string
}

// Parser finds the first tool call in an assistant message
type Parser interface {
	Parse(text string) (Call, bool)
}

// ActionParser recognizes `Action: name(args)` lines
type ActionParser struct{}

var actionRe = regexp.MustCompile(`(?s)Action:\s*(\w+)\s*\(([^)]*)\)`)

// Parse implements Parser
func (ActionParser) Parse(text string) (Call, bool) {
	m := actionRe.FindStringSubmatch(text)
	if m == nil {
		return Call{}, false
	}
	return Call{
		Name: strings.TrimSpace(m[1]),
		Args: unquote(strings.TrimSpace(m[2])),
	}, true
}

// unquote strips surrounding quote characters the way models tend to add them
func unquote(s string) string {
	return strings.Trim(s, `"'`)
}

// splitArgs splits "a, b" into at most n parts, each unquoted
func splitArgs(args string, n int) []string {
	parts := strings.SplitN(args, ",", n)
	for i, p := range parts {
		parts[i] = unquote(strings.TrimSpace(p))
	}
	return parts
}
