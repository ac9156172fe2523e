// Package prompts provides the chat prompt templates with override support.
package prompts

import "embed"

//go:embed system/*.md user/*.md
var embeddedFS embed.FS
