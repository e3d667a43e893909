// Package prompts provides externalized prompt templates with override support.
package prompts

import "embed"

//go:embed templates/director/*.md templates/programmer/*.md templates/reviewer/*.md
var embeddedFS embed.FS
