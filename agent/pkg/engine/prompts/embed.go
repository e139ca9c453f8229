// Package prompts embeds the engine prompt templates.
package prompts

import "embed"

//go:embed *.md
var FS embed.FS
