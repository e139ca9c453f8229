package engine

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/salesdesk/agent/pkg/engine/prompts"
)

// Prompts contains all the engine prompts loaded from embedded files.
type Prompts struct {
	Generate      string // SQL generation (schema appended at call time)
	Contextualize string // Follow-up rewriting into a standalone question
	Descriptive   string // Natural-language answer over query results
	Elaborate     string // Deeper explanation of the previous answer
	Entities      string // Entity context extraction (JSON)
	General       string // Free-form fallback answer
	FollowUp      string // Follow-up question suggestions (JSON array)

	ReasonObservations    string
	ReasonPatterns        string
	ReasonImplications    string
	ReasonRecommendations string
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, err
	}
	if p.Contextualize, err = loadPrompt("CONTEXTUALIZE.md"); err != nil {
		return nil, err
	}
	if p.Descriptive, err = loadPrompt("DESCRIPTIVE.md"); err != nil {
		return nil, err
	}
	if p.Elaborate, err = loadPrompt("ELABORATE.md"); err != nil {
		return nil, err
	}
	if p.Entities, err = loadPrompt("ENTITIES.md"); err != nil {
		return nil, err
	}
	if p.General, err = loadPrompt("GENERAL.md"); err != nil {
		return nil, err
	}
	if p.FollowUp, err = loadPrompt("FOLLOWUP.md"); err != nil {
		return nil, err
	}
	if p.ReasonObservations, err = loadPrompt("REASON_OBSERVATIONS.md"); err != nil {
		return nil, err
	}
	if p.ReasonPatterns, err = loadPrompt("REASON_PATTERNS.md"); err != nil {
		return nil, err
	}
	if p.ReasonImplications, err = loadPrompt("REASON_IMPLICATIONS.md"); err != nil {
		return nil, err
	}
	if p.ReasonRecommendations, err = loadPrompt("REASON_RECOMMENDATIONS.md"); err != nil {
		return nil, err
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// BuildGeneratePrompt combines the static generation prompt with the
// live database schema.
func BuildGeneratePrompt(staticPrompt, schema string) string {
	return staticPrompt + "\n\n## Database Schema\n\n```\n" + schema + "\n```"
}
