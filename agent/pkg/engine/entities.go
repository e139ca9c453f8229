package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/malbeclabs/salesdesk/agent/pkg/session"
)

// EntityContext is the entity frame extracted after a successful query
// turn, used to resolve follow-up questions.
type EntityContext struct {
	EntityType string   `json:"entity_type"`
	Entities   []string `json:"entities"`
	Metric     string   `json:"metric"`
}

func defaultEntityContext() EntityContext {
	return EntityContext{EntityType: session.Unknown, Entities: []string{}, Metric: session.Unknown}
}

// validEntityTypes is the closed set of entity types the extraction
// prompt enumerates. Anything else the model invents collapses to
// unknown so downstream contextualization never sees a stray type.
var validEntityTypes = map[string]bool{
	"customer":      true,
	"item":          true,
	"business_unit": true,
	"zone":          true,
	session.Unknown: true,
}

// ExtractEntities asks the model for the entity context of an executed
// query. A malformed response degrades to the unknown defaults rather
// than failing the turn.
func (e *Engine) ExtractEntities(ctx context.Context, sql, result string) EntityContext {
	userPrompt := fmt.Sprintf("Query:\n%s\n\nResult:\n%s", sql, result)
	response, err := e.llm.Complete(ctx, e.prompts.Entities, userPrompt)
	if err != nil {
		e.logInfo("engine: entity extraction failed", "error", err)
		return defaultEntityContext()
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		e.logInfo("engine: no JSON in entity extraction response", "response", response)
		return defaultEntityContext()
	}

	var ec EntityContext
	if err := json.Unmarshal([]byte(jsonStr), &ec); err != nil {
		e.logInfo("engine: failed to parse entity extraction response", "error", err)
		return defaultEntityContext()
	}

	if !validEntityTypes[ec.EntityType] {
		ec.EntityType = session.Unknown
	}
	if ec.Entities == nil {
		ec.Entities = []string{}
	}
	if ec.Metric == "" {
		ec.Metric = session.Unknown
	}
	return ec
}

// extractJSON finds the outermost JSON object in a model response,
// tolerating surrounding prose and code fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}
