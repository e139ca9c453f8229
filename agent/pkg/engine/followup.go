package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SuggestFollowUps generates up to three suggested follow-up questions
// from a completed Q&A pair. Best-effort: parse failures return nil.
func (e *Engine) SuggestFollowUps(ctx context.Context, question, answer string) []string {
	userPrompt := fmt.Sprintf("User question: %s\n\nAnswer provided:\n%s", question, answer)
	response, err := e.llm.Complete(ctx, e.prompts.FollowUp, userPrompt)
	if err != nil {
		e.logInfo("engine: follow-up suggestion failed", "error", err)
		return nil
	}

	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		lines := strings.Split(response, "\n")
		if len(lines) > 2 {
			response = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var questions []string
	if err := json.Unmarshal([]byte(response), &questions); err != nil {
		e.logInfo("engine: failed to parse follow-up suggestions", "error", err, "response", response)
		return nil
	}

	if len(questions) > 3 {
		questions = questions[:3]
	}
	return questions
}
