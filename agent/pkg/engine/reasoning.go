package engine

import (
	"context"
	"fmt"
	"strings"
)

// Trace is the four-part analytical narrative produced for causal
// questions. It is folded into the final answer text and then discarded.
type Trace struct {
	Observations    string
	Patterns        string
	Implications    string
	Recommendations string
}

// Reason runs the four-stage reasoning chain for an analytical question.
// Stages are strictly sequential: each stage's prompt context is only the
// previous stage's output (stage 1 sees the question and result). Any
// stage failure aborts the trace; the caller keeps the base answer.
func (e *Engine) Reason(ctx context.Context, question, result string) (Trace, error) {
	var trace Trace

	observations, err := e.llm.Complete(ctx, e.prompts.ReasonObservations,
		fmt.Sprintf("Question: %s\n\nResult:\n%s", question, result))
	if err != nil {
		return Trace{}, fmt.Errorf("observations stage failed: %w", err)
	}
	trace.Observations = strings.TrimSpace(observations)

	patterns, err := e.llm.Complete(ctx, e.prompts.ReasonPatterns,
		fmt.Sprintf("Observations:\n%s", trace.Observations))
	if err != nil {
		return Trace{}, fmt.Errorf("patterns stage failed: %w", err)
	}
	trace.Patterns = strings.TrimSpace(patterns)

	implications, err := e.llm.Complete(ctx, e.prompts.ReasonImplications,
		fmt.Sprintf("Patterns:\n%s", trace.Patterns))
	if err != nil {
		return Trace{}, fmt.Errorf("implications stage failed: %w", err)
	}
	trace.Implications = strings.TrimSpace(implications)

	recommendations, err := e.llm.Complete(ctx, e.prompts.ReasonRecommendations,
		fmt.Sprintf("Implications:\n%s", trace.Implications))
	if err != nil {
		return Trace{}, fmt.Errorf("recommendations stage failed: %w", err)
	}
	trace.Recommendations = strings.TrimSpace(recommendations)

	return trace, nil
}

// Render folds the trace into a single structured answer.
func (t Trace) Render() string {
	return fmt.Sprintf(`**Analysis:**

**Data Insights:**
%s

**Patterns Identified:**
%s

**Business Implications:**
%s

**Recommendations:**
%s`, t.Observations, t.Patterns, t.Implications, t.Recommendations)
}
