package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Querier executes SQL queries.
type Querier interface {
	// Query executes a SQL query and returns formatted results.
	// Backend errors are reported in-band via QueryResult.Error.
	Query(ctx context.Context, sql string) (QueryResult, error)
}

// SchemaFetcher retrieves database schema information.
type SchemaFetcher interface {
	// FetchSchema returns a formatted string describing the database schema.
	FetchSchema(ctx context.Context) (string, error)
}

// QueryResult holds the result of a query execution.
type QueryResult struct {
	SQL       string
	Columns   []string
	Rows      []map[string]any
	Count     int
	Error     string
	Formatted string // Human-readable formatted result
}

// Mode tags the kind of answer a turn produced.
type Mode string

const (
	ModeConversational Mode = "conversational"
	ModeElaboration    Mode = "elaboration"
	ModeDescriptive    Mode = "descriptive"
	ModeAnalytical     Mode = "analytical"
	ModeGeneral        Mode = "general"
)

// TurnRequest is one user message within a conversation.
type TurnRequest struct {
	ConversationID string
	Message        string
	Debug          bool
}

// TurnMeta carries measurement and entity context for a turn.
type TurnMeta struct {
	LatencyMS   int64
	EntityType  string
	Entities    []string
	Metric      string
	Suggestions []string
}

// TurnResponse is the engine's answer to one turn.
type TurnResponse struct {
	ConversationID string
	Mode           Mode
	Answer         string
	UsedQuestion   string
	SQL            string // populated only when TurnRequest.Debug is set
	Meta           TurnMeta
}

// FormatQueryResult creates a human-readable rendering of a query result
// suitable for feeding back into prompts.
func FormatQueryResult(result QueryResult) string {
	if result.Error != "" {
		return fmt.Sprintf("Error: %s", result.Error)
	}

	if len(result.Rows) == 0 {
		return "Query returned no results."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Results (%d rows):\n", len(result.Rows)))
	sb.WriteString("Columns: " + strings.Join(result.Columns, " | ") + "\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")

	maxRows := min(50, len(result.Rows))
	for i := range maxRows {
		row := result.Rows[i]
		var values []string
		for _, col := range result.Columns {
			values = append(values, FormatValue(row[col]))
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}

	if len(result.Rows) > 50 {
		sb.WriteString(fmt.Sprintf("... and %d more rows\n", len(result.Rows)-50))
	}

	return sb.String()
}

// FormatValue renders a single result cell, rounding floats for readability.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "NULL"
		}
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		return FormatValue(float64(val))
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SanitizeRows replaces NaN/Inf float values with nil so rows stay JSON-safe.
func SanitizeRows(rows []map[string]any) {
	for _, row := range rows {
		for k, v := range row {
			switch val := v.(type) {
			case float64:
				if math.IsNaN(val) || math.IsInf(val, 0) {
					row[k] = nil
				}
			case float32:
				if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
					row[k] = nil
				}
			}
		}
	}
}
