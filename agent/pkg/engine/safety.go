package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UnsafeQueryError indicates a candidate query is not a single read-only
// statement and must never reach the database.
type UnsafeQueryError struct {
	SQL    string
	Reason string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("unsafe query blocked (%s): %s", e.Reason, e.SQL)
}

// SchemaViolationError indicates a query references a blocked schema or
// none of the allow-listed tables.
type SchemaViolationError struct {
	SQL    string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation (%s): %s", e.Reason, e.SQL)
}

var (
	forbiddenVerbRe = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|grant|revoke)\b`)
	aggregateRe     = regexp.MustCompile(`(?i)\b(sum|count|avg|min|max)\s*\(`)
	limitClauseRe   = regexp.MustCompile(`(?i)\blimit\s+(\d+)\b`)
	stripLimitRe    = regexp.MustCompile(`(?i)\s*\blimit\s+\d+\b`)
	sqlFenceRe      = regexp.MustCompile("(?is)```sql\\s*(.*?)```")
	codeFenceRe     = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// blockedSchemas are internal schemas a generated query may never touch.
var blockedSchemas = []string{"system.", "information_schema"}

// DefaultRowLimit is the row cap applied when the caller does not
// configure one.
const DefaultRowLimit = 200

// Gate validates and normalizes candidate SQL before execution.
// It is pure and deterministic; ValidateAndNormalize is idempotent.
type Gate struct {
	AllowedTables []string
	DefaultLimit  int
}

// NewGate creates a Gate over the given table allow-list.
func NewGate(allowedTables []string, defaultLimit int) Gate {
	if defaultLimit <= 0 {
		defaultLimit = DefaultRowLimit
	}
	return Gate{AllowedTables: allowedTables, DefaultLimit: defaultLimit}
}

// ValidateAndNormalize extracts the SQL body from a generator response,
// rejects anything that is not one read-only allow-listed statement, and
// enforces the row cap.
func (g Gate) ValidateAndNormalize(raw string) (string, error) {
	sql := ExtractSQL(raw)
	if sql == "" {
		return "", &UnsafeQueryError{SQL: raw, Reason: "empty query"}
	}

	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(sql)), "select") {
		return "", &UnsafeQueryError{SQL: sql, Reason: "statement must start with SELECT"}
	}
	if verb := forbiddenVerbRe.FindString(sql); verb != "" {
		return "", &UnsafeQueryError{SQL: sql, Reason: "forbidden verb " + strings.ToUpper(verb)}
	}

	// One optional trailing semicolon is tolerated; any other means a
	// second statement.
	if strings.Contains(strings.TrimRight(strings.TrimSpace(sql), "; \t\n"), ";") {
		return "", &UnsafeQueryError{SQL: sql, Reason: "multiple statements"}
	}
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")

	lower := strings.ToLower(sql)
	for _, schema := range blockedSchemas {
		if strings.Contains(lower, schema) {
			return "", &SchemaViolationError{SQL: sql, Reason: "blocked schema " + strings.TrimSuffix(schema, ".")}
		}
	}
	if len(g.AllowedTables) > 0 {
		found := false
		for _, table := range g.AllowedTables {
			if strings.Contains(lower, strings.ToLower(table)) {
				found = true
				break
			}
		}
		if !found {
			return "", &SchemaViolationError{SQL: sql, Reason: "no allow-listed table referenced"}
		}
	}

	return g.EnsureLimit(sql), nil
}

// EnsureLimit enforces the row cap. Aggregate-only statements are left
// alone since they return a bounded result. An existing LIMIT is capped
// at the default; otherwise the default LIMIT is appended. Idempotent.
func (g Gate) EnsureLimit(sql string) string {
	if aggregateRe.MatchString(sql) {
		return sql
	}

	if m := limitClauseRe.FindStringSubmatch(sql); m != nil {
		requested, err := strconv.Atoi(m[1])
		if err != nil {
			// Digits too large to parse cannot be honored anyway.
			requested = g.DefaultLimit
		}
		final := min(requested, g.DefaultLimit)
		return limitClauseRe.ReplaceAllString(sql, fmt.Sprintf("LIMIT %d", final))
	}

	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	return fmt.Sprintf("%s LIMIT %d", sql, g.DefaultLimit)
}

// StripLimit removes any LIMIT clause from a statement, used by the
// one-shot query repair before re-applying EnsureLimit.
func StripLimit(sql string) string {
	return strings.TrimSpace(stripLimitRe.ReplaceAllString(sql, ""))
}

// ExtractSQL pulls the query body out of a generator response that may
// wrap it in a fenced code block or a labeled section.
func ExtractSQL(text string) string {
	if text == "" {
		return ""
	}
	if m := sqlFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if idx := strings.Index(text, "SQLQuery:"); idx != -1 {
		return strings.TrimSpace(text[idx+len("SQLQuery:"):])
	}
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.Trim(strings.TrimSpace(text), "`")
}
