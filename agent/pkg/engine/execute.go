package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// OutcomeStatus classifies one execution attempt.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeRetryable OutcomeStatus = "retryable"
	OutcomeFatal     OutcomeStatus = "fatal"
)

// Outcome is the ephemeral result of executing a gate-approved query.
type Outcome struct {
	Status OutcomeStatus
	Result QueryResult
	Err    error
}

// Marker substrings used to recognize repairable failures. The matching
// is backend-specific and deliberately kept in one place so the rules
// can be revisited without touching the retry control flow.
var (
	// In-band error payloads from the querier.
	retryableResultMarkers = []string{"syntax", "relation", "column", "unknown identifier", "limit"}
	// Errors raised by the transport itself.
	retryableErrorMarkers = []string{"limit", "syntax error"}
)

// classifyFailure decides whether a failed attempt is worth one repair.
// err is a transport-level failure; result carries in-band backend errors.
func classifyFailure(result QueryResult, err error) OutcomeStatus {
	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, marker := range retryableErrorMarkers {
			if strings.Contains(msg, marker) {
				return OutcomeRetryable
			}
		}
		return OutcomeFatal
	}
	if result.Error != "" {
		msg := strings.ToLower(result.Error)
		for _, marker := range retryableResultMarkers {
			if strings.Contains(msg, marker) {
				return OutcomeRetryable
			}
		}
		return OutcomeFatal
	}
	return OutcomeSuccess
}

// Executor runs gate-approved SQL and performs the single repair attempt
// on retryable failures.
type Executor struct {
	querier Querier
	gate    Gate
	log     *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(querier Querier, gate Gate, log *slog.Logger) *Executor {
	return &Executor{querier: querier, gate: gate, log: log}
}

// Execute runs the query once and classifies the outcome.
func (e *Executor) Execute(ctx context.Context, sql string) Outcome {
	result, err := e.querier.Query(ctx, sql)
	if result.SQL == "" {
		result.SQL = sql
	}
	status := classifyFailure(result, err)
	if status == OutcomeSuccess {
		if result.Formatted == "" {
			result.Formatted = FormatQueryResult(result)
		}
		return Outcome{Status: OutcomeSuccess, Result: result}
	}
	if err == nil {
		err = fmt.Errorf("query failed: %s", result.Error)
	}
	return Outcome{Status: status, Result: result, Err: err}
}

// ExecuteWithRepair runs the query and, on a retryable failure, makes
// exactly one repair attempt: strip the LIMIT clause, re-apply the gate's
// limit enforcement, and execute once more. A second failure is fatal and
// carries the original error and the original query text for diagnostics.
func (e *Executor) ExecuteWithRepair(ctx context.Context, sql string) Outcome {
	first := e.Execute(ctx, sql)
	if first.Status != OutcomeRetryable {
		return first
	}

	repaired := e.gate.EnsureLimit(StripLimit(sql))
	if e.log != nil {
		e.log.Info("engine: retrying failed query with repaired limit",
			"sql", sql,
			"repairedSQL", repaired,
			"error", first.Err)
	}

	second := e.Execute(ctx, repaired)
	if second.Status == OutcomeSuccess {
		if e.log != nil {
			e.log.Info("engine: query repair succeeded", "sql", repaired)
		}
		return second
	}

	return Outcome{
		Status: OutcomeFatal,
		Result: first.Result,
		Err:    fmt.Errorf("query failed after repair attempt: %w (query: %s)", first.Err, sql),
	}
}
