// Package engine implements the conversational query engine for the
// sales analytics assistant. It routes message intent, turns analytical
// questions into validated SQL, repairs and retries failed executions,
// keeps per-conversation state for follow-ups and elaboration, and runs
// a staged reasoning chain for causal questions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/salesdesk/agent/pkg/session"
)

// Config holds the configuration for the engine.
type Config struct {
	Logger        *slog.Logger
	LLM           LLMClient
	Querier       Querier
	SchemaFetcher SchemaFetcher
	Sessions      session.Store
	Prompts       *Prompts
	Gate          Gate
	Clock         clockwork.Clock // defaults to the real clock
}

// Engine orchestrates one turn at a time for many concurrent
// conversations. No conversation-level lock is held across blocking
// calls; state writes are last-write-wins at the store.
type Engine struct {
	log      *slog.Logger
	llm      LLMClient
	schema   SchemaFetcher
	sessions session.Store
	prompts  *Prompts
	gate     Gate
	executor *Executor
	clock    clockwork.Clock
}

// New creates an Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Querier == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if cfg.SchemaFetcher == nil {
		return nil, fmt.Errorf("schema fetcher is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompts are required")
	}
	if cfg.Gate.DefaultLimit == 0 {
		cfg.Gate.DefaultLimit = DefaultRowLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Engine{
		log:      cfg.Logger,
		llm:      cfg.LLM,
		schema:   cfg.SchemaFetcher,
		sessions: cfg.Sessions,
		prompts:  cfg.Prompts,
		gate:     cfg.Gate,
		executor: NewExecutor(cfg.Querier, cfg.Gate, cfg.Logger),
		clock:    clock,
	}, nil
}

func (e *Engine) logInfo(msg string, args ...any) {
	if e.log != nil {
		e.log.Info(msg, args...)
	}
}

// Process handles one turn. The only error it returns is the case where
// both the structured query path and the general fallback failed;
// everything else degrades to an answer.
func (e *Engine) Process(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	start := e.clock.Now()
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	state, ok, err := e.sessions.Get(ctx, convID)
	if err != nil {
		e.logInfo("engine: session read failed, starting fresh", "conversation", convID, "error", err)
	}
	if !ok || err != nil {
		state = session.NewState()
	}

	intent := Classify(req.Message, state)
	e.logInfo("engine: routed message", "conversation", convID, "intent", intent)

	resp := TurnResponse{ConversationID: convID}

	switch intent {
	case IntentConversational:
		resp.Mode = ModeConversational
		resp.Answer = ConversationalAnswer(req.Message)
		resp.Meta.LatencyMS = e.latencyMS(start)
		return resp, nil

	case IntentElaboration:
		answer, err := e.elaborate(ctx, state, req.Message)
		if err == nil {
			resp.Mode = ModeElaboration
			resp.Answer = answer
			resp.UsedQuestion = state.LastQuestion
			resp.Meta.LatencyMS = e.latencyMS(start)
			return resp, nil
		}
		// Graceful degradation: treat the raw message as a new question.
		e.logInfo("engine: elaboration failed, falling back to query path", "error", err)
	}

	question := req.Message
	if intent == IntentFollowUp {
		rewritten, err := e.contextualize(ctx, state, req.Message)
		if err != nil {
			e.logInfo("engine: follow-up rewriting failed, using raw message", "error", err)
		} else if rewritten != "" {
			question = rewritten
		}
	}

	turn, err := e.runQueryTurn(ctx, question, req.Message)
	if err != nil {
		e.logInfo("engine: structured path failed, using general fallback", "error", err)
		answer, gerr := e.llm.Complete(ctx, e.prompts.General, req.Message)
		if gerr != nil {
			return TurnResponse{}, fmt.Errorf("general fallback failed: %w (structured path: %s)", gerr, err)
		}
		resp.Mode = ModeGeneral
		resp.Answer = strings.TrimSpace(answer)
		resp.Meta.LatencyMS = e.latencyMS(start)
		return resp, nil
	}

	// One atomic overwrite: every field comes from this turn.
	newState := session.State{
		LastQuestion: question,
		LastSQL:      turn.sql,
		LastResult:   turn.result,
		LastAnswer:   turn.answer,
		EntityType:   turn.entities.EntityType,
		Entities:     turn.entities.Entities,
		Metric:       turn.entities.Metric,
	}
	if err := e.sessions.Put(ctx, convID, newState); err != nil {
		e.logInfo("engine: session write failed", "conversation", convID, "error", err)
	}

	resp.Mode = ModeDescriptive
	if turn.analytical {
		resp.Mode = ModeAnalytical
	}
	resp.Answer = turn.answer
	resp.UsedQuestion = question
	if req.Debug {
		resp.SQL = turn.sql
	}
	resp.Meta = TurnMeta{
		LatencyMS:   e.latencyMS(start),
		EntityType:  newState.EntityType,
		Entities:    truncateEntities(newState.Entities, 3),
		Metric:      newState.Metric,
		Suggestions: e.SuggestFollowUps(ctx, question, turn.answer),
	}
	return resp, nil
}

// queryTurn is the outcome of a successful structured query path.
type queryTurn struct {
	sql        string
	result     string
	answer     string
	entities   EntityContext
	analytical bool
}

// runQueryTurn drives generate, validate, execute, answer, reason, and
// extract. Any error here sends the caller to the general fallback.
func (e *Engine) runQueryTurn(ctx context.Context, question, original string) (*queryTurn, error) {
	schema, err := e.schema.FetchSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}

	raw, err := e.llm.Complete(ctx, BuildGeneratePrompt(e.prompts.Generate, schema),
		fmt.Sprintf("Question: %s", question))
	if err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}

	safeSQL, err := e.gate.ValidateAndNormalize(raw)
	if err != nil {
		return nil, err
	}

	outcome := e.executor.ExecuteWithRepair(ctx, safeSQL)
	if outcome.Status != OutcomeSuccess {
		return nil, outcome.Err
	}
	resultText := outcome.Result.Formatted

	descr, err := e.llm.Complete(ctx, e.prompts.Descriptive,
		fmt.Sprintf("User Question: %s\n\nContext Data:\n%s", question, resultText))
	if err != nil {
		return nil, fmt.Errorf("descriptive answer failed: %w", err)
	}
	answer := strings.TrimSpace(descr)

	analytical := IsAnalytical(original)
	if analytical {
		trace, rerr := e.Reason(ctx, question, resultText)
		if rerr != nil {
			e.logInfo("engine: reasoning pipeline failed, keeping base answer", "error", rerr)
		} else {
			answer = trace.Render()
		}
	}

	return &queryTurn{
		sql:        outcome.Result.SQL,
		result:     resultText,
		answer:     answer,
		entities:   e.ExtractEntities(ctx, outcome.Result.SQL, resultText),
		analytical: analytical,
	}, nil
}

// elaborate answers a "tell me more" request from the prior turn's
// question, answer, and raw result.
func (e *Engine) elaborate(ctx context.Context, state session.State, message string) (string, error) {
	userPrompt := fmt.Sprintf(
		"Previous Question: %s\n\nPrevious Answer:\n%s\n\nContext Data:\n%s\n\nUser Request: %s",
		state.LastQuestion, state.LastAnswer, state.LastResult, message)
	answer, err := e.llm.Complete(ctx, e.prompts.Elaborate, userPrompt)
	if err != nil {
		return "", fmt.Errorf("elaboration failed: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// contextualize rewrites a follow-up message into a standalone question
// using the prior turn's entity context.
func (e *Engine) contextualize(ctx context.Context, state session.State, message string) (string, error) {
	userPrompt := fmt.Sprintf(
		"Previous question:\n%s\n\nKnown context from last answer:\n- entity_type: %s\n- entities: %s\n- metric: %s\n\nUser message:\n%s",
		state.LastQuestion, state.EntityType, strings.Join(state.Entities, ", "), state.Metric, message)
	rewritten, err := e.llm.Complete(ctx, e.prompts.Contextualize, userPrompt)
	if err != nil {
		return "", fmt.Errorf("follow-up rewriting failed: %w", err)
	}
	return strings.TrimSpace(rewritten), nil
}

func (e *Engine) latencyMS(start time.Time) int64 {
	return e.clock.Since(start).Milliseconds()
}

func truncateEntities(entities []string, n int) []string {
	if len(entities) > n {
		return entities[:n]
	}
	return entities
}
