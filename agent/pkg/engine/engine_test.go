package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/salesdesk/agent/pkg/session"
)

// fakeLLM routes a Complete call to a canned response by recognizing
// which prompt it was given, and records the calls it saw.
type fakeLLM struct {
	prompts   *Prompts
	responses map[string]string
	errs      map[string]error
	calls     []string
	users     map[string]string
}

func newFakeLLM(prompts *Prompts) *fakeLLM {
	return &fakeLLM{
		prompts: prompts,
		responses: map[string]string{
			"generate":      "```sql\nSELECT customer, SUM(sales) AS sales FROM deliveries GROUP BY customer\n```",
			"descriptive":   "ACME leads with 120,000 in sales.",
			"contextualize": "Break down ACME sales by zone",
			"elaborate":     "In more detail, ACME grew 12% month over month.",
			"entities":      `{"entity_type":"customer","entities":["ACME"],"metric":"sales"}`,
			"followup":      `["Which items drove ACME sales?","How does ACME compare to last year?"]`,
			"general":       "I can answer questions about your sales and delivery data.",
			"observations":  "Sales are concentrated in one customer.",
			"patterns":      "Concentration has increased quarter over quarter.",
			"implications":  "Revenue is exposed to a single account.",
			"recommend":     "Diversify the customer base.",
		},
		errs:  map[string]error{},
		users: map[string]string{},
	}
}

func (f *fakeLLM) label(system string) string {
	p := f.prompts
	switch {
	case strings.HasPrefix(system, p.Generate):
		return "generate"
	case system == p.Descriptive:
		return "descriptive"
	case system == p.Contextualize:
		return "contextualize"
	case system == p.Elaborate:
		return "elaborate"
	case system == p.Entities:
		return "entities"
	case system == p.FollowUp:
		return "followup"
	case system == p.General:
		return "general"
	case system == p.ReasonObservations:
		return "observations"
	case system == p.ReasonPatterns:
		return "patterns"
	case system == p.ReasonImplications:
		return "implications"
	case system == p.ReasonRecommendations:
		return "recommend"
	default:
		return "unknown"
	}
}

func (f *fakeLLM) Complete(_ context.Context, system, user string) (string, error) {
	label := f.label(system)
	f.calls = append(f.calls, label)
	f.users[label] = user
	if err := f.errs[label]; err != nil {
		return "", err
	}
	resp, ok := f.responses[label]
	if !ok {
		return "", fmt.Errorf("no canned response for prompt %q", label)
	}
	return resp, nil
}

func (f *fakeLLM) called(label string) bool {
	for _, c := range f.calls {
		if c == label {
			return true
		}
	}
	return false
}

type fakeSchema struct{}

func (fakeSchema) FetchSchema(context.Context) (string, error) {
	return "Table: deliveries\n  customer String\n  sales Float64", nil
}

// recordingStore is an in-memory session.Store that counts writes.
type recordingStore struct {
	states map[string]session.State
	puts   int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{states: map[string]session.State{}}
}

func (s *recordingStore) Get(_ context.Context, conversationID string) (session.State, bool, error) {
	state, ok := s.states[conversationID]
	return state, ok, nil
}

func (s *recordingStore) Put(_ context.Context, conversationID string, state session.State) error {
	s.puts++
	s.states[conversationID] = state
	return nil
}

type testFixture struct {
	engine  *Engine
	llm     *fakeLLM
	querier *scriptedQuerier
	store   *recordingStore
}

func newTestEngine(t *testing.T) *testFixture {
	t.Helper()

	prompts, err := LoadPrompts()
	require.NoError(t, err)

	llm := newFakeLLM(prompts)
	querier := &scriptedQuerier{results: []QueryResult{okResult(), okResult()}}
	store := newRecordingStore()

	engine, err := New(&Config{
		LLM:           llm,
		Querier:       querier,
		SchemaFetcher: fakeSchema{},
		Sessions:      store,
		Prompts:       prompts,
		Gate:          NewGate([]string{"deliveries"}, 200),
		Clock:         clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	return &testFixture{engine: engine, llm: llm, querier: querier, store: store}
}

func TestNew_RequiresDependencies(t *testing.T) {
	prompts, err := LoadPrompts()
	require.NoError(t, err)

	_, err = New(&Config{
		Querier:       &scriptedQuerier{},
		SchemaFetcher: fakeSchema{},
		Sessions:      newRecordingStore(),
		Prompts:       prompts,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM")
}

func TestProcess_ConversationalSkipsModelAndStore(t *testing.T) {
	f := newTestEngine(t)

	resp, err := f.engine.Process(t.Context(), TurnRequest{Message: "hi there"})
	require.NoError(t, err)

	assert.Equal(t, ModeConversational, resp.Mode)
	assert.Equal(t, "Hello! I'm your sales analytics assistant. How can I help you today?", resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Empty(t, f.llm.calls)
	assert.Empty(t, f.querier.calls)
	assert.Zero(t, f.store.puts)
}

func TestProcess_DescriptiveTurn(t *testing.T) {
	f := newTestEngine(t)

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
	})
	require.NoError(t, err)

	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, ModeDescriptive, resp.Mode)
	assert.Equal(t, "ACME leads with 120,000 in sales.", resp.Answer)
	assert.Equal(t, "top customers by total sales", resp.UsedQuestion)
	assert.Empty(t, resp.SQL, "sql is debug-only")
	assert.Equal(t, "customer", resp.Meta.EntityType)
	assert.Equal(t, []string{"ACME"}, resp.Meta.Entities)
	assert.Equal(t, "sales", resp.Meta.Metric)
	assert.Equal(t, []string{"Which items drove ACME sales?", "How does ACME compare to last year?"}, resp.Meta.Suggestions)

	// The whole turn is persisted in one write.
	require.Equal(t, 1, f.store.puts)
	state := f.store.states["conv-1"]
	assert.Equal(t, "top customers by total sales", state.LastQuestion)
	assert.Equal(t, "SELECT customer, SUM(sales) AS sales FROM deliveries GROUP BY customer", state.LastSQL)
	assert.Contains(t, state.LastResult, "Results (1 rows):")
	assert.Equal(t, resp.Answer, state.LastAnswer)
	assert.Equal(t, "customer", state.EntityType)
}

func TestProcess_DebugExposesSQL(t *testing.T) {
	f := newTestEngine(t)

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
		Debug:          true,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT customer, SUM(sales) AS sales FROM deliveries GROUP BY customer", resp.SQL)
}

func TestProcess_GateRejectionFallsBackToGeneral(t *testing.T) {
	f := newTestEngine(t)
	f.llm.responses["generate"] = "```sql\nDROP TABLE deliveries\n```"

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
	})
	require.NoError(t, err)

	assert.Equal(t, ModeGeneral, resp.Mode)
	assert.Equal(t, "I can answer questions about your sales and delivery data.", resp.Answer)
	assert.Empty(t, f.querier.calls, "rejected query must never execute")
	assert.Zero(t, f.store.puts, "fallback turns leave state untouched")
}

func TestProcess_GeneralFallbackFailureIsTheTurnError(t *testing.T) {
	f := newTestEngine(t)
	f.llm.responses["generate"] = "no query here"
	f.llm.errs["general"] = fmt.Errorf("model overloaded")

	_, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general fallback failed")
}

func TestProcess_FollowUpRewritesQuestion(t *testing.T) {
	f := newTestEngine(t)
	f.store.states["conv-1"] = priorTurnState()

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "now breakdown by zone",
	})
	require.NoError(t, err)

	assert.True(t, f.llm.called("contextualize"))
	assert.Equal(t, "Break down ACME sales by zone", resp.UsedQuestion)
	assert.Contains(t, f.llm.users["generate"], "Break down ACME sales by zone")
	// Prior context reaches the rewriting prompt.
	assert.Contains(t, f.llm.users["contextualize"], "ACME")
	assert.Contains(t, f.llm.users["contextualize"], priorTurnState().LastQuestion)
}

func TestProcess_FollowUpRewriteFailureUsesRawMessage(t *testing.T) {
	f := newTestEngine(t)
	f.store.states["conv-1"] = priorTurnState()
	f.llm.errs["contextualize"] = fmt.Errorf("model overloaded")

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "now breakdown by zone",
	})
	require.NoError(t, err)
	assert.Equal(t, "now breakdown by zone", resp.UsedQuestion)
}

func TestProcess_AnalyticalRendersReasoningTrace(t *testing.T) {
	f := newTestEngine(t)

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "why did sales drop last quarter?",
	})
	require.NoError(t, err)

	assert.Equal(t, ModeAnalytical, resp.Mode)
	assert.Contains(t, resp.Answer, "**Data Insights:**")
	assert.Contains(t, resp.Answer, "Sales are concentrated in one customer.")
	assert.Contains(t, resp.Answer, "Diversify the customer base.")

	// Each stage sees only the previous stage's output.
	assert.Equal(t, "Observations:\nSales are concentrated in one customer.", f.llm.users["patterns"])
	assert.Equal(t, "Patterns:\nConcentration has increased quarter over quarter.", f.llm.users["implications"])
	assert.Equal(t, "Implications:\nRevenue is exposed to a single account.", f.llm.users["recommend"])
}

func TestProcess_ReasoningFailureKeepsDescriptiveAnswer(t *testing.T) {
	f := newTestEngine(t)
	f.llm.errs["patterns"] = fmt.Errorf("model overloaded")

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "why did sales drop last quarter?",
	})
	require.NoError(t, err)

	assert.Equal(t, ModeAnalytical, resp.Mode)
	assert.Equal(t, "ACME leads with 120,000 in sales.", resp.Answer)
}

func TestProcess_Elaboration(t *testing.T) {
	f := newTestEngine(t)
	f.store.states["conv-1"] = priorTurnState()

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "tell me more",
	})
	require.NoError(t, err)

	assert.Equal(t, ModeElaboration, resp.Mode)
	assert.Equal(t, "In more detail, ACME grew 12% month over month.", resp.Answer)
	assert.Equal(t, priorTurnState().LastQuestion, resp.UsedQuestion)
	assert.Empty(t, f.querier.calls)
	assert.Zero(t, f.store.puts)
	// The prior turn's answer and raw result feed the prompt.
	assert.Contains(t, f.llm.users["elaborate"], priorTurnState().LastAnswer)
	assert.Contains(t, f.llm.users["elaborate"], priorTurnState().LastResult)
}

func TestProcess_ElaborationFailureFallsThroughToQueryPath(t *testing.T) {
	f := newTestEngine(t)
	f.store.states["conv-1"] = priorTurnState()
	f.llm.errs["elaborate"] = fmt.Errorf("model overloaded")

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "tell me more",
	})
	require.NoError(t, err)

	assert.Equal(t, ModeDescriptive, resp.Mode)
	assert.NotEmpty(t, f.querier.calls)
}

func TestProcess_EntityParseFailureDegradesToUnknown(t *testing.T) {
	f := newTestEngine(t)
	f.llm.responses["entities"] = "not json at all"

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
	})
	require.NoError(t, err)

	assert.Equal(t, session.Unknown, resp.Meta.EntityType)
	assert.Equal(t, session.Unknown, resp.Meta.Metric)
	assert.Empty(t, resp.Meta.Entities)
}

func TestProcess_MetaEntitiesCappedAtThree(t *testing.T) {
	f := newTestEngine(t)
	f.llm.responses["entities"] = `{"entity_type":"customer","entities":["a","b","c","d","e"],"metric":"sales"}`

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, resp.Meta.Entities)
	// The stored state keeps the full list.
	assert.Len(t, f.store.states["conv-1"].Entities, 5)
}

func TestProcess_FollowUpSuggestionFailureIsSilent(t *testing.T) {
	f := newTestEngine(t)
	f.llm.responses["followup"] = "sure, here are some ideas!"

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Meta.Suggestions)
}

func TestProcess_RepeatedExecutionFailureFallsBackToGeneral(t *testing.T) {
	f := newTestEngine(t)
	f.querier.results = []QueryResult{
		{Error: "Syntax error: unexpected token"},
		{Error: "Syntax error: unexpected token"},
	}

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
		Debug:          true,
	})
	require.NoError(t, err)

	assert.Equal(t, ModeGeneral, resp.Mode)
	assert.Equal(t, "I can answer questions about your sales and delivery data.", resp.Answer)
	assert.Empty(t, resp.SQL, "fallback turn carries no SQL even in debug mode")
	assert.Len(t, f.querier.calls, 2, "one attempt plus one repair, then stop")
	assert.Zero(t, f.store.puts, "failed turns leave session state untouched")
}

func TestProcess_EntityTypeOutsideClosedSetDegradesToUnknown(t *testing.T) {
	f := newTestEngine(t)
	f.llm.responses["entities"] = `{"entity_type":"franchise","entities":["North"],"metric":"sales"}`

	resp, err := f.engine.Process(t.Context(), TurnRequest{
		ConversationID: "conv-1",
		Message:        "top customers by total sales",
	})
	require.NoError(t, err)

	assert.Equal(t, session.Unknown, resp.Meta.EntityType)
	assert.Equal(t, []string{"North"}, resp.Meta.Entities)
	assert.Equal(t, session.Unknown, f.store.states["conv-1"].EntityType)
}
