// Package session holds per-conversation state for the chat engine.
// State is written as a whole after each successful query turn and
// expires via a TTL policy owned by the store.
package session

import "context"

const Unknown = "unknown"

// State is the conversational context carried between turns.
// All fields are populated together from the same turn, never mixed.
type State struct {
	LastQuestion string   `json:"last_question"`
	LastSQL      string   `json:"last_sql"`
	LastResult   string   `json:"last_result"`
	LastAnswer   string   `json:"last_answer"`
	EntityType   string   `json:"entity_type"`
	Entities     []string `json:"entities"`
	Metric       string   `json:"metric"`
}

// NewState returns a fresh state with default entity context.
func NewState() State {
	return State{EntityType: Unknown, Metric: Unknown}
}

// HasPriorTurn reports whether a previous analytical turn was recorded.
func (s State) HasPriorTurn() bool {
	return s.LastQuestion != ""
}

// Store provides conversation-scoped state access. Put overwrites the
// full state atomically; Get returns ok=false when no live state exists.
// Implementations must be safe for concurrent use across conversations.
type Store interface {
	Get(ctx context.Context, conversationID string) (State, bool, error)
	Put(ctx context.Context, conversationID string, state State) error
}
