package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation state in the chat_sessions table,
// letting state survive restarts and be shared across API instances.
// Expiry is enforced on read via the expires_at column.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgresStore creates a PostgresStore with the given TTL policy.
func NewPostgresStore(pool *pgxpool.Pool, ttl time.Duration) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

// Get returns the live state for a conversation, if any.
func (s *PostgresStore) Get(ctx context.Context, conversationID string) (State, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT state FROM chat_sessions
		WHERE conversation_id = $1 AND expires_at > NOW()
	`, conversationID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read session state: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("failed to decode session state: %w", err)
	}
	return st, true, nil
}

// Put overwrites the state for a conversation in a single upsert.
func (s *PostgresStore) Put(ctx context.Context, conversationID string, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_sessions (conversation_id, state, expires_at, updated_at)
		VALUES ($1, $2, NOW() + $3::interval, NOW())
		ON CONFLICT (conversation_id)
		DO UPDATE SET state = EXCLUDED.state, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, conversationID, raw, fmt.Sprintf("%d seconds", int(s.ttl.Seconds())))
	if err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}
