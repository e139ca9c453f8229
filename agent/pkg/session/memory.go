package session

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore is an in-process Store backed by a TTL cache.
// Suitable for single-instance deployments and tests.
type MemoryStore struct {
	cache *ttlcache.Cache[string, State]
}

// NewMemoryStore creates a MemoryStore whose entries expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, State](ttl),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

// Get returns the live state for a conversation, if any.
func (s *MemoryStore) Get(_ context.Context, conversationID string) (State, bool, error) {
	item := s.cache.Get(conversationID)
	if item == nil {
		return State{}, false, nil
	}
	return item.Value(), true, nil
}

// Put overwrites the state for a conversation and resets its TTL.
func (s *MemoryStore) Put(_ context.Context, conversationID string, state State) error {
	s.cache.Set(conversationID, state, ttlcache.DefaultTTL)
	return nil
}

// Close stops the background expiration loop.
func (s *MemoryStore) Close() {
	s.cache.Stop()
}
