package eventing

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ProcessedStore provides idempotency checks.
type ProcessedStore interface {
	// MarkProcessed records the message and reports false when it was already recorded.
	MarkProcessed(ctx context.Context, messageID, consumerName string) (bool, error)
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, messageID string, payload []byte) error

// WrapHandler enforces at-most-once handling per consumer. Messages without
// an id are always handled.
func WrapHandler(consumerName string, handler Handler, store ProcessedStore) Handler {
	if store == nil {
		return handler
	}
	return func(ctx context.Context, messageID string, payload []byte) error {
		if messageID == "" {
			return handler(ctx, messageID, payload)
		}
		first, err := store.MarkProcessed(ctx, messageID, consumerName)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
		return handler(ctx, messageID, payload)
	}
}

// MemoryProcessedStore keeps processed ids in process memory with a TTL.
type MemoryProcessedStore struct {
	cache *gocache.Cache
}

// NewMemoryProcessedStore constructs a store that forgets ids after ttl.
func NewMemoryProcessedStore(ttl time.Duration) *MemoryProcessedStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryProcessedStore{cache: gocache.New(ttl, 2*ttl)}
}

// MarkProcessed implements ProcessedStore.
func (s *MemoryProcessedStore) MarkProcessed(ctx context.Context, messageID, consumerName string) (bool, error) {
	_ = ctx
	if err := s.cache.Add(consumerName+"|"+messageID, struct{}{}, gocache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}
