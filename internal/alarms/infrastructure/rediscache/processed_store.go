package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultProcessedPrefix = "frostguard:processed:"

// ProcessedStore records handled message ids with SETNX so redeliveries
// are dropped across engine replicas.
type ProcessedStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewProcessedStore constructs a store. Ids expire after ttl.
func NewProcessedStore(client *redis.Client, ttl time.Duration) (*ProcessedStore, error) {
	if client == nil {
		return nil, errors.New("processed store: nil redis client")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProcessedStore{client: client, prefix: defaultProcessedPrefix, ttl: ttl}, nil
}

// MarkProcessed reports false when the id was already recorded for the consumer.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, messageID, consumerName string) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+consumerName+":"+messageID, 1, s.ttl).Result()
}
