package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const responsePrefix = "idempotency:"

// ResponseStore keeps serialized responses for idempotent retries.
type ResponseStore struct {
	client *redis.Client
}

// NewResponseStore creates a new ResponseStore.
func NewResponseStore(client *redis.Client) *ResponseStore {
	return &ResponseStore{client: client}
}

// Get returns the stored response for key, or nil when absent.
func (s *ResponseStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, responsePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// Set stores a response for ttl.
func (s *ResponseStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, responsePrefix+key, data, ttl).Err()
}
