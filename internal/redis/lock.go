package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles short-lived per-mechanic locks in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func mechanicLockKey(mechanicID string) string {
	return fmt.Sprintf("lock:mechanic:%s", mechanicID)
}

// AcquireMechanicLock attempts to take the accept lock of a mechanic.
// It returns a release function when the lock was acquired and nil when it is
// already held.
func (s *LockStore) AcquireMechanicLock(ctx context.Context, mechanicID string, ttl time.Duration) (func(context.Context) error, error) {
	key := mechanicLockKey(mechanicID)
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, s.client, []string{key}, token).Err()
	}, nil
}
