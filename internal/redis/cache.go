package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"roadside/internal/domain"
)

// MechanicCacheTTL bounds staleness of cached profiles.
const MechanicCacheTTL = 30 * time.Second

const mechanicCachePrefix = "cache:mechanic:"

// CacheStore handles mechanic profile caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetMechanic retrieves a mechanic from cache. A miss returns nil, nil.
func (s *CacheStore) GetMechanic(ctx context.Context, id string) (*domain.Mechanic, error) {
	data, err := s.client.Get(ctx, mechanicCachePrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var m domain.Mechanic
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMechanic stores a mechanic in cache.
func (s *CacheStore) SetMechanic(ctx context.Context, m *domain.Mechanic) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, mechanicCachePrefix+m.ID, data, MechanicCacheTTL).Err()
}

// InvalidateMechanic removes a mechanic from cache.
func (s *CacheStore) InvalidateMechanic(ctx context.Context, id string) error {
	return s.client.Del(ctx, mechanicCachePrefix+id).Err()
}

// GetMechanicsBatch retrieves several mechanics with one pipeline.
// It returns the hits keyed by ID and the IDs that missed.
func (s *CacheStore) GetMechanicsBatch(ctx context.Context, ids []string) (map[string]*domain.Mechanic, []string, error) {
	if len(ids) == 0 {
		return map[string]*domain.Mechanic{}, nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, mechanicCachePrefix+id)
	}
	// Missing keys surface as redis.Nil on the individual commands.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}

	hits := make(map[string]*domain.Mechanic, len(ids))
	var missing []string
	for _, id := range ids {
		data, err := cmds[id].Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}
		var m domain.Mechanic
		if err := json.Unmarshal(data, &m); err != nil {
			missing = append(missing, id)
			continue
		}
		hits[id] = &m
	}
	return hits, missing, nil
}

// SetMechanicsBatch stores several mechanics with one pipeline.
func (s *CacheStore) SetMechanicsBatch(ctx context.Context, mechanics []*domain.Mechanic) error {
	if len(mechanics) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, m := range mechanics {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		pipe.Set(ctx, mechanicCachePrefix+m.ID, data, MechanicCacheTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}
