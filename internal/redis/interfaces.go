package redis

import (
	"context"
	"time"

	"roadside/internal/domain"
)

// GeoIndexInterface defines the geo set operations.
type GeoIndexInterface interface {
	SetMechanic(ctx context.Context, set GeoSet, mechanicID string, lon, lat float64) error
	RemoveMechanic(ctx context.Context, set GeoSet, mechanicID string) error
	NearMechanics(ctx context.Context, set GeoSet, lon, lat, radiusKm float64) ([]GeoHit, error)
	SetRequest(ctx context.Context, requestID string, lon, lat float64) error
	RemoveRequest(ctx context.Context, requestID string) error
	NearRequests(ctx context.Context, lon, lat, radiusKm float64) ([]GeoHit, error)
}

// LockStoreInterface defines the interface for per-mechanic locking.
type LockStoreInterface interface {
	AcquireMechanicLock(ctx context.Context, mechanicID string, ttl time.Duration) (func(context.Context) error, error)
}

// CacheStoreInterface defines the mechanic cache operations.
type CacheStoreInterface interface {
	GetMechanic(ctx context.Context, id string) (*domain.Mechanic, error)
	SetMechanic(ctx context.Context, m *domain.Mechanic) error
	InvalidateMechanic(ctx context.Context, id string) error
	GetMechanicsBatch(ctx context.Context, ids []string) (map[string]*domain.Mechanic, []string, error)
	SetMechanicsBatch(ctx context.Context, mechanics []*domain.Mechanic) error
}

// Ensure concrete types implement interfaces.
var (
	_ GeoIndexInterface   = (*GeoIndex)(nil)
	_ LockStoreInterface  = (*LockStore)(nil)
	_ CacheStoreInterface = (*CacheStore)(nil)
)
