package repository

import (
	"context"
	"encoding/json"

	"roadside/internal/domain"
)

// PricingRepository stores pricing policy versions; the latest one wins.
type PricingRepository interface {
	// Latest retrieves the newest policy. Returns ErrNotFound if none exists.
	Latest(ctx context.Context) (*domain.PricingPolicy, error)

	// Save stores a new policy version.
	Save(ctx context.Context, policy *domain.PricingPolicy) error
}

// SettingsRepository is a key/value store for process-wide settings.
type SettingsRepository interface {
	// Get retrieves a raw setting value. Returns ErrNotFound if unset.
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Set stores a raw setting value.
	Set(ctx context.Context, key string, value json.RawMessage) error
}
