package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// PricingRepository is a PostgreSQL implementation of repository.PricingRepository.
type PricingRepository struct {
	db *sql.DB
}

// NewPricingRepository creates a new PostgreSQL pricing repository.
func NewPricingRepository(db *sql.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

// Latest retrieves the newest policy.
func (r *PricingRepository) Latest(ctx context.Context) (*domain.PricingPolicy, error) {
	var (
		p   domain.PricingPolicy
		raw []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, max_price_delta_fraction, default_min, default_max, bands, updated_by, created_at
		 FROM pricing_policies ORDER BY created_at DESC LIMIT 1`,
	).Scan(&p.ID, &p.MaxPriceDeltaFraction, &p.DefaultMin, &p.DefaultMax, &raw, &p.UpdatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := scanJSON(raw, &p.Bands); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save stores a new policy version.
func (r *PricingRepository) Save(ctx context.Context, p *domain.PricingPolicy) error {
	raw, err := jsonValue(nonNil(p.Bands))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pricing_policies (id, max_price_delta_fraction, default_min, default_max, bands, updated_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.MaxPriceDeltaFraction, p.DefaultMin, p.DefaultMax, raw, p.UpdatedBy, p.CreatedAt)
	return err
}

// SettingsRepository is a PostgreSQL implementation of repository.SettingsRepository.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new PostgreSQL settings repository.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves a raw setting value.
func (r *SettingsRepository) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

// Set stores a raw setting value.
func (r *SettingsRepository) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, []byte(value))
	return err
}
