package repository

import (
	"context"

	"roadside/internal/domain"
)

// MechanicFilter narrows a mechanic listing. Zero values disable a filter.
type MechanicFilter struct {
	IDs                []string
	VehicleType        domain.VehicleType
	IncludeUnavailable bool
	// DispatchableOnly keeps only verified or pending-verification mechanics.
	DispatchableOnly bool
}

// MechanicRepository defines the persistence operations for mechanics.
type MechanicRepository interface {
	// Create adds a new mechanic profile. Returns ErrDuplicate when the
	// principal already owns a profile.
	Create(ctx context.Context, mechanic *domain.Mechanic) error

	// GetByID retrieves a mechanic by ID.
	GetByID(ctx context.Context, id string) (*domain.Mechanic, error)

	// GetByPrincipalID retrieves the profile owned by a principal.
	GetByPrincipalID(ctx context.Context, principalID string) (*domain.Mechanic, error)

	// List retrieves mechanics matching the filter.
	List(ctx context.Context, filter MechanicFilter) ([]*domain.Mechanic, error)

	// Update saves the editable profile fields.
	Update(ctx context.Context, mechanic *domain.Mechanic) error

	// UpdateAvailability toggles the availability flag.
	UpdateAvailability(ctx context.Context, id string, available bool) error

	// UpdateLocation stores the current location.
	UpdateLocation(ctx context.Context, id string, loc domain.GeoPoint) error

	// UpdateVerification sets the verification state.
	UpdateVerification(ctx context.Context, id string, status domain.VerificationStatus) error

	// IncrementCompletedJobs adds one to the completed job counter.
	IncrementCompletedJobs(ctx context.Context, id string) error

	// UpdateRating stores a new rating aggregate if totalRatings still equals
	// expectedTotal. Returns ErrStatusChanged otherwise.
	UpdateRating(ctx context.Context, id string, expectedTotal int, rating float64) error
}
