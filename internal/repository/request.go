package repository

import (
	"context"
	"time"

	"roadside/internal/domain"
)

// RequestFilter narrows a request listing. Zero values disable a filter.
type RequestFilter struct {
	IDs        []string
	UserID     string
	MechanicID string
	Statuses   []domain.RequestStatus
	Limit      int
}

// AcceptParams describes a guarded accept.
type AcceptParams struct {
	RequestID         string
	MechanicID        string
	MaxConcurrentJobs int
	At                time.Time
	EstimatedArrival  *int
	EstimatedCost     *float64
}

// ReviewSide selects which half of a request review is written.
type ReviewSide string

const (
	ReviewByUser     ReviewSide = "user"
	ReviewByMechanic ReviewSide = "mechanic"
)

// RequestRepository defines the persistence operations for requests.
type RequestRepository interface {
	// Create persists a new request.
	Create(ctx context.Context, req *domain.Request) error

	// GetByID retrieves a request by ID.
	GetByID(ctx context.Context, id string) (*domain.Request, error)

	// List retrieves requests matching the filter, newest first.
	List(ctx context.Context, filter RequestFilter) ([]*domain.Request, error)

	// Accept assigns the mechanic and moves the request to accepted in one
	// guarded write. The write succeeds only while the request is pending and
	// the mechanic's active job count is below MaxConcurrentJobs. A direct
	// request only accepts its targeted mechanic.
	// Returns ErrStatusChanged or ErrCapacityReached when a guard fails.
	Accept(ctx context.Context, params AcceptParams) (*domain.Request, error)

	// UpdateIfStatus saves the request only if its stored status equals
	// expected. Returns ErrStatusChanged otherwise.
	UpdateIfStatus(ctx context.Context, req *domain.Request, expected domain.RequestStatus) error

	// CountActiveByMechanic counts the mechanic's requests in active states.
	CountActiveByMechanic(ctx context.Context, mechanicID string) (int, error)

	// AddNote appends a note.
	AddNote(ctx context.Context, id string, note domain.Note) error

	// SetReview writes one side of the review on a completed request.
	// Returns ErrStatusChanged if the request is not completed and
	// ErrDuplicate if that side already reviewed.
	SetReview(ctx context.Context, id string, side ReviewSide, rating int, comment string) error
}
