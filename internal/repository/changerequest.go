package repository

import (
	"context"
	"time"

	"roadside/internal/domain"
)

// ChangeRequestRepository defines the persistence operations for mechanic
// profile change requests and the applied change log.
type ChangeRequestRepository interface {
	// Create persists a pending change request.
	Create(ctx context.Context, cr *domain.ChangeRequest) error

	// GetByID retrieves a change request.
	GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error)

	// List retrieves change requests, optionally filtered by status.
	List(ctx context.Context, status domain.ChangeRequestStatus) ([]*domain.ChangeRequest, error)

	// Decide moves a pending change request to approved or rejected.
	// Returns ErrStatusChanged if it is no longer pending.
	Decide(ctx context.Context, id string, status domain.ChangeRequestStatus, reviewerID, notes string, at time.Time) error

	// Approve decides a pending change request and applies it in one atomic
	// step. apply edits the current mechanic profile; an error from it leaves
	// the request pending and the profile untouched. entry is appended to the
	// change log with the same commit. Returns ErrStatusChanged if the request
	// is no longer pending.
	Approve(ctx context.Context, d ApprovalParams) (*domain.Mechanic, error)

	// AppendLog records an applied change.
	AppendLog(ctx context.Context, log *domain.ChangeLog) error

	// ListLogs retrieves the change log of a mechanic, newest first.
	ListLogs(ctx context.Context, mechanicID string) ([]*domain.ChangeLog, error)
}

// ApprovalParams contains the parameters for approving a change request.
type ApprovalParams struct {
	ID         string
	ReviewerID string
	Notes      string
	At         time.Time
	Apply      func(cr *domain.ChangeRequest, m *domain.Mechanic) error
	Entry      *domain.ChangeLog
}
