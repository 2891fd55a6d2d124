package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ModerationService decides queued mechanic profile changes.
type ModerationService struct {
	logger   *zap.Logger
	changes  repository.ChangeRequestRepository
	profiles *MechanicService
}

// NewModerationService creates a new ModerationService.
func NewModerationService(
	logger *zap.Logger,
	changes repository.ChangeRequestRepository,
	profiles *MechanicService,
) *ModerationService {
	return &ModerationService{
		logger:   logger.With(zap.String("component", "moderation")),
		changes:  changes,
		profiles: profiles,
	}
}

// List returns change requests, optionally filtered by status.
func (s *ModerationService) List(ctx context.Context, p domain.Principal, status string) ([]*domain.ChangeRequest, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	st := domain.ChangeRequestStatus(strings.ToLower(status))
	switch st {
	case "", domain.ChangeRequestPending, domain.ChangeRequestApproved, domain.ChangeRequestRejected:
	default:
		return nil, Validation("Invalid change request status %q", status)
	}
	return s.changes.List(ctx, st)
}

// Approve applies a pending change request to the mechanic profile. The
// decision, the profile write and the change log entry commit together.
func (s *ModerationService) Approve(ctx context.Context, p domain.Principal, id, notes string) (*domain.ChangeRequest, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	cr, err := s.changes.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrChangeRequestNotFound)
	}
	if cr.Status != domain.ChangeRequestPending {
		return nil, ErrChangeRequestDecided
	}

	now := time.Now()
	next, err := s.changes.Approve(ctx, repository.ApprovalParams{
		ID:         id,
		ReviewerID: p.ID,
		Notes:      notes,
		At:         now,
		Apply: func(locked *domain.ChangeRequest, m *domain.Mechanic) error {
			if err := m.ApplyChanges(locked.FieldsChanged); err != nil {
				return Validation("Invalid profile change: %v", err)
			}
			m.ApplyLocationFallback(now)
			return validateMechanic(m)
		},
		Entry: &domain.ChangeLog{
			ID:         uuid.NewString(),
			MechanicID: cr.MechanicID,
			ChangedBy:  p.ID,
			Source:     domain.ChangeSourceApproval,
			Fields:     cr.FieldsChanged,
			CreatedAt:  now,
		},
	})
	switch {
	case errors.Is(err, repository.ErrStatusChanged):
		return nil, ErrChangeRequestDecided
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrMechanicNotFound
	case err != nil:
		return nil, err
	}

	s.profiles.geo.IndexMechanic(ctx, next)
	s.logger.Info("change request approved", zap.String("changeRequestId", id), zap.String("mechanicId", cr.MechanicID), zap.String("by", p.ID))
	return s.changes.GetByID(ctx, id)
}

// Reject declines a pending change request with reviewer notes.
func (s *ModerationService) Reject(ctx context.Context, p domain.Principal, id, notes string) (*domain.ChangeRequest, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	err := s.changes.Decide(ctx, id, domain.ChangeRequestRejected, p.ID, notes, time.Now())
	switch {
	case errors.Is(err, repository.ErrStatusChanged):
		return nil, ErrChangeRequestDecided
	case err != nil:
		return nil, notFound(err, ErrChangeRequestNotFound)
	}
	s.logger.Info("change request rejected", zap.String("changeRequestId", id), zap.String("by", p.ID))
	return s.changes.GetByID(ctx, id)
}

// Logs returns the applied change log of a mechanic.
func (s *ModerationService) Logs(ctx context.Context, p domain.Principal, mechanicID string) ([]*domain.ChangeLog, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return s.changes.ListLogs(ctx, mechanicID)
}
