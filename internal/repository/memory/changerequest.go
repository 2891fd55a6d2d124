package memory

import (
	"context"
	"sort"
	"time"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ChangeRequestRepository implements repository.ChangeRequestRepository in memory.
type ChangeRequestRepository struct {
	s *state
}

func cloneChangeRequest(cr *domain.ChangeRequest) *domain.ChangeRequest {
	cp := *cr
	cp.FieldsChanged = make(map[string]domain.FieldChange, len(cr.FieldsChanged))
	for k, v := range cr.FieldsChanged {
		cp.FieldsChanged[k] = v
	}
	if cr.DecidedAt != nil {
		t := *cr.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

// Create persists a pending change request.
func (r *ChangeRequestRepository) Create(ctx context.Context, cr *domain.ChangeRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.changeRequests[cr.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.changeRequests[cr.ID] = cloneChangeRequest(cr)
	return nil
}

// GetByID retrieves a change request.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	cr, ok := r.s.changeRequests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneChangeRequest(cr), nil
}

// List retrieves change requests, newest first.
func (r *ChangeRequestRepository) List(ctx context.Context, status domain.ChangeRequestStatus) ([]*domain.ChangeRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.ChangeRequest, 0)
	for _, cr := range r.s.changeRequests {
		if status != "" && cr.Status != status {
			continue
		}
		out = append(out, cloneChangeRequest(cr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Decide moves a pending change request to status.
func (r *ChangeRequestRepository) Decide(ctx context.Context, id string, status domain.ChangeRequestStatus, reviewerID, notes string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cr, ok := r.s.changeRequests[id]
	if !ok {
		return repository.ErrNotFound
	}
	if cr.Status != domain.ChangeRequestPending {
		return repository.ErrStatusChanged
	}
	t := at
	cr.Status = status
	cr.ReviewerID = reviewerID
	cr.ReviewerNotes = notes
	cr.DecidedAt = &t
	return nil
}

// Approve decides, applies and logs a change request under the store lock.
func (r *ChangeRequestRepository) Approve(ctx context.Context, d repository.ApprovalParams) (*domain.Mechanic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cr, ok := r.s.changeRequests[d.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if cr.Status != domain.ChangeRequestPending {
		return nil, repository.ErrStatusChanged
	}
	cur, ok := r.s.mechanics[cr.MechanicID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	next := cur.Clone()
	if err := d.Apply(cloneChangeRequest(cr), next); err != nil {
		return nil, err
	}
	next.UpdatedAt = d.At
	r.s.mechanics[next.ID] = next

	t := d.At
	cr.Status = domain.ChangeRequestApproved
	cr.ReviewerID = d.ReviewerID
	cr.ReviewerNotes = d.Notes
	cr.DecidedAt = &t

	if d.Entry != nil {
		entry := *d.Entry
		r.s.changeLogs = append(r.s.changeLogs, &entry)
	}
	return next.Clone(), nil
}

// AppendLog records an applied change.
func (r *ChangeRequestRepository) AppendLog(ctx context.Context, log *domain.ChangeLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *log
	r.s.changeLogs = append(r.s.changeLogs, &cp)
	return nil
}

// ListLogs retrieves the change log of a mechanic, newest first.
func (r *ChangeRequestRepository) ListLogs(ctx context.Context, mechanicID string) ([]*domain.ChangeLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.ChangeLog, 0)
	for i := len(r.s.changeLogs) - 1; i >= 0; i-- {
		if l := r.s.changeLogs[i]; l.MechanicID == mechanicID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}
