package memory

import (
	"context"
	"slices"
	"sort"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// RequestRepository implements repository.RequestRepository in memory.
type RequestRepository struct {
	s *state
}

// Create persists a new request.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.requests[req.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.requests[req.ID] = req.Clone()
	return nil
}

// GetByID retrieves a request by ID.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return req.Clone(), nil
}

// List retrieves requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, f repository.RequestFilter) ([]*domain.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.Request, 0)
	for _, req := range r.s.requests {
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, req.ID) {
			continue
		}
		if f.UserID != "" && req.UserID != f.UserID {
			continue
		}
		if f.MechanicID != "" && !req.AssignedTo(f.MechanicID) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, req.Status) {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *RequestRepository) activeCountLocked(mechanicID string) int {
	n := 0
	for _, req := range r.s.requests {
		if req.AssignedTo(mechanicID) && req.Status.Active() {
			n++
		}
	}
	return n
}

// Accept assigns the mechanic if the request is pending and the mechanic has
// spare capacity. Both guards are evaluated under the same lock.
func (r *RequestRepository) Accept(ctx context.Context, p repository.AcceptParams) (*domain.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[p.RequestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if req.Status != domain.StatusPending || (req.HasMechanic() && !req.AssignedTo(p.MechanicID)) {
		return nil, repository.ErrStatusChanged
	}
	if r.activeCountLocked(p.MechanicID) >= p.MaxConcurrentJobs {
		return nil, repository.ErrCapacityReached
	}
	id := p.MechanicID
	at := p.At
	req.MechanicID = &id
	req.Status = domain.StatusAccepted
	if req.Timeline.AcceptedAt == nil {
		req.Timeline.AcceptedAt = &at
	}
	if p.EstimatedArrival != nil {
		v := *p.EstimatedArrival
		req.EstimatedArrival = &v
	}
	if p.EstimatedCost != nil {
		req.EstimatedCost = *p.EstimatedCost
	}
	req.UpdatedAt = at
	return req.Clone(), nil
}

// UpdateIfStatus saves the request only if its stored status equals expected.
func (r *RequestRepository) UpdateIfStatus(ctx context.Context, req *domain.Request, expected domain.RequestStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.updateIfStatusLocked(req, expected, false)
}

func (r *RequestRepository) updateIfStatusLocked(req *domain.Request, expected domain.RequestStatus, requireUnpaid bool) error {
	cur, ok := r.s.requests[req.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Status != expected {
		return repository.ErrStatusChanged
	}
	if requireUnpaid && cur.PaymentStatus == domain.BillingCompleted {
		return repository.ErrStatusChanged
	}
	next := req.Clone()
	// Notes and reviews have their own writers.
	next.Notes = cur.Notes
	next.Rating = cur.Rating
	r.s.requests[req.ID] = next
	return nil
}

// CountActiveByMechanic counts the mechanic's requests in active states.
func (r *RequestRepository) CountActiveByMechanic(ctx context.Context, mechanicID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.activeCountLocked(mechanicID), nil
}

// AddNote appends a note.
func (r *RequestRepository) AddNote(ctx context.Context, id string, note domain.Note) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return repository.ErrNotFound
	}
	req.Notes = append(req.Notes, note)
	return nil
}

// SetReview writes one side of the review on a completed request.
func (r *RequestRepository) SetReview(ctx context.Context, id string, side repository.ReviewSide, rating int, comment string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return repository.ErrNotFound
	}
	if req.Status != domain.StatusCompleted {
		return repository.ErrStatusChanged
	}
	v := rating
	switch side {
	case repository.ReviewByUser:
		if req.Rating.UserRating != nil {
			return repository.ErrDuplicate
		}
		req.Rating.UserRating = &v
		req.Rating.UserComment = comment
	case repository.ReviewByMechanic:
		if req.Rating.MechanicRating != nil {
			return repository.ErrDuplicate
		}
		req.Rating.MechanicRating = &v
		req.Rating.MechanicComment = comment
	}
	return nil
}
