package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// MechanicRepository implements repository.MechanicRepository in memory.
type MechanicRepository struct {
	s *state
}

// Create adds a new mechanic profile.
func (r *MechanicRepository) Create(ctx context.Context, m *domain.Mechanic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.mechanics[m.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range r.s.mechanics {
		if existing.PrincipalID == m.PrincipalID {
			return repository.ErrDuplicate
		}
	}
	r.s.mechanics[m.ID] = m.Clone()
	return nil
}

// GetByID retrieves a mechanic by ID.
func (r *MechanicRepository) GetByID(ctx context.Context, id string) (*domain.Mechanic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.mechanics[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.Clone(), nil
}

// GetByPrincipalID retrieves the profile owned by a principal.
func (r *MechanicRepository) GetByPrincipalID(ctx context.Context, principalID string) (*domain.Mechanic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, m := range r.s.mechanics {
		if m.PrincipalID == principalID {
			return m.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

// List retrieves mechanics matching the filter, ordered by creation time.
func (r *MechanicRepository) List(ctx context.Context, f repository.MechanicFilter) ([]*domain.Mechanic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.Mechanic, 0)
	for _, m := range r.s.mechanics {
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, m.ID) {
			continue
		}
		if f.VehicleType != "" && !m.CanServe(f.VehicleType) {
			continue
		}
		if !f.IncludeUnavailable && !m.IsAvailable {
			continue
		}
		if f.DispatchableOnly && !m.Dispatchable() {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update saves the editable profile fields.
func (r *MechanicRepository) Update(ctx context.Context, m *domain.Mechanic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.mechanics[m.ID]
	if !ok {
		return repository.ErrNotFound
	}
	next := m.Clone()
	// Counters are owned by their dedicated writers.
	next.Rating = cur.Rating
	next.TotalRatings = cur.TotalRatings
	next.CompletedJobs = cur.CompletedJobs
	next.Verification = cur.Verification
	next.UpdatedAt = time.Now()
	r.s.mechanics[m.ID] = next
	return nil
}

func (r *MechanicRepository) mutate(id string, fn func(m *domain.Mechanic)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mechanics[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(m)
	m.UpdatedAt = time.Now()
	return nil
}

// UpdateAvailability toggles the availability flag.
func (r *MechanicRepository) UpdateAvailability(ctx context.Context, id string, available bool) error {
	return r.mutate(id, func(m *domain.Mechanic) { m.IsAvailable = available })
}

// UpdateLocation stores the current location.
func (r *MechanicRepository) UpdateLocation(ctx context.Context, id string, loc domain.GeoPoint) error {
	return r.mutate(id, func(m *domain.Mechanic) {
		l := loc
		m.CurrentLocation = &l
	})
}

// UpdateVerification sets the verification state.
func (r *MechanicRepository) UpdateVerification(ctx context.Context, id string, status domain.VerificationStatus) error {
	return r.mutate(id, func(m *domain.Mechanic) { m.Verification = status })
}

// IncrementCompletedJobs adds one to the completed job counter.
func (r *MechanicRepository) IncrementCompletedJobs(ctx context.Context, id string) error {
	return r.mutate(id, func(m *domain.Mechanic) { m.CompletedJobs++ })
}

// UpdateRating stores a new aggregate if totalRatings is unchanged.
func (r *MechanicRepository) UpdateRating(ctx context.Context, id string, expectedTotal int, rating float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mechanics[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.TotalRatings != expectedTotal {
		return repository.ErrStatusChanged
	}
	m.Rating = rating
	m.TotalRatings = expectedTotal + 1
	m.UpdatedAt = time.Now()
	return nil
}
