package memory

import (
	"context"
	"sort"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// PaymentRepository implements repository.PaymentRepository in memory.
type PaymentRepository struct {
	s *state
}

// Record stores a completed payment and the updated request atomically.
func (r *PaymentRepository) Record(ctx context.Context, p *domain.Payment, req *domain.Request, expected domain.RequestStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.payments {
		if existing.PaymentID == p.PaymentID {
			return repository.ErrDuplicate
		}
		if existing.RequestID == p.RequestID && existing.Status == domain.PaymentStatusCompleted && p.Status == domain.PaymentStatusCompleted {
			return repository.ErrDuplicate
		}
	}
	requests := &RequestRepository{s: r.s}
	if err := requests.updateIfStatusLocked(req, expected, true); err != nil {
		return err
	}
	cp := *p
	r.s.payments[p.ID] = &cp
	return nil
}

// GetByPaymentID retrieves a payment by its external ID.
func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return r.find(func(p *domain.Payment) bool { return p.PaymentID == paymentID })
}

// GetByTransactionID retrieves a payment by transaction ID.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.find(func(p *domain.Payment) bool { return p.TransactionID == transactionID })
}

func (r *PaymentRepository) find(match func(p *domain.Payment) bool) (*domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListByRequest retrieves all payments for a request, oldest first.
func (r *PaymentRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.Payment, 0)
	for _, p := range r.s.payments {
		if p.RequestID == requestID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
