package repository

import (
	"context"

	"roadside/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
type PaymentRepository interface {
	// Record stores a completed payment and saves the updated request in one
	// unit. The request write is guarded by expectedStatus and by the request
	// not already being paid; it returns ErrStatusChanged when either guard
	// fails and ErrDuplicate when a completed payment already exists.
	Record(ctx context.Context, payment *domain.Payment, req *domain.Request, expectedStatus domain.RequestStatus) error

	// GetByPaymentID retrieves a payment by its external payment ID.
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error)

	// GetByTransactionID retrieves a payment by transaction ID.
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)

	// ListByRequest retrieves all payments for a request.
	ListByRequest(ctx context.Context, requestID string) ([]*domain.Payment, error)
}
