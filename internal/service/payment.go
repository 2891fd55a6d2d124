package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// PaymentService records payments against requests.
type PaymentService struct {
	logger    *zap.Logger
	payments  repository.PaymentRepository
	requests  repository.RequestRepository
	lifecycle *LifecycleService
	emitter   Emitter
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	logger *zap.Logger,
	payments repository.PaymentRepository,
	requests repository.RequestRepository,
	lifecycle *LifecycleService,
	emitter Emitter,
) *PaymentService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &PaymentService{
		logger:    logger.With(zap.String("component", "payment")),
		payments:  payments,
		requests:  requests,
		lifecycle: lifecycle,
		emitter:   emitter,
	}
}

// RecordPaymentInput contains the parameters for recording a payment.
type RecordPaymentInput struct {
	RequestID      string               `json:"requestId"`
	Amount         float64              `json:"amount"`
	Method         domain.PaymentMethod `json:"method"`
	TransactionID  string               `json:"transactionId"`
	CommissionRate *float64             `json:"commissionRate"`
}

func (in *RecordPaymentInput) validate() error {
	if in.RequestID == "" {
		return Validation("requestId is required")
	}
	if !validAmount(in.Amount, false) {
		return Validation("Amount must be a positive number")
	}
	in.Method = domain.PaymentMethod(strings.ToLower(string(in.Method)))
	if !in.Method.Valid() {
		return Validation("Invalid payment method %q", in.Method)
	}
	if in.CommissionRate == nil {
		rate := domain.DefaultCommissionRate
		in.CommissionRate = &rate
	}
	if r := *in.CommissionRate; !validAmount(r, true) || r > 1 {
		return Validation("commissionRate must be between 0 and 1")
	}
	return nil
}

// payableStatuses are the request states a payment may be recorded in.
func payable(s domain.RequestStatus) bool {
	return s.Active() || s == domain.StatusCompleted
}

// Record stores a completed payment and marks the request paid and
// completed. A request carries at most one completed payment.
func (s *PaymentService) Record(ctx context.Context, p domain.Principal, in RecordPaymentInput) (*domain.Payment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		req, err := s.requests.GetByID(ctx, in.RequestID)
		if err != nil {
			return nil, notFound(err, ErrRequestNotFound)
		}
		if !p.IsAdmin() && p.ID != req.UserID {
			return nil, Forbidden("Only the requester or an admin can record a payment")
		}
		if req.PaymentStatus == domain.BillingCompleted {
			return nil, ErrPaymentAlreadyCompleted
		}
		if !payable(req.Status) {
			return nil, Conflict("Cannot record a payment for a %s request", req.Status)
		}

		now := time.Now()
		commission, net := splitCommission(in.Amount, *in.CommissionRate)
		payment := &domain.Payment{
			ID:               uuid.NewString(),
			PaymentID:        newPaymentID(now),
			RequestID:        req.ID,
			UserID:           req.UserID,
			MechanicID:       req.MechanicID,
			Amount:           in.Amount,
			Method:           in.Method,
			TransactionID:    in.TransactionID,
			CommissionRate:   *in.CommissionRate,
			CommissionAmount: commission,
			NetToMechanic:    net,
			Status:           domain.PaymentStatusCompleted,
			CreatedAt:        now,
		}
		if payment.TransactionID == "" {
			payment.TransactionID = fmt.Sprintf("%s-%d", strings.ToUpper(string(in.Method)), now.UnixMilli())
		}

		// Payment before completion completes the job in the same write.
		next := req.Clone()
		completing := next.Status != domain.StatusCompleted
		if completing {
			applyCompletion(next, now)
		}
		amount := in.Amount
		next.ActualCost = &amount
		next.PaymentStatus = domain.BillingCompleted
		next.PaymentMethod = string(in.Method)
		next.PaymentIDs = append(next.PaymentIDs, payment.PaymentID)
		next.UpdatedAt = now

		err = s.payments.Record(ctx, payment, next, req.Status)
		if errors.Is(err, repository.ErrStatusChanged) && attempt == 0 {
			continue
		}
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrPaymentAlreadyCompleted
		case errors.Is(err, repository.ErrStatusChanged):
			return nil, ErrRequestStateChanged
		case err != nil:
			return nil, notFound(err, ErrRequestNotFound)
		}

		s.logger.Info("payment recorded",
			zap.String("paymentId", payment.PaymentID),
			zap.String("requestId", req.ID),
			zap.Float64("amount", payment.Amount),
			zap.Bool("completedRequest", completing),
		)
		if completing {
			s.lifecycle.afterCompletion(ctx, next, p.ID)
		}
		s.announce(ctx, payment, next)
		return payment, nil
	}
}

func (s *PaymentService) announce(ctx context.Context, payment *domain.Payment, req *domain.Request) {
	payload := PaymentCompletedPayload{
		RequestID: req.ID,
		PaymentID: payment.PaymentID,
		Amount:    payment.Amount,
		Net:       payment.NetToMechanic,
		Method:    payment.Method,
	}
	s.emitter.Emit(RequestRoom(req.ID), EventPaymentCompleted, payload)
	s.lifecycle.emitToMechanic(ctx, req, EventPaymentCompleted, payload)
	s.emitter.Emit(RoomAdmins, EventPaymentCompleted, payload)
}

// newPaymentID returns an external id of the form PAY-<unixms>-<RAND>.
func newPaymentID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("PAY-%d-%s", now.UnixMilli(), suffix)
}

// authorize checks that p is a party of the payment's request.
func (s *PaymentService) authorize(ctx context.Context, p domain.Principal, payment *domain.Payment) (*domain.Request, error) {
	req, err := s.requests.GetByID(ctx, payment.RequestID)
	if err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	a, _, err := s.lifecycle.resolveActor(ctx, p, req)
	if err != nil {
		return nil, err
	}
	if a == actorOther {
		return nil, Forbidden("Not authorized to access this payment")
	}
	return req, nil
}

// Get retrieves a payment by its external id.
func (s *PaymentService) Get(ctx context.Context, p domain.Principal, paymentID string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, Validation("paymentId is required")
	}
	payment, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound)
	}
	if _, err := s.authorize(ctx, p, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// Verify looks a payment up by the provider transaction id.
func (s *PaymentService) Verify(ctx context.Context, p domain.Principal, transactionID string) (*domain.Payment, error) {
	if transactionID == "" {
		return nil, Validation("transactionId is required")
	}
	payment, err := s.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound)
	}
	if _, err := s.authorize(ctx, p, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// ListForRequest returns every payment recorded for a request.
func (s *PaymentService) ListForRequest(ctx context.Context, p domain.Principal, requestID string) ([]*domain.Payment, error) {
	if _, err := s.lifecycle.Get(ctx, p, requestID); err != nil {
		return nil, err
	}
	return s.payments.ListByRequest(ctx, requestID)
}
