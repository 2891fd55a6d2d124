package postgres

import (
	"context"
	"database/sql"
	"errors"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	db *sql.DB
	q  Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db, q: db}
}

const paymentColumns = `id, payment_id, request_id, user_id, mechanic_id, amount, method, transaction_id,
	commission_rate, commission_amount, net_to_mechanic, status, created_at`

// Record updates the request and inserts the payment in one transaction.
func (r *PaymentRepository) Record(ctx context.Context, p *domain.Payment, req *domain.Request, expected domain.RequestStatus) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		txRequests := NewRequestRepositoryWithTx(tx)
		if err := txRequests.updateGuarded(ctx, req, expected, true); err != nil {
			return err
		}

		query := `INSERT INTO payments (` + paymentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
		_, err := tx.ExecContext(ctx, query,
			p.ID, p.PaymentID, p.RequestID, p.UserID, nullString(p.MechanicID), p.Amount, p.Method, p.TransactionID,
			p.CommissionRate, p.CommissionAmount, p.NetToMechanic, p.Status, p.CreatedAt,
		)
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	})
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p          domain.Payment
		mechanicID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.PaymentID, &p.RequestID, &p.UserID, &mechanicID, &p.Amount, &p.Method, &p.TransactionID,
		&p.CommissionRate, &p.CommissionAmount, &p.NetToMechanic, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if mechanicID.Valid {
		id := mechanicID.String
		p.MechanicID = &id
	}
	return &p, nil
}

func (r *PaymentRepository) getOne(ctx context.Context, query, arg string) (*domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetByPaymentID retrieves a payment by its external payment ID.
func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, paymentID)
}

// GetByTransactionID retrieves a payment by transaction ID.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 ORDER BY created_at LIMIT 1`, transactionID)
}

// ListByRequest retrieves all payments for a request, oldest first.
func (r *PaymentRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE request_id = $1 ORDER BY created_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
