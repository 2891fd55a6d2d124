package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ChangeRequestRepository is a PostgreSQL implementation of
// repository.ChangeRequestRepository.
type ChangeRequestRepository struct {
	db *sql.DB
	q  Querier
}

// NewChangeRequestRepository creates a new PostgreSQL change request repository.
func NewChangeRequestRepository(db *sql.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db, q: db}
}

const changeRequestColumns = `id, mechanic_id, requested_by, status, fields_changed, reviewer_id, reviewer_notes, decided_at, created_at`

func scanChangeRequest(row rowScanner) (*domain.ChangeRequest, error) {
	var (
		cr        domain.ChangeRequest
		raw       []byte
		decidedAt sql.NullTime
	)
	if err := row.Scan(&cr.ID, &cr.MechanicID, &cr.RequestedBy, &cr.Status, &raw,
		&cr.ReviewerID, &cr.ReviewerNotes, &decidedAt, &cr.CreatedAt); err != nil {
		return nil, err
	}
	if err := scanJSON(raw, &cr.FieldsChanged); err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		cr.DecidedAt = &t
	}
	return &cr, nil
}

// Create persists a pending change request.
func (r *ChangeRequestRepository) Create(ctx context.Context, cr *domain.ChangeRequest) error {
	raw, err := jsonValue(cr.FieldsChanged)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO mechanic_change_requests (id, mechanic_id, requested_by, status, fields_changed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		cr.ID, cr.MechanicID, cr.RequestedBy, cr.Status, raw, cr.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a change request.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	cr, err := scanChangeRequest(r.q.QueryRowContext(ctx,
		`SELECT `+changeRequestColumns+` FROM mechanic_change_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return cr, nil
}

// List retrieves change requests, newest first.
func (r *ChangeRequestRepository) List(ctx context.Context, status domain.ChangeRequestStatus) ([]*domain.ChangeRequest, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+changeRequestColumns+` FROM mechanic_change_requests
		 WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.ChangeRequest, 0)
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// Decide moves a pending change request to status.
func (r *ChangeRequestRepository) Decide(ctx context.Context, id string, status domain.ChangeRequestStatus, reviewerID, notes string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE mechanic_change_requests
		 SET status = $1, reviewer_id = $2, reviewer_notes = $3, decided_at = $4
		 WHERE id = $5 AND status = 'pending'`,
		status, reviewerID, notes, at, id)
	if err != nil {
		return err
	}
	if err := rowsAffected(res, repository.ErrStatusChanged); err != nil {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return err
	}
	return nil
}

// Approve locks the change request and its mechanic, then decides, applies
// and logs the change in one transaction.
func (r *ChangeRequestRepository) Approve(ctx context.Context, d repository.ApprovalParams) (*domain.Mechanic, error) {
	var next *domain.Mechanic
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		cr, err := scanChangeRequest(tx.QueryRowContext(ctx,
			`SELECT `+changeRequestColumns+` FROM mechanic_change_requests WHERE id = $1 FOR UPDATE`, d.ID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}
		if cr.Status != domain.ChangeRequestPending {
			return repository.ErrStatusChanged
		}

		m, err := scanMechanic(tx.QueryRowContext(ctx,
			`SELECT `+mechanicColumns+` FROM mechanics WHERE id = $1 FOR UPDATE`, cr.MechanicID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}
		if err := d.Apply(cr, m); err != nil {
			return err
		}
		if err := NewMechanicRepositoryWithTx(tx).Update(ctx, m); err != nil {
			return err
		}

		changes := &ChangeRequestRepository{q: tx}
		if err := changes.Decide(ctx, d.ID, domain.ChangeRequestApproved, d.ReviewerID, d.Notes, d.At); err != nil {
			return err
		}
		if d.Entry != nil {
			if err := changes.AppendLog(ctx, d.Entry); err != nil {
				return err
			}
		}
		next = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// AppendLog records an applied change.
func (r *ChangeRequestRepository) AppendLog(ctx context.Context, log *domain.ChangeLog) error {
	raw, err := jsonValue(log.Fields)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO mechanic_change_logs (id, mechanic_id, changed_by, source, fields, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ID, log.MechanicID, log.ChangedBy, log.Source, raw, log.CreatedAt)
	return err
}

// ListLogs retrieves the change log of a mechanic, newest first.
func (r *ChangeRequestRepository) ListLogs(ctx context.Context, mechanicID string) ([]*domain.ChangeLog, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, mechanic_id, changed_by, source, fields, created_at
		 FROM mechanic_change_logs WHERE mechanic_id = $1 ORDER BY created_at DESC`, mechanicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.ChangeLog, 0)
	for rows.Next() {
		var (
			l   domain.ChangeLog
			raw []byte
		)
		if err := rows.Scan(&l.ID, &l.MechanicID, &l.ChangedBy, &l.Source, &raw, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := scanJSON(raw, &l.Fields); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
