package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// RequestRepository is a PostgreSQL implementation of repository.RequestRepository.
type RequestRepository struct {
	db *sql.DB
	q  Querier
}

// NewRequestRepository creates a new PostgreSQL request repository.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db, q: db}
}

// NewRequestRepositoryWithTx creates a request repository using a transaction.
func NewRequestRepositoryWithTx(tx *sql.Tx) *RequestRepository {
	return &RequestRepository{q: tx}
}

const requestColumns = `id, user_id, mechanic_id, vehicle_type, problem_type, description, pickup,
	status, priority, is_emergency, selected_services, vehicle_multiplier, estimated_cost,
	estimated_cost_range, estimated_arrival, actual_cost, payment_status, payment_method,
	payment_ids, timeline, user_rating, user_comment, mechanic_rating, mechanic_comment,
	cancellation_reason, notes, created_at, updated_at`

// activeStatuses is the status set that occupies a mechanic.
func activeStatuses() any {
	s := make([]string, 0, len(domain.ActiveStatuses))
	for _, st := range domain.ActiveStatuses {
		s = append(s, string(st))
	}
	return pq.Array(s)
}

type requestJSON struct {
	pickup, services, costRange, paymentIDs, timeline, notes []byte
}

func encodeRequest(req *domain.Request) (*requestJSON, error) {
	var (
		out requestJSON
		err error
	)
	if out.pickup, err = jsonValue(req.Pickup); err != nil {
		return nil, err
	}
	if out.services, err = jsonValue(nonNil(req.SelectedServices)); err != nil {
		return nil, err
	}
	if out.costRange, err = jsonValue(req.EstimatedCostRange); err != nil {
		return nil, err
	}
	if out.paymentIDs, err = jsonValue(nonNil(req.PaymentIDs)); err != nil {
		return nil, err
	}
	if out.timeline, err = jsonValue(req.Timeline); err != nil {
		return nil, err
	}
	if out.notes, err = jsonValue(nonNil(req.Notes)); err != nil {
		return nil, err
	}
	return &out, nil
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var (
		req            domain.Request
		js             requestJSON
		mechanicID     sql.NullString
		eta            sql.NullInt64
		actualCost     sql.NullFloat64
		userRating     sql.NullInt64
		mechanicRating sql.NullInt64
	)
	err := row.Scan(
		&req.ID, &req.UserID, &mechanicID, &req.VehicleType, &req.ProblemType, &req.Description, &js.pickup,
		&req.Status, &req.Priority, &req.IsEmergency, &js.services, &req.VehicleMultiplier, &req.EstimatedCost,
		&js.costRange, &eta, &actualCost, &req.PaymentStatus, &req.PaymentMethod,
		&js.paymentIDs, &js.timeline, &userRating, &req.Rating.UserComment, &mechanicRating, &req.Rating.MechanicComment,
		&req.CancellationReason, &js.notes, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{js.pickup, &req.Pickup},
		{js.services, &req.SelectedServices},
		{js.costRange, &req.EstimatedCostRange},
		{js.paymentIDs, &req.PaymentIDs},
		{js.timeline, &req.Timeline},
		{js.notes, &req.Notes},
	} {
		if err := scanJSON(f.raw, f.dst); err != nil {
			return nil, err
		}
	}
	if mechanicID.Valid {
		id := mechanicID.String
		req.MechanicID = &id
	}
	if eta.Valid {
		v := int(eta.Int64)
		req.EstimatedArrival = &v
	}
	if actualCost.Valid {
		v := actualCost.Float64
		req.ActualCost = &v
	}
	if userRating.Valid {
		v := int(userRating.Int64)
		req.Rating.UserRating = &v
	}
	if mechanicRating.Valid {
		v := int(mechanicRating.Int64)
		req.Rating.MechanicRating = &v
	}
	return &req, nil
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

// Create persists a new request.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	js, err := encodeRequest(req)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO requests (id, user_id, mechanic_id, vehicle_type, problem_type, description, pickup,
			status, priority, is_emergency, selected_services, vehicle_multiplier, estimated_cost,
			estimated_cost_range, estimated_arrival, actual_cost, payment_status, payment_method,
			payment_ids, timeline, cancellation_reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	_, err = r.q.ExecContext(ctx, query,
		req.ID, req.UserID, nullString(req.MechanicID), req.VehicleType, req.ProblemType, req.Description, js.pickup,
		req.Status, req.Priority, req.IsEmergency, js.services, req.VehicleMultiplier, req.EstimatedCost,
		js.costRange, nullInt(req.EstimatedArrival), nullFloat(req.ActualCost), req.PaymentStatus, req.PaymentMethod,
		js.paymentIDs, js.timeline, req.CancellationReason, js.notes, req.CreatedAt, req.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a request by ID.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	req, err := scanRequest(r.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// List retrieves requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, f repository.RequestFilter) ([]*domain.Request, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE (cardinality($1::text[]) = 0 OR id = ANY($1))
		  AND ($2 = '' OR user_id = $2)
		  AND ($3 = '' OR mechanic_id = $3)
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4))
		ORDER BY created_at DESC
		LIMIT $5`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(nonNil(f.IDs)), f.UserID, f.MechanicID, pq.Array(statuses), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Accept assigns the mechanic with a guarded UPDATE. Accepts for the same
// mechanic are serialized by a transaction-scoped advisory lock, so the
// active-job count read by the UPDATE includes every earlier accept.
func (r *RequestRepository) Accept(ctx context.Context, p repository.AcceptParams) (*domain.Request, error) {
	if r.db == nil {
		return r.accept(ctx, p)
	}
	var req *domain.Request
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		req, err = NewRequestRepositoryWithTx(tx).accept(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *RequestRepository) accept(ctx context.Context, p repository.AcceptParams) (*domain.Request, error) {
	if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('accept:' || $1))`, p.MechanicID); err != nil {
		return nil, err
	}

	query := `
		UPDATE requests
		SET mechanic_id = $2,
		    status = 'accepted',
		    timeline = CASE WHEN timeline ? 'acceptedAt' THEN timeline
		                    ELSE jsonb_set(timeline, '{acceptedAt}', to_jsonb($3::timestamptz)) END,
		    estimated_arrival = COALESCE($4, estimated_arrival),
		    estimated_cost = COALESCE($5, estimated_cost),
		    updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND (mechanic_id IS NULL OR mechanic_id = $2)
		  AND (SELECT COUNT(*) FROM requests a WHERE a.mechanic_id = $2 AND a.status = ANY($6)) < $7
		RETURNING ` + requestColumns

	req, err := scanRequest(r.q.QueryRowContext(ctx, query,
		p.RequestID, p.MechanicID, p.At, nullInt(p.EstimatedArrival), nullFloat(p.EstimatedCost),
		activeStatuses(), p.MaxConcurrentJobs,
	))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// No row matched; tell the caller which guard failed.
	cur, getErr := r.GetByID(ctx, p.RequestID)
	if getErr != nil {
		return nil, getErr
	}
	if cur.Status != domain.StatusPending || (cur.HasMechanic() && !cur.AssignedTo(p.MechanicID)) {
		return nil, repository.ErrStatusChanged
	}
	return nil, repository.ErrCapacityReached
}

// UpdateIfStatus saves the mutable request fields if the stored status equals expected.
func (r *RequestRepository) UpdateIfStatus(ctx context.Context, req *domain.Request, expected domain.RequestStatus) error {
	return r.updateGuarded(ctx, req, expected, false)
}

func (r *RequestRepository) updateGuarded(ctx context.Context, req *domain.Request, expected domain.RequestStatus, requireUnpaid bool) error {
	js, err := encodeRequest(req)
	if err != nil {
		return err
	}
	query := `
		UPDATE requests
		SET mechanic_id = $1, status = $2, selected_services = $3, estimated_cost = $4,
		    estimated_cost_range = $5, estimated_arrival = $6, actual_cost = $7,
		    payment_status = $8, payment_method = $9, payment_ids = $10, timeline = $11,
		    cancellation_reason = $12, updated_at = $13
		WHERE id = $14 AND status = $15
		  AND (NOT $16 OR payment_status <> 'payment_completed')
	`
	res, err := r.q.ExecContext(ctx, query,
		nullString(req.MechanicID), req.Status, js.services, req.EstimatedCost,
		js.costRange, nullInt(req.EstimatedArrival), nullFloat(req.ActualCost),
		req.PaymentStatus, req.PaymentMethod, js.paymentIDs, js.timeline,
		req.CancellationReason, req.UpdatedAt,
		req.ID, expected, requireUnpaid,
	)
	if err != nil {
		return err
	}
	if err := rowsAffected(res, repository.ErrStatusChanged); err != nil {
		if _, getErr := r.GetByID(ctx, req.ID); errors.Is(getErr, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return err
	}
	return nil
}

// CountActiveByMechanic counts the mechanic's requests in active states.
func (r *RequestRepository) CountActiveByMechanic(ctx context.Context, mechanicID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE mechanic_id = $1 AND status = ANY($2)`,
		mechanicID, activeStatuses(),
	).Scan(&n)
	return n, err
}

// AddNote appends a note.
func (r *RequestRepository) AddNote(ctx context.Context, id string, note domain.Note) error {
	raw, err := jsonValue([]domain.Note{note})
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE requests SET notes = notes || $1::jsonb, updated_at = $2 WHERE id = $3`,
		raw, time.Now(), id)
	if err != nil {
		return err
	}
	return rowsAffected(res, repository.ErrNotFound)
}

// SetReview writes one side of the review on a completed request.
func (r *RequestRepository) SetReview(ctx context.Context, id string, side repository.ReviewSide, rating int, comment string) error {
	query := `UPDATE requests SET user_rating = $1, user_comment = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'completed' AND user_rating IS NULL`
	if side == repository.ReviewByMechanic {
		query = `UPDATE requests SET mechanic_rating = $1, mechanic_comment = $2, updated_at = NOW()
			WHERE id = $3 AND status = 'completed' AND mechanic_rating IS NULL`
	}
	res, err := r.q.ExecContext(ctx, query, rating, comment, id)
	if err != nil {
		return err
	}
	if err := rowsAffected(res, repository.ErrStatusChanged); err == nil {
		return nil
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status != domain.StatusCompleted {
		return repository.ErrStatusChanged
	}
	return repository.ErrDuplicate
}
