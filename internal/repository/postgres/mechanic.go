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

// MechanicRepository is a PostgreSQL implementation of repository.MechanicRepository.
type MechanicRepository struct {
	q Querier
}

// NewMechanicRepository creates a new PostgreSQL mechanic repository.
func NewMechanicRepository(db *sql.DB) *MechanicRepository {
	return &MechanicRepository{q: db}
}

// NewMechanicRepositoryWithTx creates a mechanic repository using a transaction.
func NewMechanicRepositoryWithTx(tx *sql.Tx) *MechanicRepository {
	return &MechanicRepository{q: tx}
}

const mechanicColumns = `id, principal_id, name, phone, vehicle_capabilities, skills, experience_years,
	rating, total_ratings, completed_jobs, is_available, max_concurrent_jobs, working_hours,
	service_radius_km, current_lon, current_lat, current_updated_at, garage, price_range,
	service_prices, verification, documents, emergency_contact, created_at, updated_at`

type mechanicJSON struct {
	capabilities, skills, hours, garage, priceRange, prices, documents, emergency []byte
}

func encodeMechanic(m *domain.Mechanic) (*mechanicJSON, error) {
	var (
		out mechanicJSON
		err error
	)
	if out.capabilities, err = jsonValue(nonNil(m.VehicleCapabilities)); err != nil {
		return nil, err
	}
	if out.skills, err = jsonValue(nonNil(m.Skills)); err != nil {
		return nil, err
	}
	if out.hours, err = jsonValue(m.WorkingHours); err != nil {
		return nil, err
	}
	if out.garage, err = jsonValue(m.Garage); err != nil {
		return nil, err
	}
	if out.priceRange, err = jsonValue(m.PriceRange); err != nil {
		return nil, err
	}
	prices := m.ServicePrices
	if prices == nil {
		prices = map[string]domain.PriceRange{}
	}
	if out.prices, err = jsonValue(prices); err != nil {
		return nil, err
	}
	if out.documents, err = jsonValue(nonNil(m.Documents)); err != nil {
		return nil, err
	}
	if m.EmergencyContact != nil {
		if out.emergency, err = jsonValue(m.EmergencyContact); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMechanic(row rowScanner) (*domain.Mechanic, error) {
	var (
		m        domain.Mechanic
		js       mechanicJSON
		lon, lat sql.NullFloat64
		locAt    sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.PrincipalID, &m.Name, &m.Phone, &js.capabilities, &js.skills, &m.ExperienceYears,
		&m.Rating, &m.TotalRatings, &m.CompletedJobs, &m.IsAvailable, &m.MaxConcurrentJobs, &js.hours,
		&m.ServiceRadiusKm, &lon, &lat, &locAt, &js.garage, &js.priceRange,
		&js.prices, &m.Verification, &js.documents, &js.emergency, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{js.capabilities, &m.VehicleCapabilities},
		{js.skills, &m.Skills},
		{js.hours, &m.WorkingHours},
		{js.garage, &m.Garage},
		{js.priceRange, &m.PriceRange},
		{js.prices, &m.ServicePrices},
		{js.documents, &m.Documents},
		{js.emergency, &m.EmergencyContact},
	} {
		if err := scanJSON(f.raw, f.dst); err != nil {
			return nil, err
		}
	}
	if lon.Valid && lat.Valid {
		loc := domain.GeoPoint{Lon: lon.Float64, Lat: lat.Float64}
		if locAt.Valid {
			t := locAt.Time
			loc.UpdatedAt = &t
		}
		m.CurrentLocation = &loc
	}
	return &m, nil
}

func locationArgs(loc *domain.GeoPoint) (sql.NullFloat64, sql.NullFloat64, sql.NullTime) {
	if loc == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}, sql.NullTime{}
	}
	var at sql.NullTime
	if loc.UpdatedAt != nil {
		at = sql.NullTime{Time: *loc.UpdatedAt, Valid: true}
	}
	return sql.NullFloat64{Float64: loc.Lon, Valid: true}, sql.NullFloat64{Float64: loc.Lat, Valid: true}, at
}

// Create adds a new mechanic profile.
func (r *MechanicRepository) Create(ctx context.Context, m *domain.Mechanic) error {
	js, err := encodeMechanic(m)
	if err != nil {
		return err
	}
	lon, lat, locAt := locationArgs(m.CurrentLocation)

	query := `INSERT INTO mechanics (` + mechanicColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`
	_, err = r.q.ExecContext(ctx, query,
		m.ID, m.PrincipalID, m.Name, m.Phone, js.capabilities, js.skills, m.ExperienceYears,
		m.Rating, m.TotalRatings, m.CompletedJobs, m.IsAvailable, m.MaxConcurrentJobs, js.hours,
		m.ServiceRadiusKm, lon, lat, locAt, js.garage, js.priceRange,
		js.prices, m.Verification, js.documents, js.emergency, m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a mechanic by ID.
func (r *MechanicRepository) GetByID(ctx context.Context, id string) (*domain.Mechanic, error) {
	return r.getOne(ctx, `SELECT `+mechanicColumns+` FROM mechanics WHERE id = $1`, id)
}

// GetByPrincipalID retrieves the profile owned by a principal.
func (r *MechanicRepository) GetByPrincipalID(ctx context.Context, principalID string) (*domain.Mechanic, error) {
	return r.getOne(ctx, `SELECT `+mechanicColumns+` FROM mechanics WHERE principal_id = $1`, principalID)
}

func (r *MechanicRepository) getOne(ctx context.Context, query string, arg string) (*domain.Mechanic, error) {
	m, err := scanMechanic(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// List retrieves mechanics matching the filter.
func (r *MechanicRepository) List(ctx context.Context, f repository.MechanicFilter) ([]*domain.Mechanic, error) {
	query := `SELECT ` + mechanicColumns + ` FROM mechanics
		WHERE (cardinality($1::text[]) = 0 OR id = ANY($1))
		  AND ($2 = '' OR vehicle_capabilities ? $2)
		  AND ($3 OR is_available)
		  AND (NOT $4 OR verification IN ('verified', 'pending'))
		ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(nonNil(f.IDs)), string(f.VehicleType), f.IncludeUnavailable, f.DispatchableOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Mechanic, 0)
	for rows.Next() {
		m, err := scanMechanic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Update saves the editable profile fields. Counters and verification have
// their own writers and are left untouched.
func (r *MechanicRepository) Update(ctx context.Context, m *domain.Mechanic) error {
	js, err := encodeMechanic(m)
	if err != nil {
		return err
	}
	lon, lat, locAt := locationArgs(m.CurrentLocation)

	query := `
		UPDATE mechanics
		SET name = $1, phone = $2, vehicle_capabilities = $3, skills = $4, experience_years = $5,
		    is_available = $6, max_concurrent_jobs = $7, working_hours = $8, service_radius_km = $9,
		    current_lon = $10, current_lat = $11, current_updated_at = $12, garage = $13,
		    price_range = $14, service_prices = $15, documents = $16, emergency_contact = $17,
		    updated_at = $18
		WHERE id = $19
	`
	res, err := r.q.ExecContext(ctx, query,
		m.Name, m.Phone, js.capabilities, js.skills, m.ExperienceYears,
		m.IsAvailable, m.MaxConcurrentJobs, js.hours, m.ServiceRadiusKm,
		lon, lat, locAt, js.garage,
		js.priceRange, js.prices, js.documents, js.emergency,
		time.Now(), m.ID,
	)
	if err != nil {
		return err
	}
	return rowsAffected(res, repository.ErrNotFound)
}

func (r *MechanicRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return rowsAffected(res, repository.ErrNotFound)
}

// UpdateAvailability toggles the availability flag.
func (r *MechanicRepository) UpdateAvailability(ctx context.Context, id string, available bool) error {
	return r.exec(ctx, `UPDATE mechanics SET is_available = $1, updated_at = NOW() WHERE id = $2`, available, id)
}

// UpdateLocation stores the current location.
func (r *MechanicRepository) UpdateLocation(ctx context.Context, id string, loc domain.GeoPoint) error {
	lon, lat, at := locationArgs(&loc)
	return r.exec(ctx, `UPDATE mechanics SET current_lon = $1, current_lat = $2, current_updated_at = $3, updated_at = NOW() WHERE id = $4`,
		lon, lat, at, id)
}

// UpdateVerification sets the verification state.
func (r *MechanicRepository) UpdateVerification(ctx context.Context, id string, status domain.VerificationStatus) error {
	return r.exec(ctx, `UPDATE mechanics SET verification = $1, updated_at = NOW() WHERE id = $2`, status, id)
}

// IncrementCompletedJobs adds one to the completed job counter.
func (r *MechanicRepository) IncrementCompletedJobs(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE mechanics SET completed_jobs = completed_jobs + 1, updated_at = NOW() WHERE id = $1`, id)
}

// UpdateRating stores a new aggregate if total_ratings still equals expectedTotal.
func (r *MechanicRepository) UpdateRating(ctx context.Context, id string, expectedTotal int, rating float64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE mechanics SET rating = $1, total_ratings = total_ratings + 1, updated_at = NOW()
		 WHERE id = $2 AND total_ratings = $3`,
		rating, id, expectedTotal)
	if err != nil {
		return err
	}
	if err := rowsAffected(res, repository.ErrStatusChanged); err != nil {
		if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return err
	}
	return nil
}
