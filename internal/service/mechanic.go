package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// MechanicService manages mechanic profiles.
type MechanicService struct {
	logger    *zap.Logger
	mechanics repository.MechanicRepository
	requests  repository.RequestRepository
	changes   repository.ChangeRequestRepository
	geo       *GeoService
	pricing   *PricingService
}

// NewMechanicService creates a new MechanicService.
func NewMechanicService(
	logger *zap.Logger,
	mechanics repository.MechanicRepository,
	requests repository.RequestRepository,
	changes repository.ChangeRequestRepository,
	geo *GeoService,
	pricing *PricingService,
) *MechanicService {
	return &MechanicService{
		logger:    logger.With(zap.String("component", "mechanic")),
		mechanics: mechanics,
		requests:  requests,
		changes:   changes,
		geo:       geo,
		pricing:   pricing,
	}
}

// validateMechanic checks the editable fields of a profile.
func validateMechanic(m *domain.Mechanic) error {
	if strings.TrimSpace(m.Name) == "" {
		return Validation("name is required")
	}
	if len(m.VehicleCapabilities) == 0 {
		return Validation("At least one vehicle capability is required")
	}
	for _, v := range m.VehicleCapabilities {
		if !v.Valid() {
			return Validation("Invalid vehicle type %q", v)
		}
	}
	if m.ExperienceYears < 0 {
		return Validation("experienceYears must not be negative")
	}
	if m.ServiceRadiusKm < domain.MinServiceRadiusKm || m.ServiceRadiusKm > domain.MaxServiceRadiusKm {
		return Validation("serviceRadiusKm must be between %v and %v", domain.MinServiceRadiusKm, domain.MaxServiceRadiusKm)
	}
	if m.MaxConcurrentJobs < 1 {
		return Validation("maxConcurrentJobs must be at least 1")
	}
	for _, hhmm := range []string{m.WorkingHours.Start, m.WorkingHours.End} {
		if hhmm == "" {
			continue
		}
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return Validation("Working hours must use HH:MM, got %q", hhmm)
		}
	}
	if err := validRange(m.PriceRange); err != nil {
		return err
	}
	for key, r := range m.ServicePrices {
		if key == "" {
			return Validation("Service price keys must not be empty")
		}
		if err := validRange(r); err != nil {
			return err
		}
	}
	if !m.Garage.Location.Usable() {
		return Validation("Garage location must be valid coordinates")
	}
	return nil
}

func validRange(r domain.PriceRange) error {
	if !validAmount(r.Min, true) || !validAmount(r.Max, true) {
		return Validation("Prices must be non-negative numbers")
	}
	if r.Max > 0 && r.Max < r.Min {
		return Validation("Price max must not be below min")
	}
	return nil
}

// CreateProfileInput contains the parameters for creating a mechanic profile.
type CreateProfileInput struct {
	Name                string                       `json:"name"`
	Phone               string                       `json:"phone"`
	VehicleCapabilities []domain.VehicleType         `json:"vehicleCapabilities"`
	Skills              []string                     `json:"skills"`
	ExperienceYears     int                          `json:"experienceYears"`
	WorkingHours        domain.WorkingHours          `json:"workingHours"`
	ServiceRadiusKm     float64                      `json:"serviceRadiusKm"`
	MaxConcurrentJobs   int                          `json:"maxConcurrentJobs"`
	Garage              domain.Garage                `json:"garage"`
	CurrentLocation     *domain.GeoPoint             `json:"currentLocation"`
	PriceRange          domain.PriceRange            `json:"priceRange"`
	ServicePrices       map[string]domain.PriceRange `json:"servicePrices"`
	Documents           []domain.Document            `json:"documents"`
	EmergencyContact    *domain.EmergencyContact     `json:"emergencyContact"`
}

// CreateProfile registers the calling mechanic's profile. New profiles start
// available with pending verification.
func (s *MechanicService) CreateProfile(ctx context.Context, p domain.Principal, in CreateProfileInput) (*domain.Mechanic, error) {
	if p.Role != domain.RoleMechanic {
		return nil, Forbidden("Only mechanics can create a mechanic profile")
	}

	now := time.Now()
	m := &domain.Mechanic{
		ID:                  uuid.NewString(),
		PrincipalID:         p.ID,
		Name:                strings.TrimSpace(in.Name),
		Phone:               in.Phone,
		VehicleCapabilities: in.VehicleCapabilities,
		Skills:              in.Skills,
		ExperienceYears:     in.ExperienceYears,
		IsAvailable:         true,
		MaxConcurrentJobs:   in.MaxConcurrentJobs,
		WorkingHours:        in.WorkingHours,
		ServiceRadiusKm:     in.ServiceRadiusKm,
		CurrentLocation:     in.CurrentLocation,
		Garage:              in.Garage,
		PriceRange:          in.PriceRange,
		ServicePrices:       in.ServicePrices,
		Documents:           in.Documents,
		EmergencyContact:    in.EmergencyContact,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if m.Name == "" {
		m.Name = p.Name
	}
	m.ApplyDefaults()
	m.Verification = domain.VerificationPending
	m.ApplyLocationFallback(now)
	if err := validateMechanic(m); err != nil {
		return nil, err
	}
	if m.Skills == nil {
		m.Skills = []string{}
	}
	if m.Documents == nil {
		m.Documents = []domain.Document{}
	}

	if err := s.mechanics.Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, Conflict("Mechanic profile already exists")
		}
		return nil, err
	}
	s.logger.Info("mechanic profile created", zap.String("mechanicId", m.ID), zap.String("principalId", p.ID))
	s.geo.IndexMechanic(ctx, m)
	return m, nil
}

// Profile returns a mechanic profile by id.
func (s *MechanicService) Profile(ctx context.Context, id string) (*domain.Mechanic, error) {
	return s.geo.Mechanic(ctx, id)
}

// Own returns the caller's profile.
func (s *MechanicService) Own(ctx context.Context, p domain.Principal) (*domain.Mechanic, error) {
	if p.Role != domain.RoleMechanic {
		return nil, Forbidden("Only mechanics have a mechanic profile")
	}
	m, err := s.mechanics.GetByPrincipalID(ctx, p.ID)
	if err != nil {
		return nil, notFound(err, ErrMechanicProfileRequired)
	}
	return m, nil
}

// Review is a requester review of a mechanic.
type Review struct {
	RequestID   string    `json:"requestId"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	ProblemType string    `json:"problemType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Reviews lists requester reviews of the mechanic, newest first.
func (s *MechanicService) Reviews(ctx context.Context, id string) ([]Review, error) {
	if _, err := s.geo.Mechanic(ctx, id); err != nil {
		return nil, err
	}
	done, err := s.requests.List(ctx, repository.RequestFilter{
		MechanicID: id,
		Statuses:   []domain.RequestStatus{domain.StatusCompleted},
		Limit:      200,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Review, 0, len(done))
	for _, r := range done {
		if r.Rating.UserRating == nil {
			continue
		}
		out = append(out, Review{
			RequestID:   r.ID,
			Rating:      *r.Rating.UserRating,
			Comment:     r.Rating.UserComment,
			ProblemType: r.ProblemType,
			CreatedAt:   r.UpdatedAt,
		})
	}
	return out, nil
}

// History lists the mechanic's finished jobs. Only the mechanic and admins
// may read it.
func (s *MechanicService) History(ctx context.Context, p domain.Principal, id string) ([]*domain.Request, error) {
	m, err := s.geo.Mechanic(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && m.PrincipalID != p.ID {
		return nil, Forbidden("Only the mechanic or an admin can read the job history")
	}
	return s.requests.List(ctx, repository.RequestFilter{
		MechanicID: id,
		Statuses: []domain.RequestStatus{
			domain.StatusCompleted, domain.StatusCancelled, domain.StatusRejected, domain.StatusFailed,
		},
		Limit: 200,
	})
}

// SetAvailability toggles whether the caller receives offers.
func (s *MechanicService) SetAvailability(ctx context.Context, p domain.Principal, available bool) (*domain.Mechanic, error) {
	m, err := s.Own(ctx, p)
	if err != nil {
		return nil, err
	}
	if available && m.Verification == domain.VerificationRejected {
		return nil, ErrMechanicNotVerified
	}
	if err := s.mechanics.UpdateAvailability(ctx, m.ID, available); err != nil {
		return nil, err
	}
	m.IsAvailable = available
	s.geo.InvalidateMechanic(ctx, m.ID)
	s.logger.Info("mechanic availability changed", zap.String("mechanicId", m.ID), zap.Bool("available", available))
	return m, nil
}

// UpdateLocation stores the caller's current position and reindexes it.
func (s *MechanicService) UpdateLocation(ctx context.Context, p domain.Principal, lon, lat float64) (*domain.GeoPoint, error) {
	if !domain.UsableCoordinates(lon, lat) {
		return nil, Validation("Coordinates must be valid and non-zero")
	}
	m, err := s.Own(ctx, p)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	loc := domain.GeoPoint{Lon: lon, Lat: lat, UpdatedAt: &now}
	if err := s.mechanics.UpdateLocation(ctx, m.ID, loc); err != nil {
		return nil, err
	}
	m.CurrentLocation = &loc
	s.geo.IndexMechanic(ctx, m)
	return &loc, nil
}

// ProfileUpdateResult reports how a self-edit was handled.
type ProfileUpdateResult struct {
	Mechanic      *domain.Mechanic      `json:"mechanic"`
	ChangeRequest *domain.ChangeRequest `json:"changeRequest,omitempty"`
	PendingReview bool                  `json:"pendingReview"`
}

// UpdateProfile applies a self-edit, or queues it for admin review when it
// touches sensitive fields or moves the price range too far.
func (s *MechanicService) UpdateProfile(ctx context.Context, p domain.Principal, update domain.ProfileUpdate) (*ProfileUpdateResult, error) {
	m, err := s.Own(ctx, p)
	if err != nil {
		return nil, err
	}
	policy, err := s.pricing.Policy(ctx)
	if err != nil {
		return nil, err
	}
	diff, review, err := s.pricing.GateProfileUpdate(m, update, policy)
	if err != nil {
		return nil, err
	}
	if len(diff) == 0 {
		return &ProfileUpdateResult{Mechanic: m}, nil
	}

	now := time.Now()
	next := m.Clone()
	if err := next.ApplyChanges(diff); err != nil {
		return nil, Validation("Invalid profile update: %v", err)
	}
	next.ApplyLocationFallback(now)
	if err := validateMechanic(next); err != nil {
		return nil, err
	}

	if review {
		cr := &domain.ChangeRequest{
			ID:            uuid.NewString(),
			MechanicID:    m.ID,
			RequestedBy:   p.ID,
			Status:        domain.ChangeRequestPending,
			FieldsChanged: diff,
			CreatedAt:     now,
		}
		if err := s.changes.Create(ctx, cr); err != nil {
			return nil, err
		}
		s.logger.Info("profile change queued for review", zap.String("mechanicId", m.ID), zap.String("changeRequestId", cr.ID))
		return &ProfileUpdateResult{Mechanic: m, ChangeRequest: cr, PendingReview: true}, nil
	}

	if err := s.mechanics.Update(ctx, next); err != nil {
		return nil, err
	}
	s.appendLog(ctx, m.ID, p.ID, domain.ChangeSourceSelf, diff)
	s.geo.IndexMechanic(ctx, next)
	return &ProfileUpdateResult{Mechanic: next}, nil
}

func (s *MechanicService) appendLog(ctx context.Context, mechanicID, by, source string, diff map[string]domain.FieldChange) {
	entry := &domain.ChangeLog{
		ID:         uuid.NewString(),
		MechanicID: mechanicID,
		ChangedBy:  by,
		Source:     source,
		Fields:     diff,
		CreatedAt:  time.Now(),
	}
	if err := s.changes.AppendLog(ctx, entry); err != nil {
		s.logger.Warn("append change log", zap.String("mechanicId", mechanicID), zap.Error(err))
	}
}

// SetVerification changes a mechanic's verification state.
func (s *MechanicService) SetVerification(ctx context.Context, p domain.Principal, id string, status domain.VerificationStatus) (*domain.Mechanic, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if !status.Valid() {
		return nil, Validation("Invalid verification status %q", status)
	}
	if err := s.mechanics.UpdateVerification(ctx, id, status); err != nil {
		return nil, notFound(err, ErrMechanicNotFound)
	}
	s.geo.InvalidateMechanic(ctx, id)
	s.logger.Info("mechanic verification changed", zap.String("mechanicId", id), zap.String("status", string(status)), zap.String("by", p.ID))
	return s.mechanics.GetByID(ctx, id)
}
