package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// DispatchService creates requests and offers them to mechanics.
type DispatchService struct {
	logger    *zap.Logger
	requests  repository.RequestRepository
	mechanics repository.MechanicRepository
	geo       *GeoService
	pricing   *PricingService
	emitter   Emitter
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(
	logger *zap.Logger,
	requests repository.RequestRepository,
	mechanics repository.MechanicRepository,
	geo *GeoService,
	pricing *PricingService,
	emitter Emitter,
) *DispatchService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &DispatchService{
		logger:    logger.With(zap.String("component", "dispatch")),
		requests:  requests,
		mechanics: mechanics,
		geo:       geo,
		pricing:   pricing,
		emitter:   emitter,
	}
}

// CreateRequestInput contains the parameters for creating a request.
type CreateRequestInput struct {
	VehicleType      domain.VehicleType `json:"vehicleType"`
	ProblemType      string             `json:"problemType"`
	Description      string             `json:"description"`
	Pickup           domain.Pickup      `json:"pickupLocation"`
	MechanicID       string             `json:"mechanicId"`
	Priority         domain.Priority    `json:"priority"`
	SelectedServices []ServiceSelection `json:"selectedServices"`
}

func (in *CreateRequestInput) validate() error {
	in.ProblemType = strings.TrimSpace(in.ProblemType)
	in.Description = strings.TrimSpace(in.Description)
	if !in.VehicleType.Valid() {
		return Validation("Invalid vehicle type %q", in.VehicleType)
	}
	if in.ProblemType == "" {
		return Validation("problemType is required")
	}
	if in.Description == "" {
		return Validation("description is required")
	}
	if utf8.RuneCountInString(in.Description) > domain.MaxDescriptionLength {
		return Validation("description exceeds %d characters", domain.MaxDescriptionLength)
	}
	if !domain.UsableCoordinates(in.Pickup.Lon, in.Pickup.Lat) {
		return Validation("Pickup coordinates must be valid and non-zero")
	}
	if strings.TrimSpace(in.Pickup.Address) == "" {
		return Validation("Pickup address is required")
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if !in.Priority.Valid() {
		return Validation("Invalid priority %q", in.Priority)
	}
	for _, sel := range in.SelectedServices {
		if strings.TrimSpace(sel.Key) == "" {
			return Validation("Each selected service needs a key")
		}
	}
	return nil
}

// CreateRequest persists a pending request and offers it either to the
// targeted mechanic or to every eligible mechanic in the broadcast radius.
func (s *DispatchService) CreateRequest(ctx context.Context, p domain.Principal, in CreateRequestInput) (*domain.Request, error) {
	if p.Role != domain.RoleUser {
		return nil, Forbidden("Only users can create requests")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Resolve the direct target, if any.
	var target *domain.Mechanic
	if in.MechanicID != "" {
		m, err := s.geo.Mechanic(ctx, in.MechanicID)
		if err != nil {
			return nil, err
		}
		if !m.Dispatchable() {
			return nil, ErrMechanicNotVerified
		}
		if len(m.VehicleCapabilities) > 0 && !m.CanServe(in.VehicleType) {
			return nil, Validation("Mechanic does not service %s vehicles", in.VehicleType)
		}
		target = m
	}

	policy, err := s.pricing.Policy(ctx)
	if err != nil {
		return nil, err
	}
	est := s.pricing.Estimate(target, in.VehicleType, in.SelectedServices, policy)

	now := time.Now()
	req := &domain.Request{
		ID:                 uuid.NewString(),
		UserID:             p.ID,
		VehicleType:        in.VehicleType,
		ProblemType:        in.ProblemType,
		Description:        in.Description,
		Pickup:             in.Pickup,
		Status:             domain.StatusPending,
		Priority:           in.Priority,
		IsEmergency:        in.Priority == domain.PriorityEmergency,
		SelectedServices:   est.Services,
		VehicleMultiplier:  est.VehicleMultiplier,
		EstimatedCost:      est.EstimatedCost,
		EstimatedCostRange: est.Range,
		PaymentStatus:      domain.BillingNone,
		PaymentIDs:         []string{},
		Timeline:           domain.Timeline{RequestedAt: now},
		Notes:              []domain.Note{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if target != nil {
		id := target.ID
		req.MechanicID = &id
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("request created",
		zap.String("requestId", req.ID),
		zap.String("userId", p.ID),
		zap.Bool("direct", target != nil),
	)

	s.geo.IndexRequestPickup(ctx, req)
	s.offer(ctx, req, target)
	s.emitter.Emit(RoomAdmins, EventNewRequestCreated, NewRequestPayload{
		Request:   req,
		Message:   "New request created",
		Timestamp: now,
	})
	return req, nil
}

// offer notifies candidate mechanics. Failures here do not undo the request.
func (s *DispatchService) offer(ctx context.Context, req *domain.Request, target *domain.Mechanic) {
	if target != nil {
		s.emitter.Emit(UserRoom(target.PrincipalID), EventNewRequestNotification, NewRequestPayload{
			Request:    req,
			DistanceKm: finiteDistance(MechanicDistanceKm(target, req.Pickup.Lon, req.Pickup.Lat)),
			Message:    "You have a new direct service request",
			Timestamp:  req.CreatedAt,
		})
		return
	}

	nearby, err := s.geo.FindAvailableNearby(ctx, NearbyQuery{
		Lon:          req.Pickup.Lon,
		Lat:          req.Pickup.Lat,
		VehicleType:  req.VehicleType,
		RadiusMeters: BroadcastRadiusMeters,
	})
	if err != nil {
		s.logger.Warn("find mechanics for broadcast", zap.String("requestId", req.ID), zap.Error(err))
		return
	}
	for _, n := range nearby {
		s.emitter.Emit(UserRoom(n.Mechanic.PrincipalID), EventNewRequestNotification, NewRequestPayload{
			Request:    req,
			DistanceKm: finiteDistance(n.DistanceKm),
			Message:    "New service request nearby",
			Timestamp:  req.CreatedAt,
		})
	}
	s.logger.Debug("request broadcast", zap.String("requestId", req.ID), zap.Int("mechanics", len(nearby)))
}

// MatchInput asks for ranked mechanics for a prospective request.
type MatchInput struct {
	Lon              float64            `json:"longitude"`
	Lat              float64            `json:"latitude"`
	VehicleType      domain.VehicleType `json:"vehicleType"`
	RadiusMeters     float64            `json:"maxDistance"`
	SelectedServices []ServiceSelection `json:"selectedServices"`
}

// MatchResult is a ranked mechanic with a priced estimate.
type MatchResult struct {
	NearbyMechanic
	Estimate Estimate `json:"estimate"`
}

// MarshalJSON flattens the embedded hit next to the estimate.
func (r MatchResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Mechanic   *domain.Mechanic `json:"mechanic"`
		DistanceKm *float64         `json:"distanceKm"`
		Estimate   Estimate         `json:"estimate"`
	}{r.Mechanic, finiteDistance(r.DistanceKm), r.Estimate})
}

// Match ranks nearby mechanics for the caller and prices the selection with
// each of them.
func (s *DispatchService) Match(ctx context.Context, p domain.Principal, in MatchInput) ([]MatchResult, error) {
	if p.Role == domain.RoleMechanic {
		return nil, Forbidden("Only users can match mechanics")
	}
	if !in.VehicleType.Valid() {
		return nil, Validation("Invalid vehicle type %q", in.VehicleType)
	}
	if !domain.UsableCoordinates(in.Lon, in.Lat) {
		return nil, Validation("Coordinates must be valid and non-zero")
	}

	nearby, err := s.geo.FindAvailableNearby(ctx, NearbyQuery{
		Lon:          in.Lon,
		Lat:          in.Lat,
		VehicleType:  in.VehicleType,
		RadiusMeters: in.RadiusMeters,
	})
	if err != nil {
		return nil, err
	}
	policy, err := s.pricing.Policy(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MatchResult, 0, len(nearby))
	for _, n := range nearby {
		out = append(out, MatchResult{
			NearbyMechanic: n,
			Estimate:       s.pricing.Estimate(n.Mechanic, in.VehicleType, in.SelectedServices, policy),
		})
	}
	return out, nil
}

// NearbyRequests lists pending requests around the calling mechanic.
func (s *DispatchService) NearbyRequests(ctx context.Context, p domain.Principal, radiusKm float64) ([]*domain.Request, error) {
	if p.Role != domain.RoleMechanic {
		return nil, Forbidden("Only mechanics can browse nearby requests")
	}
	if radiusKm < 0 || radiusKm > domain.MaxServiceRadiusKm {
		return nil, Validation("radius must be between %v and %v km", domain.MinServiceRadiusKm, domain.MaxServiceRadiusKm)
	}
	m, err := s.mechanics.GetByPrincipalID(ctx, p.ID)
	if err != nil {
		return nil, notFound(err, ErrMechanicProfileRequired)
	}
	return s.geo.FindNearbyPendingRequests(ctx, m, radiusKm)
}
