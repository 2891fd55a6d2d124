package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// TrackingService relays live mechanic positions to request rooms.
type TrackingService struct {
	logger    *zap.Logger
	requests  repository.RequestRepository
	mechanics repository.MechanicRepository
	geo       *GeoService
	emitter   Emitter
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(
	logger *zap.Logger,
	requests repository.RequestRepository,
	mechanics repository.MechanicRepository,
	geo *GeoService,
	emitter Emitter,
) *TrackingService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &TrackingService{
		logger:    logger.With(zap.String("component", "tracking")),
		requests:  requests,
		mechanics: mechanics,
		geo:       geo,
		emitter:   emitter,
	}
}

// authorize returns the caller's profile and, when requestID is set, checks
// that the caller is the request's assigned mechanic on an active job.
func (s *TrackingService) authorize(ctx context.Context, p domain.Principal, requestID string) (*domain.Mechanic, error) {
	if p.Role != domain.RoleMechanic {
		return nil, Forbidden("Only mechanics can share their location")
	}
	m, err := s.mechanics.GetByPrincipalID(ctx, p.ID)
	if err != nil {
		return nil, notFound(err, ErrMechanicProfileRequired)
	}
	if requestID == "" {
		return m, nil
	}
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	if !req.AssignedTo(m.ID) {
		return nil, ErrNotAssignedMechanic
	}
	if !req.Status.Active() {
		return nil, Conflict("Request is %s", req.Status)
	}
	return m, nil
}

// LocationInput is a streamed position from the mechanic client.
type LocationInput struct {
	RequestID string `json:"requestId"`
	Location  LatLng `json:"location"`
}

// ShareLocation stores the position and relays it to the request room.
// Persisting it is best effort; the relay does not depend on it.
func (s *TrackingService) ShareLocation(ctx context.Context, p domain.Principal, in LocationInput) (*LocationUpdatePayload, error) {
	if !domain.UsableCoordinates(in.Location.Lng, in.Location.Lat) {
		return nil, Validation("Location must be valid and non-zero")
	}
	m, err := s.authorize(ctx, p, in.RequestID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	loc := domain.GeoPoint{Lon: in.Location.Lng, Lat: in.Location.Lat, UpdatedAt: &now}
	if err := s.mechanics.UpdateLocation(ctx, m.ID, loc); err != nil {
		s.logger.Warn("persist streamed location", zap.String("mechanicId", m.ID), zap.Error(err))
	} else {
		m.CurrentLocation = &loc
		s.geo.IndexMechanic(ctx, m)
	}

	payload := &LocationUpdatePayload{
		RequestID:  in.RequestID,
		MechanicID: m.ID,
		Location:   in.Location,
		Timestamp:  now,
	}
	if in.RequestID != "" {
		s.emitter.Emit(RequestRoom(in.RequestID), EventLocationUpdate, payload)
	}
	return payload, nil
}

// ETAInput is an arrival estimate from the mechanic client.
type ETAInput struct {
	RequestID  string  `json:"requestId"`
	ETAMinutes float64 `json:"etaMinutes"`
	DistanceKm float64 `json:"distanceKm"`
	SpeedKph   float64 `json:"speedKph"`
}

// ShareETA relays an arrival estimate to the request room.
func (s *TrackingService) ShareETA(ctx context.Context, p domain.Principal, in ETAInput) (*ETAUpdatePayload, error) {
	if in.RequestID == "" {
		return nil, Validation("requestId is required")
	}
	if !validAmount(in.ETAMinutes, true) || !validAmount(in.DistanceKm, true) || !validAmount(in.SpeedKph, true) {
		return nil, Validation("etaMinutes, distanceKm and speedKph must be non-negative")
	}
	if _, err := s.authorize(ctx, p, in.RequestID); err != nil {
		return nil, err
	}
	payload := &ETAUpdatePayload{
		RequestID:  in.RequestID,
		ETAMinutes: in.ETAMinutes,
		DistanceKm: in.DistanceKm,
		SpeedKph:   in.SpeedKph,
		Timestamp:  time.Now(),
	}
	s.emitter.Emit(RequestRoom(in.RequestID), EventETAUpdate, payload)
	return payload, nil
}

// StopSharing tells the request room the location stream ended.
func (s *TrackingService) StopSharing(ctx context.Context, p domain.Principal, requestID string) (*LocationStopPayload, error) {
	if requestID == "" {
		return nil, Validation("requestId is required")
	}
	m, err := s.authorize(ctx, p, requestID)
	if err != nil {
		return nil, err
	}
	payload := &LocationStopPayload{RequestID: requestID, MechanicID: m.ID, Timestamp: time.Now()}
	s.emitter.Emit(RequestRoom(requestID), EventLocationStop, payload)
	return payload, nil
}
