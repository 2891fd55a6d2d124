package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/redis"
	"roadside/internal/repository"
)

const (
	earthRadiusKm = 6371.0

	// DefaultNearbyRadiusMeters is the search radius when none is given.
	DefaultNearbyRadiusMeters = 50000.0

	// BroadcastRadiusMeters bounds the offer fan-out of a broadcast request.
	BroadcastRadiusMeters = 20000.0
)

// HaversineKm returns the great-circle distance between two lon/lat points.
func HaversineKm(lon1, lat1, lon2, lat2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MechanicDistanceKm returns the distance from the mechanic's current
// location, or its garage, to lon/lat. Mechanics without usable coordinates
// are infinitely far away.
func MechanicDistanceKm(m *domain.Mechanic, lon, lat float64) float64 {
	if m.CurrentLocation != nil && m.CurrentLocation.Usable() {
		return HaversineKm(m.CurrentLocation.Lon, m.CurrentLocation.Lat, lon, lat)
	}
	if m.Garage.Location.Usable() {
		return HaversineKm(m.Garage.Location.Lon, m.Garage.Location.Lat, lon, lat)
	}
	return math.Inf(1)
}

// NearbyQuery selects mechanics around a point.
type NearbyQuery struct {
	Lon                float64
	Lat                float64
	VehicleType        domain.VehicleType
	RadiusMeters       float64
	IncludeUnavailable bool
}

// NearbyMechanic is a search hit. DistanceKm is +Inf when the mechanic has
// no usable coordinates.
type NearbyMechanic struct {
	Mechanic   *domain.Mechanic
	DistanceKm float64
}

// MarshalJSON encodes an infinite distance as null.
func (n NearbyMechanic) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Mechanic   *domain.Mechanic `json:"mechanic"`
		DistanceKm *float64         `json:"distanceKm"`
	}{n.Mechanic, finiteDistance(n.DistanceKm)})
}

// finiteDistance rounds d to metres-level precision, or returns nil for +Inf.
func finiteDistance(d float64) *float64 {
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return nil
	}
	v := round2(d)
	return &v
}

// GeoService answers proximity queries over mechanics and pending requests.
// The Redis geo index is optional; without it the store is scanned.
type GeoService struct {
	logger     *zap.Logger
	mechanics  repository.MechanicRepository
	requests   repository.RequestRepository
	geoIndex   redis.GeoIndexInterface
	cacheStore redis.CacheStoreInterface
}

// NewGeoService creates a new GeoService. geoIndex and cacheStore may be nil.
func NewGeoService(
	logger *zap.Logger,
	mechanics repository.MechanicRepository,
	requests repository.RequestRepository,
	geoIndex redis.GeoIndexInterface,
	cacheStore redis.CacheStoreInterface,
) *GeoService {
	return &GeoService{
		logger:     logger.With(zap.String("component", "geo")),
		mechanics:  mechanics,
		requests:   requests,
		geoIndex:   geoIndex,
		cacheStore: cacheStore,
	}
}

// FindAvailableNearby returns eligible mechanics ordered by distance. Without
// usable coordinates the result is ordered by rating then completed jobs.
func (s *GeoService) FindAvailableNearby(ctx context.Context, q NearbyQuery) ([]NearbyMechanic, error) {
	if q.VehicleType != "" && !q.VehicleType.Valid() {
		return nil, Validation("Invalid vehicle type %q", q.VehicleType)
	}
	radius := q.RadiusMeters
	if radius <= 0 {
		radius = DefaultNearbyRadiusMeters
	}
	filter := repository.MechanicFilter{
		VehicleType:        q.VehicleType,
		IncludeUnavailable: q.IncludeUnavailable,
		DispatchableOnly:   true,
	}

	if !domain.UsableCoordinates(q.Lon, q.Lat) {
		all, err := s.mechanics.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].Rating != all[j].Rating {
				return all[i].Rating > all[j].Rating
			}
			return all[i].CompletedJobs > all[j].CompletedJobs
		})
		out := make([]NearbyMechanic, 0, len(all))
		for _, m := range all {
			out = append(out, NearbyMechanic{Mechanic: m, DistanceKm: math.Inf(1)})
		}
		return out, nil
	}

	radiusKm := radius / 1000
	candidates, err := s.candidates(ctx, q.Lon, q.Lat, radiusKm, filter)
	if err != nil {
		return nil, err
	}

	out := make([]NearbyMechanic, 0, len(candidates))
	for _, m := range candidates {
		d := MechanicDistanceKm(m, q.Lon, q.Lat)
		if d > radiusKm {
			// Matched by the garage query but measured from the current location.
			if !m.Garage.Location.Usable() || HaversineKm(m.Garage.Location.Lon, m.Garage.Location.Lat, q.Lon, q.Lat) > radiusKm {
				continue
			}
		}
		out = append(out, NearbyMechanic{Mechanic: m, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// candidates runs the current-location and garage near-queries and merges
// them by id, keeping the first occurrence.
func (s *GeoService) candidates(ctx context.Context, lon, lat, radiusKm float64, filter repository.MechanicFilter) ([]*domain.Mechanic, error) {
	if s.geoIndex == nil {
		all, err := s.mechanics.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		out := make([]*domain.Mechanic, 0, len(all))
		for _, m := range all {
			current := m.CurrentLocation != nil && m.CurrentLocation.Usable() &&
				HaversineKm(m.CurrentLocation.Lon, m.CurrentLocation.Lat, lon, lat) <= radiusKm
			garage := m.Garage.Location.Usable() &&
				HaversineKm(m.Garage.Location.Lon, m.Garage.Location.Lat, lon, lat) <= radiusKm
			if current || garage {
				out = append(out, m)
			}
		}
		return out, nil
	}

	seen := make(map[string]bool)
	var ids []string
	for _, set := range []redis.GeoSet{redis.GeoCurrent, redis.GeoGarage} {
		hits, err := s.geoIndex.NearMechanics(ctx, set, lon, lat, radiusKm)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if !seen[h.ID] {
				seen[h.ID] = true
				ids = append(ids, h.ID)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return s.hydrate(ctx, ids, filter)
}

// hydrate loads mechanics by id, serving what it can from the cache and
// reading the rest from the store in one listing.
func (s *GeoService) hydrate(ctx context.Context, ids []string, filter repository.MechanicFilter) ([]*domain.Mechanic, error) {
	cached := map[string]*domain.Mechanic{}
	missing := ids
	if s.cacheStore != nil {
		hits, miss, err := s.cacheStore.GetMechanicsBatch(ctx, ids)
		if err != nil {
			s.logger.Debug("mechanic cache batch", zap.Error(err))
		} else {
			cached, missing = hits, miss
		}
	}

	out := make([]*domain.Mechanic, 0, len(ids))
	for _, m := range cached {
		if matchesFilter(m, filter) {
			out = append(out, m)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	filter.IDs = missing
	loaded, err := s.mechanics.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if s.cacheStore != nil {
		if err := s.cacheStore.SetMechanicsBatch(ctx, loaded); err != nil {
			s.logger.Debug("mechanic cache fill", zap.Error(err))
		}
	}
	return append(out, loaded...), nil
}

func matchesFilter(m *domain.Mechanic, f repository.MechanicFilter) bool {
	if f.VehicleType != "" && !m.CanServe(f.VehicleType) {
		return false
	}
	if !f.IncludeUnavailable && !m.IsAvailable {
		return false
	}
	if f.DispatchableOnly && !m.Dispatchable() {
		return false
	}
	return true
}

// FindNearbyPendingRequests returns pending requests within radiusKm of the
// mechanic, nearest first.
func (s *GeoService) FindNearbyPendingRequests(ctx context.Context, m *domain.Mechanic, radiusKm float64) ([]*domain.Request, error) {
	if radiusKm <= 0 {
		radiusKm = m.ServiceRadiusKm
	}
	var lon, lat float64
	switch {
	case m.CurrentLocation != nil && m.CurrentLocation.Usable():
		lon, lat = m.CurrentLocation.Lon, m.CurrentLocation.Lat
	case m.Garage.Location.Usable():
		lon, lat = m.Garage.Location.Lon, m.Garage.Location.Lat
	default:
		return []*domain.Request{}, nil
	}

	filter := repository.RequestFilter{Statuses: []domain.RequestStatus{domain.StatusPending}, Limit: 200}
	if s.geoIndex != nil {
		hits, err := s.geoIndex.NearRequests(ctx, lon, lat, radiusKm)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return []*domain.Request{}, nil
		}
		for _, h := range hits {
			filter.IDs = append(filter.IDs, h.ID)
		}
	}

	pending, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Request, 0, len(pending))
	dist := make(map[string]float64, len(pending))
	for _, r := range pending {
		if r.HasMechanic() && !r.AssignedTo(m.ID) {
			continue
		}
		if len(m.VehicleCapabilities) > 0 && !m.CanServe(r.VehicleType) {
			continue
		}
		d := HaversineKm(r.Pickup.Lon, r.Pickup.Lat, lon, lat)
		if d > radiusKm {
			continue
		}
		dist[r.ID] = d
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return dist[out[i].ID] < dist[out[j].ID] })
	return out, nil
}

// IndexMechanic refreshes the mechanic's geo entries and cached profile.
// Index failures are logged; the store stays authoritative.
func (s *GeoService) IndexMechanic(ctx context.Context, m *domain.Mechanic) {
	s.InvalidateMechanic(ctx, m.ID)
	if s.geoIndex == nil {
		return
	}
	if m.CurrentLocation != nil && m.CurrentLocation.Usable() {
		if err := s.geoIndex.SetMechanic(ctx, redis.GeoCurrent, m.ID, m.CurrentLocation.Lon, m.CurrentLocation.Lat); err != nil {
			s.logger.Warn("index mechanic location", zap.String("mechanicId", m.ID), zap.Error(err))
		}
	}
	if m.Garage.Location.Usable() {
		if err := s.geoIndex.SetMechanic(ctx, redis.GeoGarage, m.ID, m.Garage.Location.Lon, m.Garage.Location.Lat); err != nil {
			s.logger.Warn("index mechanic garage", zap.String("mechanicId", m.ID), zap.Error(err))
		}
	}
}

// InvalidateMechanic drops the cached profile after a store-side change.
func (s *GeoService) InvalidateMechanic(ctx context.Context, id string) {
	if s.cacheStore == nil {
		return
	}
	if err := s.cacheStore.InvalidateMechanic(ctx, id); err != nil {
		s.logger.Warn("invalidate mechanic cache", zap.String("mechanicId", id), zap.Error(err))
	}
}

// IndexRequestPickup adds a pending request's pickup to the index.
func (s *GeoService) IndexRequestPickup(ctx context.Context, req *domain.Request) {
	if s.geoIndex == nil {
		return
	}
	if err := s.geoIndex.SetRequest(ctx, req.ID, req.Pickup.Lon, req.Pickup.Lat); err != nil {
		s.logger.Warn("index request pickup", zap.String("requestId", req.ID), zap.Error(err))
	}
}

// UnindexRequest drops a request that left pending from the pickup index.
func (s *GeoService) UnindexRequest(ctx context.Context, requestID string) {
	if s.geoIndex == nil {
		return
	}
	if err := s.geoIndex.RemoveRequest(ctx, requestID); err != nil {
		s.logger.Warn("unindex request pickup", zap.String("requestId", requestID), zap.Error(err))
	}
}

// Reindex loads every mechanic and pending request into the geo index.
func (s *GeoService) Reindex(ctx context.Context) error {
	if s.geoIndex == nil {
		return nil
	}
	all, err := s.mechanics.List(ctx, repository.MechanicFilter{IncludeUnavailable: true})
	if err != nil {
		return err
	}
	for _, m := range all {
		s.IndexMechanic(ctx, m)
	}
	pending, err := s.requests.List(ctx, repository.RequestFilter{Statuses: []domain.RequestStatus{domain.StatusPending}, Limit: 10000})
	if err != nil {
		return err
	}
	for _, r := range pending {
		s.IndexRequestPickup(ctx, r)
	}
	s.logger.Info("geo index rebuilt", zap.Int("mechanics", len(all)), zap.Int("pendingRequests", len(pending)))
	return nil
}

// Mechanic loads a mechanic through the cache when one is configured.
func (s *GeoService) Mechanic(ctx context.Context, id string) (*domain.Mechanic, error) {
	if s.cacheStore != nil {
		if m, err := s.cacheStore.GetMechanic(ctx, id); err == nil && m != nil {
			return m, nil
		}
	}
	m, err := s.mechanics.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrMechanicNotFound)
	}
	if s.cacheStore != nil {
		if err := s.cacheStore.SetMechanic(ctx, m); err != nil {
			s.logger.Debug("cache mechanic", zap.String("mechanicId", id), zap.Error(err))
		}
	}
	return m, nil
}
