package service_test

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/redis"
	"roadside/internal/repository/memory"
	"roadside/internal/service"
)

// MockGeoIndex keeps points in maps and answers radius queries with haversine.
type MockGeoIndex struct {
	mu        sync.Mutex
	mechanics map[redis.GeoSet]map[string][2]float64
	requests  map[string][2]float64
}

func NewMockGeoIndex() *MockGeoIndex {
	return &MockGeoIndex{
		mechanics: map[redis.GeoSet]map[string][2]float64{redis.GeoCurrent: {}, redis.GeoGarage: {}},
		requests:  map[string][2]float64{},
	}
}

func (g *MockGeoIndex) SetMechanic(ctx context.Context, set redis.GeoSet, id string, lon, lat float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mechanics[set][id] = [2]float64{lon, lat}
	return nil
}

func (g *MockGeoIndex) RemoveMechanic(ctx context.Context, set redis.GeoSet, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.mechanics[set], id)
	return nil
}

func (g *MockGeoIndex) NearMechanics(ctx context.Context, set redis.GeoSet, lon, lat, radiusKm float64) ([]redis.GeoHit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return near(g.mechanics[set], lon, lat, radiusKm), nil
}

func (g *MockGeoIndex) SetRequest(ctx context.Context, id string, lon, lat float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests[id] = [2]float64{lon, lat}
	return nil
}

func (g *MockGeoIndex) RemoveRequest(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.requests, id)
	return nil
}

func (g *MockGeoIndex) NearRequests(ctx context.Context, lon, lat, radiusKm float64) ([]redis.GeoHit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return near(g.requests, lon, lat, radiusKm), nil
}

func (g *MockGeoIndex) hasRequest(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.requests[id]
	return ok
}

func near(points map[string][2]float64, lon, lat, radiusKm float64) []redis.GeoHit {
	var out []redis.GeoHit
	for id, p := range points {
		if d := service.HaversineKm(p[0], p[1], lon, lat); d <= radiusKm {
			out = append(out, redis.GeoHit{ID: id, Lon: p[0], Lat: p[1], DistKm: d})
		}
	}
	return out
}

// MockCacheStore counts cache traffic.
type MockCacheStore struct {
	mu          sync.Mutex
	items       map[string]*domain.Mechanic
	Invalidated []string
}

func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{items: map[string]*domain.Mechanic{}}
}

func (c *MockCacheStore) GetMechanic(ctx context.Context, id string) (*domain.Mechanic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.items[id]; ok {
		return m.Clone(), nil
	}
	return nil, nil
}

func (c *MockCacheStore) SetMechanic(ctx context.Context, m *domain.Mechanic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[m.ID] = m.Clone()
	return nil
}

func (c *MockCacheStore) InvalidateMechanic(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.Invalidated = append(c.Invalidated, id)
	return nil
}

func (c *MockCacheStore) GetMechanicsBatch(ctx context.Context, ids []string) (map[string]*domain.Mechanic, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits := map[string]*domain.Mechanic{}
	var missing []string
	for _, id := range ids {
		if m, ok := c.items[id]; ok {
			hits[id] = m.Clone()
		} else {
			missing = append(missing, id)
		}
	}
	return hits, missing, nil
}

func (c *MockCacheStore) SetMechanicsBatch(ctx context.Context, mechanics []*domain.Mechanic) error {
	for _, m := range mechanics {
		_ = c.SetMechanic(ctx, m)
	}
	return nil
}

func (c *MockCacheStore) cached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// ──────────────────────────────────────────────
// 1. DISTANCE
// ──────────────────────────────────────────────

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	// Dhaka to Chattogram is roughly 213 km in a straight line.
	d := service.HaversineKm(90.4125, 23.8103, 91.8317, 22.3569)
	if d < 200 || d > 225 {
		t.Errorf("expected ~213km, got %v", d)
	}
	if service.HaversineKm(90.4, 23.8, 90.4, 23.8) != 0 {
		t.Error("expected zero distance for the same point")
	}
}

func TestMechanicDistanceKm_FallsBackToGarage(t *testing.T) {
	t.Parallel()

	m := &domain.Mechanic{Garage: domain.Garage{Location: dhaka}}
	if d := service.MechanicDistanceKm(m, dhaka.Lon, dhaka.Lat); d != 0 {
		t.Errorf("expected 0 from the garage, got %v", d)
	}
	if d := service.MechanicDistanceKm(&domain.Mechanic{}, dhaka.Lon, dhaka.Lat); !math.IsInf(d, 1) {
		t.Errorf("expected +Inf without coordinates, got %v", d)
	}
}

func TestNearbyMechanic_InfiniteDistanceIsNull(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(service.NearbyMechanic{Mechanic: &domain.Mechanic{ID: "m"}, DistanceKm: math.Inf(1)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"distanceKm":null`) {
		t.Errorf("expected null distance, got %s", raw)
	}
}

// ──────────────────────────────────────────────
// 2. NEARBY SEARCH
// ──────────────────────────────────────────────

func TestFindAvailableNearby_WithoutCoordinatesRanksByRating(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.AddMechanic(t, 1, dhaka, func(m *domain.Mechanic) { m.Rating, m.TotalRatings = 4.2, 10 })
	best, _ := f.AddMechanic(t, 2, dhaka, func(m *domain.Mechanic) { m.Rating, m.TotalRatings = 4.9, 3 })

	got, err := f.Geo.FindAvailableNearby(context.Background(), service.NearbyQuery{VehicleType: domain.VehicleCar})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Mechanic.ID != best.ID {
		t.Fatalf("expected %s first, got %+v", best.ID, got)
	}
	if !math.IsInf(got[0].DistanceKm, 1) {
		t.Errorf("expected no distance, got %v", got[0].DistanceKm)
	}
}

func TestFindAvailableNearby_UsesIndexAndCache(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	index := NewMockGeoIndex()
	cache := NewMockCacheStore()
	geo := service.NewGeoService(zap.NewNop(), store.Mechanics, store.Requests, index, cache)
	ctx := context.Background()

	// Current location far away, garage close by: found through the garage set.
	garageOnly := &domain.Mechanic{
		ID: "garage", PrincipalID: "p-garage", Name: "G", IsAvailable: true,
		VehicleCapabilities: []domain.VehicleType{domain.VehicleCar},
		Verification:        domain.VerificationVerified,
		CurrentLocation:     &domain.GeoPoint{Lon: 91.8, Lat: 22.35},
		Garage:              domain.Garage{Location: domain.GeoPoint{Lon: 90.41, Lat: 23.81}},
	}
	nearby := &domain.Mechanic{
		ID: "nearby", PrincipalID: "p-nearby", Name: "N", IsAvailable: true,
		VehicleCapabilities: []domain.VehicleType{domain.VehicleCar},
		Verification:        domain.VerificationPending,
		CurrentLocation:     &domain.GeoPoint{Lon: 90.413, Lat: 23.811},
	}
	rejected := &domain.Mechanic{
		ID: "rejected", PrincipalID: "p-rejected", Name: "R", IsAvailable: true,
		VehicleCapabilities: []domain.VehicleType{domain.VehicleCar},
		Verification:        domain.VerificationRejected,
		CurrentLocation:     &domain.GeoPoint{Lon: 90.4125, Lat: 23.8103},
	}
	for _, m := range []*domain.Mechanic{garageOnly, nearby, rejected} {
		m.ApplyDefaults()
		if err := store.Mechanics.Create(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := geo.Reindex(ctx); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	got, err := geo.FindAvailableNearby(ctx, service.NearbyQuery{Lon: dhaka.Lon, Lat: dhaka.Lat, VehicleType: domain.VehicleCar, RadiusMeters: 5000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].Mechanic.ID != "nearby" || got[1].Mechanic.ID != "garage" {
		t.Errorf("unexpected order %s, %s", got[0].Mechanic.ID, got[1].Mechanic.ID)
	}
	if got[1].DistanceKm < 100 {
		t.Errorf("expected distance from the current location, got %v", got[1].DistanceKm)
	}
	if !cache.cached("nearby") {
		t.Error("expected hydrated mechanics to be cached")
	}

	// A second search is served from the cache.
	if _, err := geo.FindAvailableNearby(ctx, service.NearbyQuery{Lon: dhaka.Lon, Lat: dhaka.Lat, RadiusMeters: 5000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPickupIndex_FollowsRequestLifecycle(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	index := NewMockGeoIndex()
	logger := zap.NewNop()
	emitter := &RecordingEmitter{}
	geo := service.NewGeoService(logger, store.Mechanics, store.Requests, index, nil)
	pricing := service.NewPricingService(logger, store.Pricing)
	chat := service.NewChatService(logger, store.Chats, store.Requests, store.Mechanics, emitter, false)
	lifecycle := service.NewLifecycleService(logger, store.Requests, store.Mechanics, geo, chat, nil, emitter)
	dispatch := service.NewDispatchService(logger, store.Requests, store.Mechanics, geo, pricing, emitter)
	ctx := context.Background()

	f := &Fixture{Store: store, Emitter: emitter, Dispatch: dispatch, Lifecycle: lifecycle}
	_, mp := f.AddMechanic(t, 1, dhaka)
	req := f.CreateRequest(t, "")
	if !index.hasRequest(req.ID) {
		t.Fatal("expected pickup to be indexed")
	}

	m, _ := store.Mechanics.GetByPrincipalID(ctx, mp.ID)
	pending, err := geo.FindNearbyPendingRequests(ctx, m, 5)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 nearby pending request, got %d (%v)", len(pending), err)
	}

	if _, err := lifecycle.Accept(ctx, mp, req.ID, service.AcceptInput{}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if index.hasRequest(req.ID) {
		t.Error("expected pickup to leave the index once accepted")
	}
}
