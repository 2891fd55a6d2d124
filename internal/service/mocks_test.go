package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
	"roadside/internal/repository/memory"
	"roadside/internal/service"
)

// ──────────────────────────────────────────────
// RECORDING EMITTER
// ──────────────────────────────────────────────

// EmittedEvent is one captured emit.
type EmittedEvent struct {
	Room    string
	Event   string
	Payload any
}

// RecordingEmitter captures every emit for assertions.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []EmittedEvent
}

func (e *RecordingEmitter) Emit(room, event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, EmittedEvent{Room: room, Event: event, Payload: payload})
}

func (e *RecordingEmitter) Broadcast(event string, payload any) {
	e.Emit("*", event, payload)
}

// Find returns the emits of event to room.
func (e *RecordingEmitter) Find(room, event string) []EmittedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []EmittedEvent
	for _, ev := range e.events {
		if ev.Room == room && ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many times event was emitted to any room.
func (e *RecordingEmitter) Count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Event == event {
			n++
		}
	}
	return n
}

// Reset drops captured events.
func (e *RecordingEmitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is an in-process stand-in for the Redis mechanic lock.
type MockLockStore struct {
	mu   sync.Mutex
	held map[string]bool

	AcquireCallCount int32
	AcquireError     error
}

func NewMockLockStore() *MockLockStore {
	return &MockLockStore{held: make(map[string]bool)}
}

func (m *MockLockStore) AcquireMechanicLock(ctx context.Context, mechanicID string, ttl time.Duration) (func(context.Context) error, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return nil, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[mechanicID] {
		return nil, nil
	}
	m.held[mechanicID] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, mechanicID)
		return nil
	}, nil
}

// Hold marks the lock as taken by someone else.
func (m *MockLockStore) Hold(mechanicID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[mechanicID] = true
}

// ──────────────────────────────────────────────
// FIXTURE
// ──────────────────────────────────────────────

// Fixture wires every service over an in-memory store.
type Fixture struct {
	Store       *repository.Store
	Emitter     *RecordingEmitter
	Locks       *MockLockStore
	Geo         *service.GeoService
	Pricing     *service.PricingService
	Chat        *service.ChatService
	Lifecycle   *service.LifecycleService
	Dispatch    *service.DispatchService
	Payments    *service.PaymentService
	Mechanics   *service.MechanicService
	Moderation  *service.ModerationService
	Maintenance *service.MaintenanceService
	Tracking    *service.TrackingService
}

type fixtureOptions struct {
	deleteChatOnComplete bool
	// ratings replaces the mechanic repository the lifecycle service writes
	// ratings through.
	ratings func(repository.MechanicRepository) repository.MechanicRepository
}

func newFixture(t *testing.T, opts ...func(*fixtureOptions)) *Fixture {
	t.Helper()
	var o fixtureOptions
	for _, fn := range opts {
		fn(&o)
	}

	logger := zap.NewNop()
	store := memory.NewStore()
	emitter := &RecordingEmitter{}
	locks := NewMockLockStore()

	geo := service.NewGeoService(logger, store.Mechanics, store.Requests, nil, nil)
	pricing := service.NewPricingService(logger, store.Pricing)
	chat := service.NewChatService(logger, store.Chats, store.Requests, store.Mechanics, emitter, o.deleteChatOnComplete)
	lifecycleMechanics := store.Mechanics
	if o.ratings != nil {
		lifecycleMechanics = o.ratings(store.Mechanics)
	}
	lifecycle := service.NewLifecycleService(logger, store.Requests, lifecycleMechanics, geo, chat, locks, emitter)
	mechanics := service.NewMechanicService(logger, store.Mechanics, store.Requests, store.ChangeRequests, geo, pricing)

	return &Fixture{
		Store:       store,
		Emitter:     emitter,
		Locks:       locks,
		Geo:         geo,
		Pricing:     pricing,
		Chat:        chat,
		Lifecycle:   lifecycle,
		Dispatch:    service.NewDispatchService(logger, store.Requests, store.Mechanics, geo, pricing, emitter),
		Payments:    service.NewPaymentService(logger, store.Payments, store.Requests, lifecycle, emitter),
		Mechanics:   mechanics,
		Moderation:  service.NewModerationService(logger, store.ChangeRequests, mechanics),
		Maintenance: service.NewMaintenanceService(logger, store.Settings, emitter),
		Tracking:    service.NewTrackingService(logger, store.Requests, store.Mechanics, geo, emitter),
	}
}

func withDeleteChatOnComplete(o *fixtureOptions) { o.deleteChatOnComplete = true }

// FailingRatingRepo fails every rating write.
type FailingRatingRepo struct {
	repository.MechanicRepository
	Err error
}

func (r *FailingRatingRepo) UpdateRating(ctx context.Context, id string, expectedTotal int, rating float64) error {
	return r.Err
}

func withFailingRatings(err error) func(*fixtureOptions) {
	return func(o *fixtureOptions) {
		o.ratings = func(m repository.MechanicRepository) repository.MechanicRepository {
			return &FailingRatingRepo{MechanicRepository: m, Err: err}
		}
	}
}

var (
	dhaka     = domain.GeoPoint{Lon: 90.4125, Lat: 23.8103}
	admin     = domain.Principal{ID: "admin-1", Role: domain.RoleAdmin, Active: true}
	motorist  = domain.Principal{ID: "user-1", Role: domain.RoleUser, Active: true}
	bystander = domain.Principal{ID: "user-2", Role: domain.RoleUser, Active: true}
)

func mechanicPrincipal(n int) domain.Principal {
	return domain.Principal{ID: fmt.Sprintf("mech-user-%d", n), Role: domain.RoleMechanic, Active: true}
}

// AddMechanic stores a verified, available car mechanic at the given point.
func (f *Fixture) AddMechanic(t *testing.T, n int, at domain.GeoPoint, mutate ...func(*domain.Mechanic)) (*domain.Mechanic, domain.Principal) {
	t.Helper()
	p := mechanicPrincipal(n)
	now := time.Now()
	loc := at
	m := &domain.Mechanic{
		ID:                  fmt.Sprintf("mech-%d", n),
		PrincipalID:         p.ID,
		Name:                fmt.Sprintf("Mechanic %d", n),
		VehicleCapabilities: []domain.VehicleType{domain.VehicleCar, domain.VehicleTruck},
		IsAvailable:         true,
		MaxConcurrentJobs:   1,
		ServiceRadiusKm:     10,
		CurrentLocation:     &loc,
		Garage:              domain.Garage{Name: "Garage", Location: at},
		Verification:        domain.VerificationVerified,
		ServicePrices:       map[string]domain.PriceRange{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	m.ApplyDefaults()
	for _, fn := range mutate {
		fn(m)
	}
	if err := f.Store.Mechanics.Create(context.Background(), m); err != nil {
		t.Fatalf("create mechanic: %v", err)
	}
	return m, p
}

// CreateRequest files a car request at dhaka, optionally targeting a mechanic.
func (f *Fixture) CreateRequest(t *testing.T, mechanicID string) *domain.Request {
	t.Helper()
	req, err := f.Dispatch.CreateRequest(context.Background(), motorist, service.CreateRequestInput{
		VehicleType: domain.VehicleCar,
		ProblemType: "flat_tire",
		Description: "Front left tire is flat",
		Pickup:      domain.Pickup{Lon: dhaka.Lon, Lat: dhaka.Lat, Address: "Gulshan 1"},
		MechanicID:  mechanicID,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

// Advance accepts the request with p and walks it to status.
func (f *Fixture) Advance(t *testing.T, p domain.Principal, requestID string, to domain.RequestStatus) *domain.Request {
	t.Helper()
	ctx := context.Background()
	req, err := f.Lifecycle.Accept(ctx, p, requestID, service.AcceptInput{})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	steps := []domain.RequestStatus{domain.StatusOnWay, domain.StatusArrived, domain.StatusWorking, domain.StatusCompleted}
	for _, st := range steps {
		if req.Status == to {
			break
		}
		req, err = f.Lifecycle.Transition(ctx, p, requestID, service.TransitionInput{Status: string(st)})
		if err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}
	return req
}
