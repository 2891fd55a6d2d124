// Package memory is an in-process store with the same guarded-write
// semantics as the postgres package.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

type state struct {
	mu sync.RWMutex

	users          map[string]*domain.User
	mechanics      map[string]*domain.Mechanic
	requests       map[string]*domain.Request
	payments       map[string]*domain.Payment
	chats          map[string]*domain.Chat
	changeRequests map[string]*domain.ChangeRequest
	changeLogs     []*domain.ChangeLog
	policies       []*domain.PricingPolicy
	settings       map[string]json.RawMessage
}

// NewStore returns an empty in-memory store.
func NewStore() *repository.Store {
	s := &state{
		users:          make(map[string]*domain.User),
		mechanics:      make(map[string]*domain.Mechanic),
		requests:       make(map[string]*domain.Request),
		payments:       make(map[string]*domain.Payment),
		chats:          make(map[string]*domain.Chat),
		changeRequests: make(map[string]*domain.ChangeRequest),
		settings:       make(map[string]json.RawMessage),
	}
	return &repository.Store{
		Users:          &UserRepository{s: s},
		Mechanics:      &MechanicRepository{s: s},
		Requests:       &RequestRepository{s: s},
		Payments:       &PaymentRepository{s: s},
		Chats:          &ChatRepository{s: s},
		ChangeRequests: &ChangeRequestRepository{s: s},
		Pricing:        &PricingRepository{s: s},
		Settings:       &SettingsRepository{s: s},
		Ping:           func(context.Context) error { return nil },
	}
}

// UserRepository implements repository.UserRepository in memory.
type UserRepository struct {
	s *state
}

// Create adds a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	u := *user
	r.s.users[u.ID] = &u
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// PricingRepository implements repository.PricingRepository in memory.
type PricingRepository struct {
	s *state
}

// Latest retrieves the newest policy.
func (r *PricingRepository) Latest(ctx context.Context) (*domain.PricingPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if len(r.s.policies) == 0 {
		return nil, repository.ErrNotFound
	}
	p := *r.s.policies[len(r.s.policies)-1]
	p.Bands = append([]domain.PriceBand(nil), p.Bands...)
	return &p, nil
}

// Save stores a new policy version.
func (r *PricingRepository) Save(ctx context.Context, policy *domain.PricingPolicy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := *policy
	p.Bands = append([]domain.PriceBand(nil), policy.Bands...)
	r.s.policies = append(r.s.policies, &p)
	return nil
}

// SettingsRepository implements repository.SettingsRepository in memory.
type SettingsRepository struct {
	s *state
}

// Get retrieves a raw setting value.
func (r *SettingsRepository) Get(ctx context.Context, key string) (json.RawMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.settings[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append(json.RawMessage(nil), v...), nil
}

// Set stores a raw setting value.
func (r *SettingsRepository) Set(ctx context.Context, key string, value json.RawMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.settings[key] = append(json.RawMessage(nil), value...)
	return nil
}
