package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

const (
	// SettingMaintenance is the settings key of the maintenance flag.
	SettingMaintenance = "maintenanceMode"

	maintenanceRefresh = 5 * time.Second
)

// MaintenanceState is the persisted maintenance flag.
type MaintenanceState struct {
	Enabled bool      `json:"enabled"`
	Reason  string    `json:"reason,omitempty"`
	By      string    `json:"by,omitempty"`
	At      time.Time `json:"at"`
}

// MaintenanceService owns the maintenance flag. Reads are served from an
// in-process copy refreshed every few seconds.
type MaintenanceService struct {
	logger   *zap.Logger
	settings repository.SettingsRepository
	emitter  Emitter
	refresh  time.Duration

	mu       sync.Mutex
	state    MaintenanceState
	loadedAt time.Time
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(logger *zap.Logger, settings repository.SettingsRepository, emitter Emitter) *MaintenanceService {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &MaintenanceService{
		logger:   logger.With(zap.String("component", "maintenance")),
		settings: settings,
		emitter:  emitter,
		refresh:  maintenanceRefresh,
	}
}

// Seed stores the initial flag if none has been persisted yet.
func (s *MaintenanceService) Seed(ctx context.Context, enabled bool) error {
	_, err := s.settings.Get(ctx, SettingMaintenance)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return s.store(ctx, MaintenanceState{Enabled: enabled, At: time.Now()})
}

// State returns the current flag. If the store cannot be read the last
// known value is kept and the failure logged.
func (s *MaintenanceService) State(ctx context.Context) MaintenanceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loadedAt.IsZero() && time.Since(s.loadedAt) < s.refresh {
		return s.state
	}

	raw, err := s.settings.Get(ctx, SettingMaintenance)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.state = MaintenanceState{}
	case err != nil:
		s.logger.Warn("read maintenance flag", zap.Error(err))
		return s.state
	default:
		var st MaintenanceState
		if err := json.Unmarshal(raw, &st); err != nil {
			s.logger.Warn("decode maintenance flag", zap.Error(err))
			return s.state
		}
		s.state = st
	}
	s.loadedAt = time.Now()
	return s.state
}

// Enabled reports whether maintenance mode is on.
func (s *MaintenanceService) Enabled(ctx context.Context) bool {
	return s.State(ctx).Enabled
}

// Start turns maintenance mode on and tells every connected client.
func (s *MaintenanceService) Start(ctx context.Context, p domain.Principal, reason string) (MaintenanceState, error) {
	return s.set(ctx, p, true, reason)
}

// Stop turns maintenance mode off.
func (s *MaintenanceService) Stop(ctx context.Context, p domain.Principal) (MaintenanceState, error) {
	return s.set(ctx, p, false, "")
}

func (s *MaintenanceService) set(ctx context.Context, p domain.Principal, enabled bool, reason string) (MaintenanceState, error) {
	if !p.IsAdmin() {
		return MaintenanceState{}, ErrAdminOnly
	}
	st := MaintenanceState{Enabled: enabled, Reason: reason, By: p.ID, At: time.Now()}
	if err := s.store(ctx, st); err != nil {
		return MaintenanceState{}, err
	}

	event := EventMaintenanceStopped
	if enabled {
		event = EventMaintenanceStarted
	}
	s.emitter.Broadcast(event, MaintenancePayload{Reason: reason, At: st.At})
	s.logger.Info("maintenance mode changed", zap.Bool("enabled", enabled), zap.String("by", p.ID))
	return st, nil
}

func (s *MaintenanceService) store(ctx context.Context, st MaintenanceState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.settings.Set(ctx, SettingMaintenance, raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = st
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}
