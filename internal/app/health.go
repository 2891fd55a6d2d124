package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is the latest store health snapshot.
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	CheckedAt   time.Time `json:"checkedAt"`
	FailingFor  string    `json:"failingFor,omitempty"`
	LastFailure string    `json:"lastFailure,omitempty"`
}

// StoreMonitor pings the store periodically. Run returns an error once pings
// have failed continuously for longer than the grace period.
type StoreMonitor struct {
	logger   *zap.Logger
	ping     func(ctx context.Context) error
	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	mu           sync.RWMutex
	status       HealthStatus
	failingSince time.Time
}

// NewStoreMonitor creates a new StoreMonitor.
func NewStoreMonitor(logger *zap.Logger, ping func(ctx context.Context) error, interval, grace time.Duration) *StoreMonitor {
	return &StoreMonitor{
		logger:   logger.With(zap.String("component", "store-health")),
		ping:     ping,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		status:   HealthStatus{Healthy: true},
	}
}

// Status returns the latest snapshot.
func (m *StoreMonitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run checks the store until ctx is done or the grace period is exceeded.
func (m *StoreMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.check(ctx); err != nil {
				return err
			}
		}
	}
}

func (m *StoreMonitor) check(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.ping(pingCtx)
	cancel()
	if ctx.Err() != nil {
		return nil
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		if !m.failingSince.IsZero() {
			m.logger.Info("store reachable again", zap.Duration("downFor", now.Sub(m.failingSince)))
		}
		m.failingSince = time.Time{}
		m.status = HealthStatus{Healthy: true, CheckedAt: now}
		return nil
	}

	if m.failingSince.IsZero() {
		m.failingSince = now
	}
	down := now.Sub(m.failingSince)
	m.status = HealthStatus{
		Healthy:     false,
		CheckedAt:   now,
		FailingFor:  down.Round(time.Second).String(),
		LastFailure: err.Error(),
	}
	m.logger.Warn("store ping failed", zap.Duration("failingFor", down), zap.Error(err))
	if down >= m.grace {
		return fmt.Errorf("store unreachable for %s: %w", down.Round(time.Second), err)
	}
	return nil
}
