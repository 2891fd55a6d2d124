package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ──────────────────────────────────────────────
// 1. STORE MONITOR
// ──────────────────────────────────────────────

func TestStoreMonitor_TripsAfterGracePeriod(t *testing.T) {
	t.Parallel()

	var calls int32
	ping := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("connection refused")
	}
	m := NewStoreMonitor(zap.NewNop(), ping, 5*time.Millisecond, 30*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.Run(ctx)
	if err == nil {
		t.Fatal("expected the monitor to trip")
	}
	if ctx.Err() != nil {
		t.Fatal("monitor did not trip before the test deadline")
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Errorf("expected repeated pings, got %d", calls)
	}
	if st := m.Status(); st.Healthy || st.LastFailure == "" {
		t.Errorf("expected an unhealthy snapshot, got %+v", st)
	}
}

func TestStoreMonitor_RecoveryResetsGrace(t *testing.T) {
	t.Parallel()

	var calls int32
	// Fails every other ping, so the failure streak never reaches the grace
	// period.
	ping := func(context.Context) error {
		if atomic.AddInt32(&calls, 1)%2 == 0 {
			return nil
		}
		return errors.New("timeout")
	}
	m := NewStoreMonitor(zap.NewNop(), ping, 5*time.Millisecond, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := m.Run(ctx); err != nil {
		t.Fatalf("expected no trip, got %v", err)
	}
	if atomic.LoadInt32(&calls) < 4 {
		t.Errorf("expected several pings, got %d", calls)
	}
}

func TestStoreMonitor_StopsWithContext(t *testing.T) {
	t.Parallel()

	m := NewStoreMonitor(zap.NewNop(), func(context.Context) error { return nil }, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); err != nil {
		t.Errorf("expected nil on cancel, got %v", err)
	}
	if !m.Status().Healthy {
		t.Error("expected the initial snapshot to be healthy")
	}
}
