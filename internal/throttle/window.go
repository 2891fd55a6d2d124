package throttle

import (
	"sync"
	"time"
)

// Window admits at most n events per key in any span of length window. It
// keeps the admitted timestamps of each key, so n should stay small.
type Window struct {
	n      int
	window time.Duration

	mu    sync.Mutex
	items map[string][]time.Time
	calls int
	now   func() time.Time
}

// PerWindow allows n events per window for each key.
func PerWindow(n int, window time.Duration) *Window {
	return &Window{
		n:      n,
		window: window,
		items:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether key may proceed now. Refused events do not count
// against the budget.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.calls++
	if w.calls%sweepEvery == 0 {
		w.sweep(now)
	}

	hits := w.trim(w.items[key], now)
	if len(hits) >= w.n {
		w.items[key] = hits
		return false
	}
	w.items[key] = append(hits, now)
	return true
}

// trim drops timestamps that fell out of the window ending at now.
func (w *Window) trim(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (w *Window) sweep(now time.Time) {
	for key, hits := range w.items {
		if len(w.trim(hits, now)) == 0 {
			delete(w.items, key)
		}
	}
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
