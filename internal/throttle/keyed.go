// Package throttle holds in-process rate limiters keyed by client.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sweepEvery = 1024

// Limiter decides per key whether an event may proceed.
type Limiter interface {
	Allow(key string) bool
}

var (
	_ Limiter = (*Keyed)(nil)
	_ Limiter = (*Window)(nil)
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed keeps one token bucket per key. A bucket starts full and refills
// continuously, so it bounds the average rate rather than the count per
// window. Buckets idle for longer than idle are dropped.
type Keyed struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu    sync.Mutex
	items map[string]*entry
	calls int
	now   func() time.Time
}

// NewKeyed allows burst events per key, refilled at limit.
func NewKeyed(limit rate.Limit, burst int, idle time.Duration) *Keyed {
	return &Keyed{
		limit: limit,
		burst: burst,
		idle:  idle,
		items: make(map[string]*entry),
		now:   time.Now,
	}
}

// Allow reports whether key may proceed now.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.calls++
	if k.calls%sweepEvery == 0 {
		k.sweep(now)
	}

	e, ok := k.items[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.items[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (k *Keyed) sweep(now time.Time) {
	for key, e := range k.items {
		if now.Sub(e.lastSeen) > k.idle {
			delete(k.items, key)
		}
	}
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.items)
}
