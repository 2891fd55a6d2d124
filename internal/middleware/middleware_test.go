package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"roadside/internal/auth"
	"roadside/internal/domain"
	"roadside/internal/throttle"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockAuthenticator maps tokens to principals.
type MockAuthenticator struct {
	principals map[string]domain.Principal
	inactive   map[string]bool
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, token string, rejectWithin time.Duration) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, auth.ErrMissingToken
	}
	if m.inactive[token] {
		return domain.Principal{}, auth.ErrInactive
	}
	p, ok := m.principals[token]
	if !ok {
		return domain.Principal{}, auth.ErrInvalidToken
	}
	return p, nil
}

// MockResponseCache is an in-memory ResponseCache.
type MockResponseCache struct {
	mu     sync.Mutex
	items  map[string][]byte
	GetErr error
}

func (m *MockResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.items[key], nil
}

func (m *MockResponseCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string][]byte{}
	}
	m.items[key] = append([]byte(nil), data...)
	return nil
}

type fixedGate bool

func (g fixedGate) Enabled(context.Context) bool { return bool(g) }

var authn = &MockAuthenticator{
	principals: map[string]domain.Principal{
		"user-token":  {ID: "user-1", Role: domain.RoleUser, Active: true},
		"user2-token": {ID: "user-2", Role: domain.RoleUser, Active: true},
		"admin-token": {ID: "admin-1", Role: domain.RoleAdmin, Active: true},
	},
	inactive: map[string]bool{"banned-token": true},
}

func do(h http.Handler, method, path, token string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func kindOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	if body.Success {
		t.Error("expected success=false")
	}
	return body.Error
}

// ──────────────────────────────────────────────
// 1. AUTHENTICATION
// ──────────────────────────────────────────────

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(Authenticate(authn))
	r.GET("/me", func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.String(http.StatusOK, p.ID)
	})

	cases := []struct {
		token string
		code  int
		kind  string
	}{
		{"", http.StatusUnauthorized, "unauthenticated"},
		{"forged", http.StatusUnauthorized, "unauthenticated"},
		{"banned-token", http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		w := do(r, "GET", "/me", tc.token)
		if w.Code != tc.code {
			t.Errorf("token %q: expected %d, got %d", tc.token, tc.code, w.Code)
			continue
		}
		if got := kindOf(t, w); got != tc.kind {
			t.Errorf("token %q: expected kind %s, got %s", tc.token, tc.kind, got)
		}
	}

	if w := do(r, "GET", "/me", "user-token"); w.Code != http.StatusOK || w.Body.String() != "user-1" {
		t.Errorf("expected user-1, got %d %s", w.Code, w.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(Authenticate(authn), RequireRole(domain.RoleAdmin))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if w := do(r, "GET", "/admin", "user-token"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a user, got %d", w.Code)
	}
	if w := do(r, "GET", "/admin", "admin-token"); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for an admin, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────
// 2. MAINTENANCE GATE
// ──────────────────────────────────────────────

func TestMaintenanceGate(t *testing.T) {
	t.Parallel()

	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r := gin.New()
	r.GET("/health", MaintenanceGate(fixedGate(true)), ok)
	r.GET("/status/maintenance", MaintenanceGate(fixedGate(true)), ok)
	api := r.Group("/", Authenticate(authn), MaintenanceGate(fixedGate(true)))
	api.GET("/requests", ok)

	if w := do(r, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health must stay reachable, got %d", w.Code)
	}
	if w := do(r, "GET", "/status/maintenance", ""); w.Code != http.StatusOK {
		t.Errorf("status must stay reachable, got %d", w.Code)
	}
	w := do(r, "GET", "/requests", "user-token")
	if w.Code != http.StatusServiceUnavailable || kindOf(t, w) != "service-unavailable" {
		t.Errorf("expected 503 for a user, got %d", w.Code)
	}
	if w := do(r, "GET", "/requests", "admin-token"); w.Code != http.StatusOK {
		t.Errorf("admins pass the gate, got %d", w.Code)
	}

	off := gin.New()
	off.GET("/requests", Authenticate(authn), MaintenanceGate(fixedGate(false)), ok)
	if w := do(off, "GET", "/requests", "user-token"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with maintenance off, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────
// 3. IDEMPOTENCY
// ──────────────────────────────────────────────

func TestIdempotency_ReplaysPerPrincipal(t *testing.T) {
	t.Parallel()

	var calls int32
	cache := &MockResponseCache{}
	r := gin.New()
	r.Use(Authenticate(authn), Idempotency(cache))
	r.POST("/payment", func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": n})
	})

	first := do(r, "POST", "/payment", "user-token", idempotencyHeader, "k-1")
	second := do(r, "POST", "/payment", "user-token", idempotencyHeader, "k-1")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected codes %d, %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("expected replayed body, got %s then %s", first.Body, second.Body)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected the replay header")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 handler call, got %d", calls)
	}

	do(r, "POST", "/payment", "user2-token", idempotencyHeader, "k-1")
	do(r, "POST", "/payment", "user-token")
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("keys must be scoped per principal and optional, got %d calls", calls)
	}
}

func TestIdempotency_CacheErrorPassesThrough(t *testing.T) {
	t.Parallel()

	var calls int32
	cache := &MockResponseCache{GetErr: errors.New("redis down")}
	r := gin.New()
	r.POST("/payment", Idempotency(cache), func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.Status(http.StatusCreated)
	})

	do(r, "POST", "/payment", "", idempotencyHeader, "k")
	do(r, "POST", "/payment", "", idempotencyHeader, "k")
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected both requests to run, got %d", calls)
	}
}

// ──────────────────────────────────────────────
// 4. LIMITS
// ──────────────────────────────────────────────

func TestTimeout_SetsDeadline(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.GET("/slow", Timeout(45*time.Second), func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		if !ok || time.Until(deadline) > 45*time.Second {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	if w := do(r, "GET", "/slow", ""); w.Code != http.StatusOK {
		t.Errorf("expected a 45s deadline, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.GET("/x", RateLimitWith(throttle.PerWindow(2, time.Minute)), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		if w := do(r, "GET", "/x", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := do(r, "GET", "/x", "")
	if w.Code != http.StatusTooManyRequests || kindOf(t, w) != "rate-limited" {
		t.Errorf("expected 429, got %d", w.Code)
	}
}
