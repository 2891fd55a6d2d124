package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roadside/internal/auth"
	"roadside/internal/domain"
	"roadside/internal/handler"
	"roadside/internal/realtime"
	"roadside/internal/repository/memory"
	"roadside/internal/service"
	"roadside/internal/throttle"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testRouter struct {
	engine      *gin.Engine
	verifier    *auth.Verifier
	maintenance *service.MaintenanceService
}

func newTestRouter(t *testing.T, limiter throttle.Limiter) *testRouter {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	hub := realtime.NewHub(logger, nil)
	t.Cleanup(hub.Close)

	geo := service.NewGeoService(logger, store.Mechanics, store.Requests, nil, nil)
	pricing := service.NewPricingService(logger, store.Pricing)
	chat := service.NewChatService(logger, store.Chats, store.Requests, store.Mechanics, hub, false)
	lifecycle := service.NewLifecycleService(logger, store.Requests, store.Mechanics, geo, chat, nil, hub)
	dispatch := service.NewDispatchService(logger, store.Requests, store.Mechanics, geo, pricing, hub)
	payments := service.NewPaymentService(logger, store.Payments, store.Requests, lifecycle, hub)
	mechanics := service.NewMechanicService(logger, store.Mechanics, store.Requests, store.ChangeRequests, geo, pricing)
	moderation := service.NewModerationService(logger, store.ChangeRequests, mechanics)
	maintenance := service.NewMaintenanceService(logger, store.Settings, hub)
	tracking := service.NewTrackingService(logger, store.Requests, store.Mechanics, geo, hub)

	verifier := auth.NewVerifier("router-secret")
	authenticator := auth.NewAuthenticator(verifier, store.Users)

	engine := NewRouter(RouterDeps{
		RequestHandler:  handler.NewRequestHandler(dispatch, lifecycle, chat, payments),
		MechanicHandler: handler.NewMechanicHandler(mechanics, dispatch, geo),
		PaymentHandler:  handler.NewPaymentHandler(payments),
		AdminHandler:    handler.NewAdminHandler(mechanics, moderation, pricing, maintenance),
		StatusHandler:   handler.NewStatusHandler(store.Ping, maintenance, hub),
		Realtime: realtime.NewServer(realtime.ServerDeps{
			Hub:         hub,
			Auth:        authenticator,
			Rooms:       lifecycle,
			Chat:        chat,
			Tracking:    tracking,
			Maintenance: maintenance,
		}),
		Auth:           authenticator,
		Maintenance:    maintenance,
		RateLimiter:    limiter,
		Logger:         logger,
		RequestTimeout: 45 * time.Second,
	})
	return &testRouter{engine: engine, verifier: verifier, maintenance: maintenance}
}

func (r *testRouter) do(t *testing.T, method, path string, p *domain.Principal) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if p != nil {
		token, err := r.verifier.Issue(*p, time.Hour)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.engine.ServeHTTP(w, req)
	return w.Code
}

var (
	user  = domain.Principal{ID: "user-1", Role: domain.RoleUser, Active: true}
	admin = domain.Principal{ID: "admin-1", Role: domain.RoleAdmin, Active: true}
)

// ──────────────────────────────────────────────
// 2. ROUTER
// ──────────────────────────────────────────────

func TestRouter_AuthAndRoles(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, nil)

	if code := r.do(t, "GET", "/health", nil); code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", code)
	}
	if code := r.do(t, "GET", "/requests", nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous: expected 401, got %d", code)
	}
	if code := r.do(t, "GET", "/requests", &user); code != http.StatusOK {
		t.Errorf("user list: expected 200, got %d", code)
	}
	if code := r.do(t, "GET", "/requests/nearby", &user); code != http.StatusForbidden {
		t.Errorf("user nearby requests: expected 403, got %d", code)
	}
	if code := r.do(t, "GET", "/admin/pricing-policy", &user); code != http.StatusForbidden {
		t.Errorf("user admin route: expected 403, got %d", code)
	}
	if code := r.do(t, "GET", "/admin/pricing-policy", &admin); code != http.StatusOK {
		t.Errorf("admin route: expected 200, got %d", code)
	}
}

func TestRouter_MaintenanceGate(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, nil)

	if _, err := r.maintenance.Start(context.Background(), admin, "upgrade"); err != nil {
		t.Fatalf("start maintenance: %v", err)
	}
	if code := r.do(t, "GET", "/requests", &user); code != http.StatusServiceUnavailable {
		t.Errorf("user during maintenance: expected 503, got %d", code)
	}
	if code := r.do(t, "GET", "/requests", &admin); code != http.StatusOK {
		t.Errorf("admin during maintenance: expected 200, got %d", code)
	}
	if code := r.do(t, "GET", "/status/maintenance", nil); code != http.StatusOK {
		t.Errorf("status during maintenance: expected 200, got %d", code)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, throttle.PerWindow(1, time.Minute))

	r.do(t, "GET", "/requests", &user)
	if code := r.do(t, "GET", "/requests", &user); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
}

func TestCORSConfig(t *testing.T) {
	t.Parallel()

	if cfg := corsConfig(nil); !cfg.AllowAllOrigins {
		t.Error("no origins should allow all")
	}
	if cfg := corsConfig([]string{"https://a.example", "*"}); !cfg.AllowAllOrigins || len(cfg.AllowOrigins) != 0 {
		t.Errorf("wildcard should allow all, got %+v", cfg.AllowOrigins)
	}
	cfg := corsConfig([]string{"https://a.example"})
	if cfg.AllowAllOrigins || len(cfg.AllowOrigins) != 1 {
		t.Errorf("expected one explicit origin, got %+v", cfg.AllowOrigins)
	}
}
