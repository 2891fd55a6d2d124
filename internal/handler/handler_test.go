package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roadside/internal/auth"
	"roadside/internal/domain"
	"roadside/internal/middleware"
	"roadside/internal/repository"
	"roadside/internal/repository/memory"
	"roadside/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	dhaka     = domain.GeoPoint{Lon: 90.4125, Lat: 23.8103}
	motorist  = domain.Principal{ID: "user-1", Role: domain.RoleUser, Active: true}
	bystander = domain.Principal{ID: "user-2", Role: domain.RoleUser, Active: true}
	mechanic1 = domain.Principal{ID: "mech-user-1", Role: domain.RoleMechanic, Active: true}
	mechanic2 = domain.Principal{ID: "mech-user-2", Role: domain.RoleMechanic, Active: true}
	admin     = domain.Principal{ID: "admin-1", Role: domain.RoleAdmin, Active: true}
)

// tokenAuth treats the bearer token as the principal id.
type tokenAuth map[string]domain.Principal

func (a tokenAuth) Authenticate(ctx context.Context, token string, rejectWithin time.Duration) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, auth.ErrMissingToken
	}
	p, ok := a[token]
	if !ok {
		return domain.Principal{}, auth.ErrInvalidToken
	}
	return p, nil
}

type testEnv struct {
	store  *repository.Store
	engine *gin.Engine
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()

	geo := service.NewGeoService(logger, store.Mechanics, store.Requests, nil, nil)
	pricing := service.NewPricingService(logger, store.Pricing)
	chat := service.NewChatService(logger, store.Chats, store.Requests, store.Mechanics, nil, false)
	lifecycle := service.NewLifecycleService(logger, store.Requests, store.Mechanics, geo, chat, nil, nil)
	dispatch := service.NewDispatchService(logger, store.Requests, store.Mechanics, geo, pricing, nil)
	payments := service.NewPaymentService(logger, store.Payments, store.Requests, lifecycle, nil)
	mechanics := service.NewMechanicService(logger, store.Mechanics, store.Requests, store.ChangeRequests, geo, pricing)
	moderation := service.NewModerationService(logger, store.ChangeRequests, mechanics)
	maintenance := service.NewMaintenanceService(logger, store.Settings, nil)

	requests := NewRequestHandler(dispatch, lifecycle, chat, payments)
	mech := NewMechanicHandler(mechanics, dispatch, geo)
	pay := NewPaymentHandler(payments)
	adm := NewAdminHandler(mechanics, moderation, pricing, maintenance)
	status := NewStatusHandler(store.Ping, maintenance, nil)

	principals := tokenAuth{}
	for _, p := range []domain.Principal{motorist, bystander, mechanic1, mechanic2, admin} {
		principals[p.ID] = p
	}

	r := gin.New()
	r.GET("/health", status.Health)
	r.GET("/status/maintenance", status.Maintenance)
	api := r.Group("/", middleware.Authenticate(principals))
	api.POST("/requests", requests.Create)
	api.GET("/requests/:id", requests.Get)
	api.PUT("/requests/:id/accept", requests.Accept)
	api.PUT("/requests/:id/start-journey", requests.StartJourney)
	api.PUT("/requests/:id/status", requests.UpdateStatus)
	api.GET("/mechanics/nearby", mech.Nearby)
	api.PUT("/mechanics/availability", mech.SetAvailability)
	api.PUT("/mechanics/profile", mech.UpdateProfile)
	api.POST("/payment", pay.RecordPayment)
	api.GET("/payment/:id/invoice", pay.Invoice)
	api.GET("/admin/change-requests", adm.ListChangeRequests)
	api.POST("/admin/maintenance/start", adm.StartMaintenance)

	e := &testEnv{store: store, engine: r}
	e.addMechanic(t, 1, mechanic1)
	e.addMechanic(t, 2, mechanic2)
	return e
}

func (e *testEnv) addMechanic(t *testing.T, n int, p domain.Principal) {
	t.Helper()
	loc := dhaka
	m := &domain.Mechanic{
		ID:                  "mech-" + strconv.Itoa(n),
		PrincipalID:         p.ID,
		Name:                "Mechanic",
		VehicleCapabilities: []domain.VehicleType{domain.VehicleCar},
		IsAvailable:         true,
		CurrentLocation:     &loc,
		Garage:              domain.Garage{Name: "Garage", Location: dhaka},
		Verification:        domain.VerificationVerified,
		PriceRange:          domain.PriceRange{Min: 500, Max: 1500},
	}
	m.ApplyDefaults()
	if err := e.store.Mechanics.Create(context.Background(), m); err != nil {
		t.Fatalf("create mechanic: %v", err)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, p *domain.Principal, body string, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+p.ID)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
	return w, env
}

func (e *testEnv) createRequest(t *testing.T) string {
	t.Helper()
	w, env := e.do(t, "POST", "/requests", &motorist, `{
		"vehicleType": "car",
		"problemType": "flat_tire",
		"description": "Rear tire",
		"pickupLocation": {"longitude": 90.4125, "latitude": 23.8103, "address": "Gulshan 1"}
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", w.Code, w.Body.String())
	}
	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Status != string(domain.StatusPending) {
		t.Errorf("expected pending, got %s", req.Status)
	}
	return req.ID
}

// ──────────────────────────────────────────────
// 1. ERROR MAPPING
// ──────────────────────────────────────────────

func TestMapErrorToHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[service.Kind]int{
		service.KindValidation:      http.StatusBadRequest,
		service.KindUnauthenticated: http.StatusUnauthorized,
		service.KindForbidden:       http.StatusForbidden,
		service.KindNotFound:        http.StatusNotFound,
		service.KindConflict:        http.StatusConflict,
		service.KindCapacity:        http.StatusConflict,
		service.KindRateLimited:     http.StatusTooManyRequests,
		service.KindUnavailable:     http.StatusServiceUnavailable,
		service.KindTimeout:         http.StatusGatewayTimeout,
		service.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := mapErrorToHTTPStatus(kind); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestRespondError_HidesInternalDetail(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/x", nil)
	respondError(c, errors.New("pq: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "pq:") {
		t.Errorf("driver detail leaked: %s", w.Body.String())
	}
}

// ──────────────────────────────────────────────
// 2. REQUESTS
// ──────────────────────────────────────────────

func TestRequests_CreateAndAuthorize(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	id := e.createRequest(t)

	if w, _ := e.do(t, "GET", "/requests/"+id, &motorist, ""); w.Code != http.StatusOK {
		t.Errorf("requester: expected 200, got %d", w.Code)
	}
	if w, env := e.do(t, "GET", "/requests/"+id, &bystander, ""); w.Code != http.StatusForbidden || env.Error != string(service.KindForbidden) {
		t.Errorf("bystander: expected 403, got %d %s", w.Code, env.Error)
	}
	if w, _ := e.do(t, "GET", "/requests/missing", &motorist, ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", w.Code)
	}
	if w, _ := e.do(t, "POST", "/requests", &motorist, `{"vehicleType":"spaceship"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: expected 400, got %d", w.Code)
	}
}

func TestRequests_SecondAcceptConflicts(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	id := e.createRequest(t)

	if w, _ := e.do(t, "PUT", "/requests/"+id+"/accept", &mechanic1, `{"estimatedArrivalTime": 15}`); w.Code != http.StatusOK {
		t.Fatalf("first accept: expected 200, got %d %s", w.Code, w.Body.String())
	}
	w, env := e.do(t, "PUT", "/requests/"+id+"/accept", &mechanic2, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", w.Code)
	}
	if env.Message != service.ErrRequestNotAvailable.Message {
		t.Errorf("expected %q, got %q", service.ErrRequestNotAvailable.Message, env.Message)
	}
}

func TestRequests_TransitionRoutes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	id := e.createRequest(t)
	e.do(t, "PUT", "/requests/"+id+"/accept", &mechanic1, "")

	if w, _ := e.do(t, "PUT", "/requests/"+id+"/start-journey", &mechanic2, ""); w.Code != http.StatusForbidden {
		t.Errorf("unassigned mechanic: expected 403, got %d", w.Code)
	}
	w, env := e.do(t, "PUT", "/requests/"+id+"/start-journey", &mechanic1, "")
	if w.Code != http.StatusOK {
		t.Fatalf("start-journey: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(string(env.Data), `"status":"on_way"`) {
		t.Errorf("expected on_way, got %s", env.Data)
	}
	if w, _ := e.do(t, "PUT", "/requests/"+id+"/status", &mechanic1, `{"status":"bogus"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown status: expected 400, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────
// 3. MECHANICS
// ──────────────────────────────────────────────

func TestMechanics_Nearby(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	w, env := e.do(t, "GET", "/mechanics/nearby?longitude=90.4125&latitude=23.8103&vehicleType=car&maxDistance=5000", &motorist, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var hits []struct {
		DistanceKm *float64 `json:"distanceKm"`
	}
	if err := json.Unmarshal(env.Data, &hits); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected 2 mechanics, got %d", len(hits))
	}

	if w, _ := e.do(t, "GET", "/mechanics/nearby?longitude=abc", &motorist, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad longitude: expected 400, got %d", w.Code)
	}
}

func TestMechanics_AvailabilityRequiresFlag(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	if w, _ := e.do(t, "PUT", "/mechanics/availability", &mechanic1, `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing flag: expected 400, got %d", w.Code)
	}
	if w, _ := e.do(t, "PUT", "/mechanics/availability", &mechanic1, `{"isAvailable": false}`); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMechanics_GatedProfileUpdateIsAccepted(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	w, _ := e.do(t, "PUT", "/mechanics/profile", &mechanic1, `{"priceRange": {"min": 500, "max": 5000}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for a gated edit, got %d %s", w.Code, w.Body.String())
	}
	w, env := e.do(t, "GET", "/admin/change-requests?status=pending", &admin, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if !strings.Contains(string(env.Data), `"mechanicId":"mech-1"`) {
		t.Errorf("expected the queued change request, got %s", env.Data)
	}

	if w, _ := e.do(t, "PUT", "/mechanics/profile", &mechanic1, `{"name": "Rahim Motors"}`); w.Code != http.StatusOK {
		t.Errorf("ungated edit: expected 200, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────
// 4. PAYMENTS
// ──────────────────────────────────────────────

func TestPayment_RecordAndInvoice(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	id := e.createRequest(t)
	e.do(t, "PUT", "/requests/"+id+"/accept", &mechanic1, "")

	w, env := e.do(t, "POST", "/payment", &motorist, `{"requestId":"`+id+`","amount":1200,"method":"bkash"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("record: expected 201, got %d %s", w.Code, w.Body.String())
	}
	var payment struct {
		PaymentID string `json:"paymentId"`
	}
	if err := json.Unmarshal(env.Data, &payment); err != nil || payment.PaymentID == "" {
		t.Fatalf("decode payment: %v %s", err, env.Data)
	}

	if w, _ := e.do(t, "POST", "/payment", &motorist, `{"requestId":"`+id+`","amount":1200,"method":"bkash"}`); w.Code != http.StatusConflict {
		t.Errorf("second payment: expected 409, got %d", w.Code)
	}

	w, env = e.do(t, "GET", "/payment/"+payment.PaymentID+"/invoice", &motorist, "")
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"invoiceNumber"`) {
		t.Errorf("json invoice: got %d %s", w.Code, w.Body.String())
	}

	w, _ = e.do(t, "GET", "/payment/"+payment.PaymentID+"/invoice", &motorist, "", "Accept", "text/plain")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("text invoice: got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "INV-") {
		t.Errorf("expected the invoice number in the rendering, got %s", w.Body.String())
	}

	if w, _ := e.do(t, "GET", "/payment/"+payment.PaymentID+"/invoice", &bystander, ""); w.Code != http.StatusForbidden {
		t.Errorf("bystander invoice: expected 403, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────
// 5. STATUS
// ──────────────────────────────────────────────

func TestStatus_MaintenanceFlag(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	if w, _ := e.do(t, "POST", "/admin/maintenance/start", &motorist, `{"reason":"upgrade"}`); w.Code != http.StatusForbidden {
		t.Errorf("non-admin: expected 403, got %d", w.Code)
	}
	if w, _ := e.do(t, "POST", "/admin/maintenance/start", &admin, `{"reason":"upgrade"}`); w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d %s", w.Code, w.Body.String())
	}
	w, env := e.do(t, "GET", "/status/maintenance", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"enabled":true`) {
		t.Errorf("expected maintenance on, got %d %s", w.Code, env.Data)
	}
}

func TestStatus_HealthReportsStorePing(t *testing.T) {
	t.Parallel()

	run := func(ping func(context.Context) error) *httptest.ResponseRecorder {
		r := gin.New()
		r.GET("/health", NewStatusHandler(ping, nil, nil).Health)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		return w
	}

	if w := run(func(context.Context) error { return nil }); w.Code != http.StatusOK {
		t.Errorf("healthy store: expected 200, got %d", w.Code)
	}
	w := run(func(context.Context) error { return errors.New("connection refused") })
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "unreachable") {
		t.Errorf("failing store: expected 503, got %d %s", w.Code, w.Body.String())
	}
}
