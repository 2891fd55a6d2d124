package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"roadside/internal/domain"
	"roadside/internal/service"
)

func validProfile() service.CreateProfileInput {
	return service.CreateProfileInput{
		Name:                "Rahim Auto",
		Phone:               "+8801700000000",
		VehicleCapabilities: []domain.VehicleType{domain.VehicleCar},
		ServiceRadiusKm:     15,
		MaxConcurrentJobs:   2,
		WorkingHours:        domain.WorkingHours{Start: "08:00", End: "20:00"},
		Garage:              domain.Garage{Name: "Rahim Garage", Address: "Mirpur 10", Location: domain.GeoPoint{Lon: 90.3667, Lat: 23.8069}},
		PriceRange:          domain.PriceRange{Min: 100, Max: 200},
	}
}

// ──────────────────────────────────────────────
// 1. PROFILE
// ──────────────────────────────────────────────

func TestCreateProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := mechanicPrincipal(1)

	m, err := f.Mechanics.CreateProfile(ctx, p, validProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Verification != domain.VerificationPending {
		t.Errorf("expected pending verification, got %s", m.Verification)
	}
	if !m.IsAvailable {
		t.Error("expected a new profile to be available")
	}
	if m.CurrentLocation == nil || m.CurrentLocation.Lon != 90.3667 {
		t.Errorf("expected current location to fall back to the garage, got %+v", m.CurrentLocation)
	}

	if _, err := f.Mechanics.CreateProfile(ctx, p, validProfile()); !errors.Is(err, service.ErrConflict) {
		t.Errorf("expected conflict on second profile, got %v", err)
	}
	if _, err := f.Mechanics.CreateProfile(ctx, motorist, validProfile()); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("expected forbidden for a user, got %v", err)
	}
}

func TestCreateProfile_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(in *service.CreateProfileInput)
	}{
		{"no capabilities", func(in *service.CreateProfileInput) { in.VehicleCapabilities = nil }},
		{"bad capability", func(in *service.CreateProfileInput) { in.VehicleCapabilities = []domain.VehicleType{"plane"} }},
		{"radius too large", func(in *service.CreateProfileInput) { in.ServiceRadiusKm = 80 }},
		{"bad hours", func(in *service.CreateProfileInput) { in.WorkingHours.Start = "8am" }},
		{"inverted price", func(in *service.CreateProfileInput) { in.PriceRange = domain.PriceRange{Min: 300, Max: 100} }},
		{"negative service price", func(in *service.CreateProfileInput) {
			in.ServicePrices = map[string]domain.PriceRange{"towing": {Min: -1}}
		}},
		{"garage out of range", func(in *service.CreateProfileInput) { in.Garage.Location.Lat = 95 }},
		{"missing garage", func(in *service.CreateProfileInput) { in.Garage = domain.Garage{} }},
		{"garage at null island", func(in *service.CreateProfileInput) { in.Garage.Location = domain.GeoPoint{} }},
	}

	f := newFixture(t)
	for i, tc := range cases {
		in := validProfile()
		tc.mutate(&in)
		if _, err := f.Mechanics.CreateProfile(context.Background(), mechanicPrincipal(100+i), in); !errors.Is(err, service.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestSetAvailability(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, mp := f.AddMechanic(t, 1, dhaka)

	if _, err := f.Mechanics.SetAvailability(ctx, mp, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := f.Store.Mechanics.GetByID(ctx, m.ID)
	if stored.IsAvailable {
		t.Error("expected mechanic to be unavailable")
	}

	if _, err := f.Mechanics.SetVerification(ctx, admin, m.ID, domain.VerificationRejected); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Mechanics.SetAvailability(ctx, mp, true); !errors.Is(err, service.ErrMechanicNotVerified) {
		t.Errorf("expected ErrMechanicNotVerified, got %v", err)
	}
}

func TestUpdateLocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, mp := f.AddMechanic(t, 1, dhaka)

	if _, err := f.Mechanics.UpdateLocation(ctx, mp, 0, 0); !errors.Is(err, service.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	loc, err := f.Mechanics.UpdateLocation(ctx, mp, 90.40, 23.75)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.UpdatedAt == nil {
		t.Error("expected updatedAt on the stored location")
	}
	stored, _ := f.Store.Mechanics.GetByID(ctx, m.ID)
	if stored.CurrentLocation.Lat != 23.75 {
		t.Errorf("expected stored location, got %+v", stored.CurrentLocation)
	}
}

func TestReviewsAndHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, mp := f.AddMechanic(t, 1, dhaka)
	_, other := f.AddMechanic(t, 2, dhaka)

	req := f.CreateRequest(t, "")
	f.Advance(t, mp, req.ID, domain.StatusCompleted)
	if _, err := f.Lifecycle.Rate(ctx, motorist, req.ID, service.RateInput{Rating: 5, Comment: "great"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reviews, err := f.Mechanics.Reviews(ctx, m.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Rating != 5 || reviews[0].Comment != "great" {
		t.Errorf("unexpected reviews %+v", reviews)
	}

	history, err := f.Mechanics.History(ctx, mp, m.ID)
	if err != nil || len(history) != 1 {
		t.Errorf("expected 1 finished job, got %d (%v)", len(history), err)
	}
	if _, err := f.Mechanics.History(ctx, other, m.ID); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 2. PROFILE UPDATES AND MODERATION
// ──────────────────────────────────────────────

func TestUpdateProfile_PlainEditAppliesAndLogs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, mp := f.AddMechanic(t, 1, dhaka)

	name := "Fast Fix"
	res, err := f.Mechanics.UpdateProfile(ctx, mp, domain.ProfileUpdate{Name: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PendingReview || res.Mechanic.Name != name {
		t.Errorf("expected the edit to apply, got %+v", res)
	}

	logs, err := f.Moderation.Logs(ctx, admin, m.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 || logs[0].Source != domain.ChangeSourceSelf {
		t.Errorf("expected one self log, got %+v", logs)
	}
}

func TestUpdateProfile_InvalidEditRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, mp := f.AddMechanic(t, 1, dhaka)

	zero := 0
	if _, err := f.Mechanics.UpdateProfile(context.Background(), mp, domain.ProfileUpdate{MaxConcurrentJobs: &zero}); !errors.Is(err, service.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateProfile_SensitiveEditQueuedThenApproved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, mp := f.AddMechanic(t, 1, dhaka)

	name := "Moved Garage Ltd"
	garage := domain.Garage{Name: "Uttara", Address: "Sector 7", Location: domain.GeoPoint{Lon: 90.3984, Lat: 23.8759}}
	res, err := f.Mechanics.UpdateProfile(ctx, mp, domain.ProfileUpdate{Name: &name, Garage: &garage})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PendingReview || res.ChangeRequest == nil {
		t.Fatalf("expected a queued change request, got %+v", res)
	}
	if len(res.ChangeRequest.FieldsChanged) != 2 {
		t.Errorf("expected the whole edit to be queued, got %d fields", len(res.ChangeRequest.FieldsChanged))
	}
	stored, _ := f.Store.Mechanics.GetByID(ctx, m.ID)
	if stored.Name == name {
		t.Error("queued edit must not apply before approval")
	}

	pending, err := f.Moderation.List(ctx, admin, "pending")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending change request, got %d (%v)", len(pending), err)
	}
	if _, err := f.Moderation.Approve(ctx, mp, res.ChangeRequest.ID, ""); !errors.Is(err, service.ErrAdminOnly) {
		t.Errorf("expected ErrAdminOnly, got %v", err)
	}

	cr, err := f.Moderation.Approve(ctx, admin, res.ChangeRequest.ID, "documents checked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cr.Status != domain.ChangeRequestApproved || cr.ReviewerID != admin.ID || cr.DecidedAt == nil {
		t.Errorf("unexpected decision %+v", cr)
	}
	stored, _ = f.Store.Mechanics.GetByID(ctx, m.ID)
	if stored.Name != name || stored.Garage.Name != "Uttara" {
		t.Errorf("expected edit to be applied, got %q / %q", stored.Name, stored.Garage.Name)
	}

	logs, _ := f.Moderation.Logs(ctx, admin, m.ID)
	if len(logs) != 1 || logs[0].Source != domain.ChangeSourceApproval {
		t.Errorf("expected one approval log, got %+v", logs)
	}

	if _, err := f.Moderation.Approve(ctx, admin, res.ChangeRequest.ID, ""); !errors.Is(err, service.ErrChangeRequestDecided) {
		t.Errorf("expected ErrChangeRequestDecided, got %v", err)
	}
	if _, err := f.Moderation.Reject(ctx, admin, res.ChangeRequest.ID, ""); !errors.Is(err, service.ErrChangeRequestDecided) {
		t.Errorf("expected ErrChangeRequestDecided on reject, got %v", err)
	}
}

func TestModeration_RejectLeavesProfileUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, mp := f.AddMechanic(t, 1, dhaka, func(m *domain.Mechanic) {
		m.PriceRange = domain.PriceRange{Min: 100, Max: 200}
	})

	jump := domain.PriceRange{Min: 100, Max: 500}
	res, err := f.Mechanics.UpdateProfile(ctx, mp, domain.ProfileUpdate{PriceRange: &jump})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PendingReview {
		t.Fatal("expected a large price move to need review")
	}

	cr, err := f.Moderation.Reject(ctx, admin, res.ChangeRequest.ID, "too steep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cr.Status != domain.ChangeRequestRejected || cr.ReviewerNotes != "too steep" {
		t.Errorf("unexpected decision %+v", cr)
	}
	stored, _ := f.Store.Mechanics.GetByID(ctx, m.ID)
	if stored.PriceRange.Max != 200 {
		t.Errorf("expected price to stay 200, got %v", stored.PriceRange.Max)
	}

	if _, err := f.Moderation.Reject(ctx, admin, "missing", ""); !errors.Is(err, service.ErrChangeRequestNotFound) {
		t.Errorf("expected ErrChangeRequestNotFound, got %v", err)
	}
	if _, err := f.Moderation.List(ctx, admin, "weird"); !errors.Is(err, service.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// queueChange stores a pending change request directly, bypassing the
// self-edit checks.
func queueChange(t *testing.T, f *Fixture, mechanicID string, fields map[string]any) *domain.ChangeRequest {
	t.Helper()
	diff := make(map[string]domain.FieldChange, len(fields))
	for k, v := range fields {
		to, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", k, err)
		}
		diff[k] = domain.FieldChange{From: json.RawMessage("null"), To: to}
	}
	cr := &domain.ChangeRequest{
		ID:            "cr-" + mechanicID,
		MechanicID:    mechanicID,
		RequestedBy:   "someone",
		Status:        domain.ChangeRequestPending,
		FieldsChanged: diff,
		CreatedAt:     time.Now(),
	}
	if err := f.Store.ChangeRequests.Create(context.Background(), cr); err != nil {
		t.Fatalf("create change request: %v", err)
	}
	return cr
}

func TestModeration_InvalidChangeStaysPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.AddMechanic(t, 1, dhaka)
	cr := queueChange(t, f, m.ID, map[string]any{
		domain.FieldName:   "Renamed",
		domain.FieldGarage: domain.Garage{Name: "Nowhere"},
	})

	if _, err := f.Moderation.Approve(ctx, admin, cr.ID, ""); !errors.Is(err, service.ErrValidation) {
		t.Fatalf("expected validation error for a garage without location, got %v", err)
	}

	stored, _ := f.Store.ChangeRequests.GetByID(ctx, cr.ID)
	if stored.Status != domain.ChangeRequestPending || stored.DecidedAt != nil {
		t.Errorf("expected the request to stay pending, got %+v", stored)
	}
	profile, _ := f.Store.Mechanics.GetByID(ctx, m.ID)
	if profile.Name == "Renamed" || !profile.Garage.Location.Usable() {
		t.Errorf("expected the profile untouched, got %q / %+v", profile.Name, profile.Garage)
	}
	if logs, _ := f.Moderation.Logs(ctx, admin, m.ID); len(logs) != 0 {
		t.Errorf("expected no change log, got %d", len(logs))
	}

	// A rejected approval can still be decided afterwards.
	if _, err := f.Moderation.Reject(ctx, admin, cr.ID, "garage needs a location"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestModeration_ConcurrentApprovalsApplyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.AddMechanic(t, 1, dhaka)
	cr := queueChange(t, f, m.ID, map[string]any{domain.FieldName: "Approved Name"})

	const admins = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		decided  int
	)
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Moderation.Approve(ctx, admin, cr.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case errors.Is(err, service.ErrChangeRequestDecided):
				decided++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if approved != 1 || decided != admins-1 {
		t.Errorf("expected exactly one approval, got %d approved and %d decided", approved, decided)
	}
	if logs, _ := f.Moderation.Logs(ctx, admin, m.ID); len(logs) != 1 {
		t.Errorf("expected one change log entry, got %d", len(logs))
	}
	profile, _ := f.Store.Mechanics.GetByID(ctx, m.ID)
	if profile.Name != "Approved Name" {
		t.Errorf("expected the change applied, got %q", profile.Name)
	}
}
