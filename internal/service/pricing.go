package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ServiceSelection is a service chosen by the motorist at request time.
type ServiceSelection struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Notes string `json:"notes,omitempty"`
}

// Estimate is the priced result of a set of selections.
type Estimate struct {
	VehicleMultiplier float64                  `json:"vehicleMultiplier"`
	Services          []domain.SelectedService `json:"selectedServices"`
	EstimatedCost     float64                  `json:"estimatedCost"`
	Range             domain.PriceRange        `json:"estimatedCostRange"`
}

// PricingService computes estimates and owns the pricing policy.
type PricingService struct {
	logger  *zap.Logger
	pricing repository.PricingRepository
}

// NewPricingService creates a new PricingService.
func NewPricingService(logger *zap.Logger, pricing repository.PricingRepository) *PricingService {
	return &PricingService{
		logger:  logger.With(zap.String("component", "pricing")),
		pricing: pricing,
	}
}

// Policy returns the latest policy, or the default one if none is stored.
func (s *PricingService) Policy(ctx context.Context) (*domain.PricingPolicy, error) {
	p, err := s.pricing.Latest(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.DefaultPricingPolicy(), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PolicyInput is an admin policy write.
type PolicyInput struct {
	MaxPriceDeltaFraction float64            `json:"maxPriceDeltaFraction"`
	DefaultMin            float64            `json:"defaultMin"`
	DefaultMax            float64            `json:"defaultMax"`
	Bands                 []domain.PriceBand `json:"bands"`
}

// UpdatePolicy stores a new policy version.
func (s *PricingService) UpdatePolicy(ctx context.Context, actor domain.Principal, in PolicyInput) (*domain.PricingPolicy, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if in.MaxPriceDeltaFraction <= 0 || in.MaxPriceDeltaFraction > 1 || math.IsNaN(in.MaxPriceDeltaFraction) {
		return nil, Validation("maxPriceDeltaFraction must be in (0, 1]")
	}
	if in.DefaultMin < 0 || in.DefaultMax < 0 || (in.DefaultMax > 0 && in.DefaultMax < in.DefaultMin) {
		return nil, Validation("Invalid default price range")
	}
	for _, b := range in.Bands {
		if !b.VehicleType.Valid() || b.Service == "" {
			return nil, Validation("Each band needs a valid vehicleType and service")
		}
		if b.Min < 0 || b.Max < 0 || (b.Max > 0 && b.Max < b.Min) {
			return nil, Validation("Invalid price band for %s/%s", b.VehicleType, b.Service)
		}
	}

	p := &domain.PricingPolicy{
		ID:                    uuid.NewString(),
		MaxPriceDeltaFraction: in.MaxPriceDeltaFraction,
		DefaultMin:            in.DefaultMin,
		DefaultMax:            in.DefaultMax,
		Bands:                 in.Bands,
		UpdatedBy:             actor.ID,
		CreatedAt:             time.Now(),
	}
	if p.Bands == nil {
		p.Bands = []domain.PriceBand{}
	}
	if err := s.pricing.Save(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("pricing policy updated", zap.String("by", actor.ID), zap.Float64("maxPriceDeltaFraction", p.MaxPriceDeltaFraction))
	return p, nil
}

// Estimate prices selections for vehicle type v. Unit prices come from the
// mechanic's servicePrices scaled by the vehicle multiplier; a key missing
// there falls back to the policy band for (v, key), which is already
// vehicle-specific and used as is.
func (s *PricingService) Estimate(m *domain.Mechanic, v domain.VehicleType, selections []ServiceSelection, policy *domain.PricingPolicy) Estimate {
	mult := domain.VehicleMultiplier(v)
	est := Estimate{VehicleMultiplier: mult, Services: make([]domain.SelectedService, 0, len(selections))}

	if len(selections) == 0 {
		base := domain.PriceRange{Min: policy.DefaultMin, Max: policy.DefaultMax}
		if m != nil && !m.PriceRange.IsZero() {
			base = m.PriceRange
		}
		base = base.Normalized()
		est.Range = domain.PriceRange{Min: round2(base.Min * mult), Max: round2(base.Max * mult)}
		return est
	}

	var sumMin, sumMax float64
	for _, sel := range selections {
		band, scaled := s.bandFor(m, v, sel.Key, policy)
		if scaled {
			band = domain.PriceRange{Min: band.Min * mult, Max: band.Max * mult}
		}
		unit := band.Max
		if unit <= 0 {
			unit = band.Min
		}
		item := domain.SelectedService{
			Key:       sel.Key,
			Label:     sel.Label,
			UnitPrice: roundUnit(unit),
			Notes:     sel.Notes,
		}
		if item.Label == "" {
			item.Label = sel.Key
		}
		est.Services = append(est.Services, item)
		est.EstimatedCost += item.UnitPrice
		sumMin += band.Min
		sumMax += band.Max
	}
	est.EstimatedCost = round2(est.EstimatedCost)
	est.Range = domain.PriceRange{Min: round2(sumMin), Max: round2(sumMax)}
	return est
}

// bandFor returns the normalized price band for a service key and whether it
// still needs the vehicle multiplier.
func (s *PricingService) bandFor(m *domain.Mechanic, v domain.VehicleType, key string, policy *domain.PricingPolicy) (domain.PriceRange, bool) {
	if m != nil {
		if r, ok := m.ServicePrices[key]; ok && !r.IsZero() {
			return r.Normalized(), true
		}
	}
	if b, ok := policy.Band(v, key); ok {
		return domain.PriceRange{Min: b.Min, Max: b.Max}.Normalized(), false
	}
	return domain.PriceRange{}, false
}

// GateProfileUpdate diffs update against m and reports whether the change
// must go through admin review: any sensitive field, or a priceRange bound
// moving by more than the policy's maxPriceDeltaFraction.
func (s *PricingService) GateProfileUpdate(m *domain.Mechanic, update domain.ProfileUpdate, policy *domain.PricingPolicy) (map[string]domain.FieldChange, bool, error) {
	diff, err := update.Diff(m)
	if err != nil {
		return nil, false, err
	}
	for _, f := range domain.SensitiveFields {
		if _, ok := diff[f]; ok {
			return diff, true, nil
		}
	}
	if _, ok := diff[domain.FieldPriceRange]; ok && update.PriceRange != nil {
		frac := policy.MaxPriceDeltaFraction
		cur, next := m.PriceRange, *update.PriceRange
		if exceedsDelta(cur.Min, next.Min, frac) || exceedsDelta(cur.Max, next.Max, frac) {
			return diff, true, nil
		}
	}
	return diff, false, nil
}

// exceedsDelta reports whether next moves away from cur by more than frac of
// cur. An unset current bound has no baseline and never exceeds.
func exceedsDelta(cur, next, frac float64) bool {
	if cur <= 0 {
		return false
	}
	return math.Abs(next-cur) > frac*cur
}
