package domain

import "time"

// PriceBand is a policy price for a service on a vehicle type.
type PriceBand struct {
	VehicleType VehicleType `json:"vehicleType"`
	Service     string      `json:"service"`
	Min         float64     `json:"min"`
	Max         float64     `json:"max"`
}

// PricingPolicy is the singleton pricing policy; the latest stored row wins.
type PricingPolicy struct {
	ID                    string      `json:"id,omitempty"`
	MaxPriceDeltaFraction float64     `json:"maxPriceDeltaFraction"`
	DefaultMin            float64     `json:"defaultMin"`
	DefaultMax            float64     `json:"defaultMax"`
	Bands                 []PriceBand `json:"bands"`
	UpdatedBy             string      `json:"updatedBy,omitempty"`
	CreatedAt             time.Time   `json:"createdAt"`
}

// DefaultPricingPolicy is used when no policy has been stored.
func DefaultPricingPolicy() *PricingPolicy {
	return &PricingPolicy{MaxPriceDeltaFraction: 0.30, Bands: []PriceBand{}}
}

// Band returns the band for vehicle type v and service key.
func (p *PricingPolicy) Band(v VehicleType, service string) (PriceBand, bool) {
	for _, b := range p.Bands {
		if b.VehicleType == v && b.Service == service {
			return b, true
		}
	}
	return PriceBand{}, false
}

// VehicleMultiplier returns the price coefficient for a vehicle type.
func VehicleMultiplier(v VehicleType) float64 {
	switch v {
	case VehicleTruck:
		return 1.5
	case VehicleBus:
		return 1.8
	default:
		return 1
	}
}
