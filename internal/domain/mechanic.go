package domain

import (
	"slices"
	"time"
)

// VehicleType identifies a class of vehicle a mechanic can service.
type VehicleType string

const (
	VehicleBike     VehicleType = "bike"
	VehicleCar      VehicleType = "car"
	VehicleTruck    VehicleType = "truck"
	VehicleBus      VehicleType = "bus"
	VehicleCNG      VehicleType = "cng"
	VehicleRickshaw VehicleType = "rickshaw"
)

// Valid reports whether v is a known vehicle type.
func (v VehicleType) Valid() bool {
	switch v {
	case VehicleBike, VehicleCar, VehicleTruck, VehicleBus, VehicleCNG, VehicleRickshaw:
		return true
	}
	return false
}

// VerificationStatus is the admin verification state of a mechanic.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Valid reports whether s is a known verification state.
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationVerified, VerificationRejected:
		return true
	}
	return false
}

// PriceRange is a min/max price band. A zero Max means only Min is known.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Normalized returns the range with Max defaulted to Min when absent.
func (r PriceRange) Normalized() PriceRange {
	if r.Max <= 0 {
		r.Max = r.Min
	}
	return r
}

// IsZero reports whether neither bound is set.
func (r PriceRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// WorkingHours holds HHMM start and end strings.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Garage is the mechanic's fixed base.
type Garage struct {
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Location GeoPoint `json:"location"`
}

// Document is an uploaded verification document reference.
type Document struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Verified bool   `json:"verified"`
}

// EmergencyContact of a mechanic.
type EmergencyContact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation,omitempty"`
}

// Mechanic is a mechanic profile.
type Mechanic struct {
	ID                  string                `json:"id"`
	PrincipalID         string                `json:"principalId"`
	Name                string                `json:"name"`
	Phone               string                `json:"phone"`
	VehicleCapabilities []VehicleType         `json:"vehicleCapabilities"`
	Skills              []string              `json:"skills"`
	ExperienceYears     int                   `json:"experienceYears"`
	Rating              float64               `json:"rating"`
	TotalRatings        int                   `json:"totalRatings"`
	CompletedJobs       int                   `json:"completedJobs"`
	IsAvailable         bool                  `json:"isAvailable"`
	MaxConcurrentJobs   int                   `json:"maxConcurrentJobs"`
	WorkingHours        WorkingHours          `json:"workingHours"`
	ServiceRadiusKm     float64               `json:"serviceRadiusKm"`
	CurrentLocation     *GeoPoint             `json:"currentLocation,omitempty"`
	Garage              Garage                `json:"garage"`
	PriceRange          PriceRange            `json:"priceRange"`
	ServicePrices       map[string]PriceRange `json:"servicePrices"`
	Verification        VerificationStatus    `json:"verification"`
	Documents           []Document            `json:"documents"`
	EmergencyContact    *EmergencyContact     `json:"emergencyContact,omitempty"`
	CreatedAt           time.Time             `json:"createdAt"`
	UpdatedAt           time.Time             `json:"updatedAt"`
}

const (
	DefaultMechanicRating = 5.0
	MinServiceRadiusKm    = 1.0
	MaxServiceRadiusKm    = 50.0
)

// ApplyLocationFallback populates CurrentLocation from the garage when it is
// unset or unusable. It never leaves the (0,0) sentinel behind.
func (m *Mechanic) ApplyLocationFallback(now time.Time) {
	if m.CurrentLocation != nil && m.CurrentLocation.Usable() {
		return
	}
	if !m.Garage.Location.Usable() {
		m.CurrentLocation = nil
		return
	}
	at := now
	m.CurrentLocation = &GeoPoint{Lon: m.Garage.Location.Lon, Lat: m.Garage.Location.Lat, UpdatedAt: &at}
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (m *Mechanic) ApplyDefaults() {
	if m.Rating == 0 && m.TotalRatings == 0 {
		m.Rating = DefaultMechanicRating
	}
	if m.MaxConcurrentJobs < 1 {
		m.MaxConcurrentJobs = 1
	}
	if m.ServiceRadiusKm == 0 {
		m.ServiceRadiusKm = 10
	}
	if m.Verification == "" {
		m.Verification = VerificationPending
	}
	if m.ServicePrices == nil {
		m.ServicePrices = map[string]PriceRange{}
	}
}

// Dispatchable reports whether the mechanic is visible to dispatch.
func (m *Mechanic) Dispatchable() bool {
	return m.Verification == VerificationVerified || m.Verification == VerificationPending
}

// CanServe reports whether the mechanic works on vehicle type v.
func (m *Mechanic) CanServe(v VehicleType) bool {
	return slices.Contains(m.VehicleCapabilities, v)
}

// Clone returns a deep copy.
func (m *Mechanic) Clone() *Mechanic {
	c := *m
	c.VehicleCapabilities = slices.Clone(m.VehicleCapabilities)
	c.Skills = slices.Clone(m.Skills)
	c.Documents = slices.Clone(m.Documents)
	if m.CurrentLocation != nil {
		loc := *m.CurrentLocation
		c.CurrentLocation = &loc
	}
	if m.EmergencyContact != nil {
		ec := *m.EmergencyContact
		c.EmergencyContact = &ec
	}
	if m.ServicePrices != nil {
		c.ServicePrices = make(map[string]PriceRange, len(m.ServicePrices))
		for k, v := range m.ServicePrices {
			c.ServicePrices[k] = v
		}
	}
	return &c
}
