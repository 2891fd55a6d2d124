package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Profile field names used in diffs and change requests.
const (
	FieldName                = "name"
	FieldPhone               = "phone"
	FieldVehicleCapabilities = "vehicleCapabilities"
	FieldSkills              = "skills"
	FieldExperienceYears     = "experienceYears"
	FieldWorkingHours        = "workingHours"
	FieldServiceRadiusKm     = "serviceRadiusKm"
	FieldMaxConcurrentJobs   = "maxConcurrentJobs"
	FieldPriceRange          = "priceRange"
	FieldServicePrices       = "servicePrices"
	FieldGarage              = "garage"
	FieldDocuments           = "documents"
	FieldEmergencyContact    = "emergencyContact"
)

// SensitiveFields always require admin review when changed.
var SensitiveFields = []string{FieldGarage, FieldDocuments}

// ProfileUpdate is a mechanic self-edit; nil fields are left untouched.
type ProfileUpdate struct {
	Name                *string                `json:"name,omitempty"`
	Phone               *string                `json:"phone,omitempty"`
	VehicleCapabilities *[]VehicleType         `json:"vehicleCapabilities,omitempty"`
	Skills              *[]string              `json:"skills,omitempty"`
	ExperienceYears     *int                   `json:"experienceYears,omitempty"`
	WorkingHours        *WorkingHours          `json:"workingHours,omitempty"`
	ServiceRadiusKm     *float64               `json:"serviceRadiusKm,omitempty"`
	MaxConcurrentJobs   *int                   `json:"maxConcurrentJobs,omitempty"`
	PriceRange          *PriceRange            `json:"priceRange,omitempty"`
	ServicePrices       *map[string]PriceRange `json:"servicePrices,omitempty"`
	Garage              *Garage                `json:"garage,omitempty"`
	Documents           *[]Document            `json:"documents,omitempty"`
	EmergencyContact    *EmergencyContact      `json:"emergencyContact,omitempty"`
}

// Diff returns the fields whose proposed value differs from m.
func (u ProfileUpdate) Diff(m *Mechanic) (map[string]FieldChange, error) {
	out := map[string]FieldChange{}
	add := func(field string, from, to any) error {
		f, err := json.Marshal(from)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", field, err)
		}
		t, err := json.Marshal(to)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", field, err)
		}
		if !bytes.Equal(f, t) {
			out[field] = FieldChange{From: f, To: t}
		}
		return nil
	}

	type pair struct {
		field    string
		set      bool
		from, to func() any
	}
	pairs := []pair{
		{FieldName, u.Name != nil, func() any { return m.Name }, func() any { return *u.Name }},
		{FieldPhone, u.Phone != nil, func() any { return m.Phone }, func() any { return *u.Phone }},
		{FieldVehicleCapabilities, u.VehicleCapabilities != nil, func() any { return m.VehicleCapabilities }, func() any { return *u.VehicleCapabilities }},
		{FieldSkills, u.Skills != nil, func() any { return m.Skills }, func() any { return *u.Skills }},
		{FieldExperienceYears, u.ExperienceYears != nil, func() any { return m.ExperienceYears }, func() any { return *u.ExperienceYears }},
		{FieldWorkingHours, u.WorkingHours != nil, func() any { return m.WorkingHours }, func() any { return *u.WorkingHours }},
		{FieldServiceRadiusKm, u.ServiceRadiusKm != nil, func() any { return m.ServiceRadiusKm }, func() any { return *u.ServiceRadiusKm }},
		{FieldMaxConcurrentJobs, u.MaxConcurrentJobs != nil, func() any { return m.MaxConcurrentJobs }, func() any { return *u.MaxConcurrentJobs }},
		{FieldPriceRange, u.PriceRange != nil, func() any { return m.PriceRange }, func() any { return *u.PriceRange }},
		{FieldServicePrices, u.ServicePrices != nil, func() any { return m.ServicePrices }, func() any { return *u.ServicePrices }},
		{FieldGarage, u.Garage != nil, func() any { return m.Garage }, func() any { return *u.Garage }},
		{FieldDocuments, u.Documents != nil, func() any { return m.Documents }, func() any { return *u.Documents }},
		{FieldEmergencyContact, u.EmergencyContact != nil, func() any { return m.EmergencyContact }, func() any { return *u.EmergencyContact }},
	}
	for _, p := range pairs {
		if !p.set {
			continue
		}
		if err := add(p.field, p.from(), p.to()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyChanges writes the To side of each change onto m.
func (m *Mechanic) ApplyChanges(changes map[string]FieldChange) error {
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		to := changes[field].To
		var target any
		switch field {
		case FieldName:
			target = &m.Name
		case FieldPhone:
			target = &m.Phone
		case FieldVehicleCapabilities:
			target = &m.VehicleCapabilities
		case FieldSkills:
			target = &m.Skills
		case FieldExperienceYears:
			target = &m.ExperienceYears
		case FieldWorkingHours:
			target = &m.WorkingHours
		case FieldServiceRadiusKm:
			target = &m.ServiceRadiusKm
		case FieldMaxConcurrentJobs:
			target = &m.MaxConcurrentJobs
		case FieldPriceRange:
			target = &m.PriceRange
		case FieldServicePrices:
			prices := map[string]PriceRange{}
			if err := json.Unmarshal(to, &prices); err != nil {
				return fmt.Errorf("apply %s: %w", field, err)
			}
			m.ServicePrices = prices
			continue
		case FieldGarage:
			target = &m.Garage
		case FieldDocuments:
			target = &m.Documents
		case FieldEmergencyContact:
			target = &m.EmergencyContact
		default:
			return fmt.Errorf("apply: unknown field %q", field)
		}
		if err := json.Unmarshal(to, target); err != nil {
			return fmt.Errorf("apply %s: %w", field, err)
		}
	}
	return nil
}
