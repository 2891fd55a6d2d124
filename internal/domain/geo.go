package domain

import (
	"math"
	"time"
)

// GeoPoint is a longitude/latitude pair.
type GeoPoint struct {
	Lon       float64    `json:"longitude"`
	Lat       float64    `json:"latitude"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Usable reports whether the point is finite, in range and not the (0,0) sentinel.
func (p GeoPoint) Usable() bool {
	return UsableCoordinates(p.Lon, p.Lat)
}

// UsableCoordinates reports whether lon/lat can be used for distance math.
func UsableCoordinates(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	if lon == 0 && lat == 0 {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}
