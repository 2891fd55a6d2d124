package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roadside/internal/domain"
	"roadside/internal/service"
)

// MechanicHandler handles HTTP requests for mechanics.
type MechanicHandler struct {
	mechanics *service.MechanicService
	dispatch  *service.DispatchService
	geo       *service.GeoService
}

// NewMechanicHandler creates a new MechanicHandler.
func NewMechanicHandler(mechanics *service.MechanicService, dispatch *service.DispatchService, geo *service.GeoService) *MechanicHandler {
	return &MechanicHandler{mechanics: mechanics, dispatch: dispatch, geo: geo}
}

// AvailabilityRequest is the HTTP request body for toggling availability.
type AvailabilityRequest struct {
	IsAvailable *bool `json:"isAvailable"`
}

// LocationRequest is the HTTP request body for a location update.
type LocationRequest struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
}

// queryFloat parses an optional float query parameter.
func queryFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		badRequest(c, name+" must be a number")
		return 0, false
	}
	return v, true
}

// Nearby handles GET /mechanics/nearby
func (h *MechanicHandler) Nearby(c *gin.Context) {
	lon, ok := queryFloat(c, "longitude")
	if !ok {
		return
	}
	lat, ok := queryFloat(c, "latitude")
	if !ok {
		return
	}
	radius, ok := queryFloat(c, "maxDistance")
	if !ok {
		return
	}
	includeUnavailable, _ := strconv.ParseBool(c.Query("includeUnavailable"))

	hits, err := h.geo.FindAvailableNearby(c.Request.Context(), service.NearbyQuery{
		Lon:                lon,
		Lat:                lat,
		VehicleType:        domain.VehicleType(c.Query("vehicleType")),
		RadiusMeters:       radius,
		IncludeUnavailable: includeUnavailable,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Nearby mechanics retrieved", hits)
}

// Match handles POST /mechanics/match
func (h *MechanicHandler) Match(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.MatchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	matches, err := h.dispatch.Match(c.Request.Context(), p, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Matching mechanics retrieved", matches)
}

// Create handles POST /mechanics
func (h *MechanicHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.CreateProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	m, err := h.mechanics.CreateProfile(c.Request.Context(), p, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Mechanic profile created", m)
}

// Profile handles GET /mechanics/:id/profile
func (h *MechanicHandler) Profile(c *gin.Context) {
	m, err := h.mechanics.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Mechanic profile retrieved", m)
}

// Reviews handles GET /mechanics/:id/reviews
func (h *MechanicHandler) Reviews(c *gin.Context) {
	reviews, err := h.mechanics.Reviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Reviews retrieved", reviews)
}

// History handles GET /mechanics/:id/history
func (h *MechanicHandler) History(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	jobs, err := h.mechanics.History(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Job history retrieved", jobs)
}

// SetAvailability handles PUT /mechanics/availability
func (h *MechanicHandler) SetAvailability(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsAvailable == nil {
		badRequest(c, "isAvailable is required")
		return
	}
	m, err := h.mechanics.SetAvailability(c.Request.Context(), p, *req.IsAvailable)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Availability updated", m)
}

// UpdateLocation handles PUT /mechanics/location
func (h *MechanicHandler) UpdateLocation(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Longitude == nil || req.Latitude == nil {
		badRequest(c, "longitude and latitude are required")
		return
	}
	loc, err := h.mechanics.UpdateLocation(c.Request.Context(), p, *req.Longitude, *req.Latitude)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Location updated", loc)
}

// UpdateProfile handles PUT /mechanics/profile. Gated edits answer 202 with
// the queued change request.
func (h *MechanicHandler) UpdateProfile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var update domain.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := h.mechanics.UpdateProfile(c.Request.Context(), p, update)
	if err != nil {
		respondError(c, err)
		return
	}
	if res.PendingReview {
		respondJSON(c, http.StatusAccepted, "Profile changes submitted for review", res)
		return
	}
	respondJSON(c, http.StatusOK, "Profile updated", res)
}
