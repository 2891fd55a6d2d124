package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"roadside/internal/domain"
	"roadside/internal/service"
)

// AdminHandler handles the admin-only HTTP surface.
type AdminHandler struct {
	mechanics   *service.MechanicService
	moderation  *service.ModerationService
	pricing     *service.PricingService
	maintenance *service.MaintenanceService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	mechanics *service.MechanicService,
	moderation *service.ModerationService,
	pricing *service.PricingService,
	maintenance *service.MaintenanceService,
) *AdminHandler {
	return &AdminHandler{mechanics: mechanics, moderation: moderation, pricing: pricing, maintenance: maintenance}
}

// VerificationRequest is the body of PUT /admin/mechanics/:id/verification.
type VerificationRequest struct {
	Status domain.VerificationStatus `json:"status"`
}

// ReviewRequest carries the admin notes of an approve or reject.
type ReviewRequest struct {
	Notes string `json:"notes"`
}

// MaintenanceRequest is the optional body of POST /admin/maintenance/start.
type MaintenanceRequest struct {
	Reason string `json:"reason"`
}

// SetVerification handles PUT /admin/mechanics/:id/verification
func (h *AdminHandler) SetVerification(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	m, err := h.mechanics.SetVerification(c.Request.Context(), p, c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Verification updated", m)
}

// ChangeLogs handles GET /admin/mechanics/:id/change-logs
func (h *AdminHandler) ChangeLogs(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	logs, err := h.moderation.Logs(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Change logs retrieved", logs)
}

// ListChangeRequests handles GET /admin/change-requests?status=
func (h *AdminHandler) ListChangeRequests(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	crs, err := h.moderation.List(c.Request.Context(), p, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Change requests retrieved", crs)
}

// ApproveChangeRequest handles PUT /admin/change-requests/:id/approve
func (h *AdminHandler) ApproveChangeRequest(c *gin.Context) {
	h.review(c, h.moderation.Approve, "Change request approved")
}

// RejectChangeRequest handles PUT /admin/change-requests/:id/reject
func (h *AdminHandler) RejectChangeRequest(c *gin.Context) {
	h.review(c, h.moderation.Reject, "Change request rejected")
}

type reviewFunc func(ctx context.Context, p domain.Principal, id, notes string) (*domain.ChangeRequest, error)

func (h *AdminHandler) review(c *gin.Context, decide reviewFunc, message string) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req ReviewRequest
	if !bindOptional(c, &req) {
		return
	}
	cr, err := decide(c.Request.Context(), p, c.Param("id"), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, message, cr)
}

// PricingPolicy handles GET /admin/pricing-policy
func (h *AdminHandler) PricingPolicy(c *gin.Context) {
	policy, err := h.pricing.Policy(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Pricing policy retrieved", policy)
}

// UpdatePricingPolicy handles PUT /admin/pricing-policy
func (h *AdminHandler) UpdatePricingPolicy(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.PolicyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	policy, err := h.pricing.UpdatePolicy(c.Request.Context(), p, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Pricing policy updated", policy)
}

// StartMaintenance handles POST /admin/maintenance/start
func (h *AdminHandler) StartMaintenance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req MaintenanceRequest
	if !bindOptional(c, &req) {
		return
	}
	st, err := h.maintenance.Start(c.Request.Context(), p, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Maintenance mode enabled", st)
}

// StopMaintenance handles POST /admin/maintenance/stop
func (h *AdminHandler) StopMaintenance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	st, err := h.maintenance.Stop(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Maintenance mode disabled", st)
}
