package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roadside/internal/service"
)

const healthPingTimeout = 2 * time.Second

// ConnectionCounter reports the number of live realtime connections.
type ConnectionCounter interface {
	Connections() int
}

// StatusHandler serves the unauthenticated status endpoints.
type StatusHandler struct {
	ping        func(ctx context.Context) error
	maintenance *service.MaintenanceService
	conns       ConnectionCounter
}

// NewStatusHandler creates a new StatusHandler. conns may be nil.
func NewStatusHandler(ping func(ctx context.Context) error, maintenance *service.MaintenanceService, conns ConnectionCounter) *StatusHandler {
	return &StatusHandler{ping: ping, maintenance: maintenance, conns: conns}
}

// Health handles GET /health. A failing store ping answers 503.
func (h *StatusHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	body := gin.H{"status": "ok", "store": "ok"}
	if h.conns != nil {
		body["connections"] = h.conns.Connections()
	}
	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			body["status"] = "degraded"
			body["store"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

// Maintenance handles GET /status/maintenance
func (h *StatusHandler) Maintenance(c *gin.Context) {
	respondJSON(c, http.StatusOK, "Maintenance status retrieved", h.maintenance.State(c.Request.Context()))
}
