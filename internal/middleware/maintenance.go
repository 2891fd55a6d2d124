package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roadside/internal/service"
)

// MaintenanceChecker reports whether maintenance mode is on.
type MaintenanceChecker interface {
	Enabled(ctx context.Context) bool
}

func maintenanceExempt(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/status/")
}

// MaintenanceGate answers 503 while maintenance is on. Health and status
// endpoints and admins pass through. Mount it after Authenticate so the
// admin check sees the principal.
func MaintenanceGate(m MaintenanceChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maintenanceExempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		if p, ok := PrincipalFrom(c); ok && p.IsAdmin() {
			c.Next()
			return
		}
		if m.Enabled(c.Request.Context()) {
			abort(c, http.StatusServiceUnavailable, service.ErrMaintenance)
			return
		}
		c.Next()
	}
}
