package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/middleware"
	"roadside/internal/service"
)

// Envelope is the shape of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	code := mapErrorToHTTPStatus(kind)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
		zap.L().Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(code, Envelope{Message: service.PublicMessage(err), Error: string(kind)})
}

// respondJSON sends a success envelope with the given status code.
func respondJSON(c *gin.Context, code int, message string, data any) {
	c.JSON(code, Envelope{Success: true, Message: message, Data: data})
}

// badRequest answers a body or query that failed to bind.
func badRequest(c *gin.Context, msg string) {
	respondError(c, service.Validation("%s", msg))
}

// mapErrorToHTTPStatus maps error kinds to HTTP status codes.
func mapErrorToHTTPStatus(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindUnauthenticated:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict, service.KindCapacity:
		return http.StatusConflict
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	case service.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errNoPrincipal = errors.New("principal missing from request context")

// principal returns the authenticated caller. Routes using it must sit
// behind middleware.Authenticate.
func principal(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		respondError(c, errNoPrincipal)
	}
	return p, ok
}
