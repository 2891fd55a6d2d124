package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roadside/internal/auth"
	"roadside/internal/domain"
	"roadside/internal/service"
)

const principalKey = "principal"

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, rejectWithin time.Duration) (domain.Principal, error)
}

// abort writes the error envelope and stops the chain.
func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{
		"success": false,
		"message": service.PublicMessage(err),
		"error":   service.KindOf(err),
	})
}

// Authenticate requires a valid bearer token and pins the principal on the
// request.
func Authenticate(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request), 0)
		switch {
		case errors.Is(err, auth.ErrInactive):
			abort(c, http.StatusForbidden, service.Forbidden("Account is deactivated"))
			return
		case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
			abort(c, http.StatusUnauthorized, service.ErrUnauthenticated)
			return
		case err != nil:
			zap.L().Error("authentication failed", zap.Error(err))
			abort(c, http.StatusInternalServerError, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequireRole rejects principals without one of roles.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, service.ErrUnauthenticated)
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, service.Forbidden("Requires role %v", roles))
	}
}

// PrincipalFrom returns the principal pinned by Authenticate.
func PrincipalFrom(c *gin.Context) (domain.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return domain.Principal{}, false
	}
	p, ok := v.(domain.Principal)
	return p, ok
}
