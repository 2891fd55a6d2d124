package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roadside/internal/auth"
	"roadside/internal/domain"
	"roadside/internal/service"
	"roadside/internal/throttle"
)

const (
	// Credentials this close to expiry are refused at the handshake.
	tokenExpiryMargin = 60 * time.Second

	connectLimit  = 20
	connectWindow = 60 * time.Second
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, rejectWithin time.Duration) (domain.Principal, error)
}

// ConnLimiter counts connection attempts per source.
type ConnLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MaintenanceGate reports whether maintenance mode is on.
type MaintenanceGate interface {
	Enabled(ctx context.Context) bool
}

// ServerDeps are the collaborators of the websocket endpoint.
type ServerDeps struct {
	Hub         *Hub
	Logger      *zap.Logger
	Auth        Authenticator
	Rooms       RoomAuthorizer
	Chat        ChatEngine
	Tracking    LocationRelay
	Maintenance MaintenanceGate

	// Limiter is shared across workers. Nil or failing limiters fall back
	// to a per-process budget.
	Limiter ConnLimiter
	Origins []string
}

// Server upgrades authenticated requests to websocket connections.
type Server struct {
	hub         *Hub
	logger      *zap.Logger
	auth        Authenticator
	maintenance MaintenanceGate
	limiter     ConnLimiter
	fallback    *throttle.Window
	router      *router
	upgrader    websocket.Upgrader
}

// NewServer creates the /ws endpoint.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Hub.logger
	if deps.Logger != nil {
		logger = deps.Logger.With(zap.String("component", "realtime"))
	}
	s := &Server{
		hub:         deps.Hub,
		logger:      logger,
		auth:        deps.Auth,
		maintenance: deps.Maintenance,
		limiter:     deps.Limiter,
		fallback:    throttle.PerWindow(connectLimit, connectWindow),
		router:      newRouter(deps.Hub, logger, deps.Rooms, deps.Chat, deps.Tracking),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(deps.Origins),
	}
	return s
}

// originChecker allows requests without an Origin header (native clients)
// and browser origins on the allowlist.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || wildcard || allowed[strings.TrimRight(origin, "/")]
	}
}

// allowConnect applies the connection budget for ip.
func (s *Server) allowConnect(ctx context.Context, ip string) bool {
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, ip)
		if err == nil {
			return ok
		}
		s.logger.Warn("shared connection limiter failed, using local budget", zap.Error(err))
	}
	return s.fallback.Allow(ip)
}

func refuse(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{
		"success": false,
		"message": service.PublicMessage(err),
		"error":   service.KindOf(err),
	})
}

// Handle is the gin handler for GET /ws.
func (s *Server) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	if !s.allowConnect(ctx, ip) {
		s.logger.Warn("connection rate limit exceeded", zap.String("ip", ip))
		refuse(c, http.StatusTooManyRequests, service.ErrConnectionRateLimited)
		return
	}

	p, err := s.auth.Authenticate(ctx, auth.TokenFromRequest(c.Request), tokenExpiryMargin)
	if err != nil {
		s.logger.Debug("handshake rejected", zap.String("ip", ip), zap.Error(err))
		refuse(c, http.StatusUnauthorized, service.ErrUnauthenticated)
		return
	}
	if s.maintenance != nil && !p.IsAdmin() && s.maintenance.Enabled(ctx) {
		refuse(c, http.StatusServiceUnavailable, service.ErrMaintenance)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(s.hub, conn, p)
	s.hub.register(client)
	s.hub.Join(client, service.UserRoom(p.ID))
	if room := service.RoleRoom(p.Role); room != "" {
		s.hub.Join(client, room)
	}
	client.logger.Debug("connected", zap.String("ip", ip))

	go client.writePump()
	go client.readPump(s.router.handle)
}
