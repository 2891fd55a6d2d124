package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"roadside/internal/domain"
	"roadside/internal/handler"
	"roadside/internal/middleware"
	"roadside/internal/realtime"
	"roadside/internal/throttle"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RequestHandler  *handler.RequestHandler
	MechanicHandler *handler.MechanicHandler
	PaymentHandler  *handler.PaymentHandler
	AdminHandler    *handler.AdminHandler
	StatusHandler   *handler.StatusHandler
	Realtime        *realtime.Server

	Auth        middleware.Authenticator
	Maintenance middleware.MaintenanceChecker
	// Responses backs idempotent retries; nil disables them.
	Responses middleware.ResponseCache
	// RateLimiter overrides the default per-IP budget.
	RateLimiter throttle.Limiter

	Logger         *zap.Logger
	NewRelicApp    *newrelic.Application
	ClientOrigins  []string
	RequestTimeout time.Duration
}

// corsConfig allows the configured origins, or every origin when none or
// "*" is configured.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(cors.New(corsConfig(deps.ClientOrigins)))

	limiter := middleware.RateLimit()
	if deps.RateLimiter != nil {
		limiter = middleware.RateLimitWith(deps.RateLimiter)
	}

	// Status routes stay reachable during maintenance.
	router.GET("/health", deps.StatusHandler.Health)
	router.GET("/status/maintenance", deps.StatusHandler.Maintenance)

	// The websocket handshake does its own authentication and throttling and
	// must not inherit a request deadline.
	if deps.Realtime != nil {
		router.GET("/ws", deps.Realtime.Handle)
	}

	api := router.Group("/",
		limiter,
		middleware.Timeout(deps.RequestTimeout),
		middleware.Authenticate(deps.Auth),
		middleware.MaintenanceGate(deps.Maintenance),
		middleware.Idempotency(deps.Responses),
	)

	// Request routes.
	requests := api.Group("/requests")
	{
		requests.POST("", deps.RequestHandler.Create)
		requests.GET("", deps.RequestHandler.List)
		requests.GET("/nearby", middleware.RequireRole(domain.RoleMechanic), deps.RequestHandler.Nearby)
		requests.GET("/:id", deps.RequestHandler.Get)
		requests.GET("/:id/chat", deps.RequestHandler.Chat)
		requests.GET("/:id/payments", deps.RequestHandler.Payments)
		requests.PUT("/:id/accept", deps.RequestHandler.Accept)
		requests.PUT("/:id/reject", deps.RequestHandler.Reject)
		requests.PUT("/:id/start-journey", deps.RequestHandler.StartJourney)
		requests.PUT("/:id/arrived", deps.RequestHandler.Arrived)
		requests.PUT("/:id/start-work", deps.RequestHandler.StartWork)
		requests.PUT("/:id/complete", deps.RequestHandler.Complete)
		requests.PUT("/:id/status", deps.RequestHandler.UpdateStatus)
		requests.PUT("/:id/rate", deps.RequestHandler.Rate)
		requests.POST("/:id/notes", deps.RequestHandler.AddNote)
	}

	// Mechanic routes.
	mechanics := api.Group("/mechanics")
	{
		mechanics.POST("", deps.MechanicHandler.Create)
		mechanics.GET("/nearby", deps.MechanicHandler.Nearby)
		mechanics.POST("/match", deps.MechanicHandler.Match)
		mechanics.GET("/:id/profile", deps.MechanicHandler.Profile)
		mechanics.GET("/:id/reviews", deps.MechanicHandler.Reviews)
		mechanics.GET("/:id/history", deps.MechanicHandler.History)
		mechanics.PUT("/availability", deps.MechanicHandler.SetAvailability)
		mechanics.PUT("/location", deps.MechanicHandler.UpdateLocation)
		mechanics.PUT("/profile", deps.MechanicHandler.UpdateProfile)
	}

	// Payment routes.
	payments := api.Group("/payment")
	{
		payments.POST("", deps.PaymentHandler.RecordPayment)
		payments.GET("/verify/:transactionId", deps.PaymentHandler.VerifyPayment)
		payments.GET("/:id", deps.PaymentHandler.GetPayment)
		payments.GET("/:id/invoice", deps.PaymentHandler.Invoice)
	}

	// Admin routes.
	admin := api.Group("/admin", middleware.RequireRole(domain.RoleAdmin))
	{
		admin.PUT("/mechanics/:id/verification", deps.AdminHandler.SetVerification)
		admin.GET("/mechanics/:id/change-logs", deps.AdminHandler.ChangeLogs)
		admin.PUT("/requests/:id/status", deps.RequestHandler.UpdateStatus)
		admin.GET("/change-requests", deps.AdminHandler.ListChangeRequests)
		admin.PUT("/change-requests/:id/approve", deps.AdminHandler.ApproveChangeRequest)
		admin.PUT("/change-requests/:id/reject", deps.AdminHandler.RejectChangeRequest)
		admin.GET("/pricing-policy", deps.AdminHandler.PricingPolicy)
		admin.PUT("/pricing-policy", deps.AdminHandler.UpdatePricingPolicy)
		admin.POST("/maintenance/start", deps.AdminHandler.StartMaintenance)
		admin.POST("/maintenance/stop", deps.AdminHandler.StopMaintenance)
	}

	return router
}
