package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roadside/internal/app"
	"roadside/internal/auth"
	"roadside/internal/config"
	"roadside/internal/handler"
	"roadside/internal/middleware"
	"roadside/internal/realtime"
	internalRedis "roadside/internal/redis"
	"roadside/internal/repository"
	"roadside/internal/repository/memory"
	"roadside/internal/repository/postgres"
	"roadside/internal/service"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	connectLimit    = 20
	connectWindow   = time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
			nrApp = nil
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	store, db, err := openStore(ctx, cfg, nrApp)
	if err != nil {
		logger.Error("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		return 1
	}
	if db != nil {
		defer db.Close()
	}
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			logger.Error("failed to connect to redis", zap.Error(err))
			return 1
		}
		defer redisClient.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := wire(runCtx, cfg, logger, store, redisClient, nrApp)
	if err != nil {
		logger.Error("failed to wire server", zap.Error(err))
		return 1
	}

	hubErr := make(chan error, 1)
	go func() { hubErr <- w.hub.Run(runCtx) }()

	monitor := app.NewStoreMonitor(logger, store.Ping, cfg.Store.HealthInterval, cfg.Store.GracePeriod)
	monitorErr := make(chan error, 1)
	go func() { monitorErr <- monitor.Run(runCtx) }()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	code := 0
	select {
	case <-runCtx.Done():
		logger.Info("shutting down server")
	case err := <-monitorErr:
		if err != nil {
			logger.Error("store health grace period exceeded", zap.Error(err))
			code = 1
		}
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		code = 1
	case err := <-hubErr:
		if err != nil {
			logger.Error("realtime bus stopped", zap.Error(err))
			code = 1
		}
	}
	stop()

	w.hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := w.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		code = 1
	}

	logger.Info("server exited", zap.Int("code", code))
	return code
}

// openStore opens the configured persistence backend. db is nil for the
// in-memory store.
func openStore(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application) (*repository.Store, *sql.DB, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		return memory.NewStore(), nil, nil
	case config.StoreDriverPostgres:
		db, err := app.NewDatabase(ctx, cfg.Store, nrApp)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate: %w", err)
		}
		return postgres.NewStore(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

type wired struct {
	hub    *realtime.Hub
	server *http.Server
}

// redisDeps holds the optional Redis-backed collaborators. Fields stay nil
// interfaces when Redis is disabled.
type redisDeps struct {
	geoIndex    internalRedis.GeoIndexInterface
	cacheStore  internalRedis.CacheStoreInterface
	lockStore   internalRedis.LockStoreInterface
	responses   middleware.ResponseCache
	connLimiter realtime.ConnLimiter
	bus         realtime.Bus
}

func newRedisDeps(client *redis.Client, cfg *config.Config) redisDeps {
	var d redisDeps
	if client == nil {
		return d
	}
	d.geoIndex = internalRedis.NewGeoIndex(client)
	d.cacheStore = internalRedis.NewCacheStore(client)
	d.lockStore = internalRedis.NewLockStore(client)
	d.responses = internalRedis.NewResponseStore(client)
	d.connLimiter = internalRedis.NewWindowLimiter(client, internalRedis.ConnectLimitPrefix, connectLimit, connectWindow)
	if cfg.Realtime.BusEnabled {
		d.bus = internalRedis.NewBus(client)
	}
	return d
}

// wire wires all dependencies and returns the hub and HTTP server.
func wire(ctx context.Context, cfg *config.Config, logger *zap.Logger, store *repository.Store, redisClient *redis.Client, nrApp *newrelic.Application) (*wired, error) {
	rd := newRedisDeps(redisClient, cfg)

	hub := realtime.NewHub(logger, rd.bus)

	// Initialize services.
	geo := service.NewGeoService(logger, store.Mechanics, store.Requests, rd.geoIndex, rd.cacheStore)
	pricing := service.NewPricingService(logger, store.Pricing)
	chat := service.NewChatService(logger, store.Chats, store.Requests, store.Mechanics, hub, cfg.ChatDeleteOnComplete)
	lifecycle := service.NewLifecycleService(logger, store.Requests, store.Mechanics, geo, chat, rd.lockStore, hub)
	dispatch := service.NewDispatchService(logger, store.Requests, store.Mechanics, geo, pricing, hub)
	payments := service.NewPaymentService(logger, store.Payments, store.Requests, lifecycle, hub)
	mechanics := service.NewMechanicService(logger, store.Mechanics, store.Requests, store.ChangeRequests, geo, pricing)
	moderation := service.NewModerationService(logger, store.ChangeRequests, mechanics)
	maintenance := service.NewMaintenanceService(logger, store.Settings, hub)
	tracking := service.NewTrackingService(logger, store.Requests, store.Mechanics, geo, hub)

	if err := maintenance.Seed(ctx, cfg.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to seed maintenance flag: %w", err)
	}
	if err := geo.Reindex(ctx); err != nil {
		logger.Warn("geo reindex failed; searches fall back to the store", zap.Error(err))
	}

	authenticator := auth.NewAuthenticator(auth.NewVerifier(cfg.Auth.JWTSecret), store.Users)

	ws := realtime.NewServer(realtime.ServerDeps{
		Hub:         hub,
		Logger:      logger,
		Auth:        authenticator,
		Rooms:       lifecycle,
		Chat:        chat,
		Tracking:    tracking,
		Maintenance: maintenance,
		Limiter:     rd.connLimiter,
		Origins:     cfg.Server.ClientOrigins,
	})

	router := app.NewRouter(app.RouterDeps{
		RequestHandler:  handler.NewRequestHandler(dispatch, lifecycle, chat, payments),
		MechanicHandler: handler.NewMechanicHandler(mechanics, dispatch, geo),
		PaymentHandler:  handler.NewPaymentHandler(payments),
		AdminHandler:    handler.NewAdminHandler(mechanics, moderation, pricing, maintenance),
		StatusHandler:   handler.NewStatusHandler(store.Ping, maintenance, hub),
		Realtime:        ws,
		Auth:            authenticator,
		Maintenance:     maintenance,
		Responses:       rd.responses,
		Logger:          logger,
		NewRelicApp:     nrApp,
		ClientOrigins:   cfg.Server.ClientOrigins,
		RequestTimeout:  cfg.Server.RequestTimeout,
	})

	return &wired{
		hub: hub,
		server: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}
