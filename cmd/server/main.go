package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketsync/backend/internal/bootstrap"
	"github.com/marketsync/backend/internal/infrastructure/auth"
	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/marketsync/backend/internal/infrastructure/logger"
	"github.com/marketsync/backend/internal/infrastructure/ratelimit"
	"github.com/marketsync/backend/internal/interfaces/http/handler"
	"github.com/marketsync/backend/internal/interfaces/http/middleware"
	"github.com/marketsync/backend/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()
	c, err := bootstrap.New(ctx, cfg)
	if err != nil {
		panic("Failed to initialize: " + err.Error())
	}
	log := c.Logger

	log.Info("Starting MarketSync backend",
		zap.String("version", version),
		zap.String("port", cfg.App.Port),
		zap.Bool("telemetry", c.Telemetry.Enabled()),
		zap.Bool("redis", c.Redis != nil),
	)

	engine, err := newEngine(cfg, c)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// Stops the scheduler (in-flight units finish), then Redis, the database and telemetry
	if err := c.Close(shutdownCtx); err != nil {
		log.Error("Error releasing resources", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func newEngine(cfg *config.Config, c *bootstrap.Container) (*gin.Engine, error) {
	log := c.Logger

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	httpMetrics, err := middleware.HTTPMetricsWithMeter(c.Telemetry.Meter("github.com/marketsync/backend/http"), c.Telemetry.Enabled())
	if err != nil {
		return nil, err
	}

	secureCfg := middleware.DefaultSecurityConfig()
	secureCfg.HSTS = cfg.App.Env == "production"

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins

	engine.Use(
		middleware.RequestID(),
		middleware.Tracing(cfg.Telemetry.ServiceName,
			middleware.WithTracingDisabled(!c.Telemetry.Enabled()),
			middleware.WithUntracedPaths("/health", "/api/v1/health"),
		),
		logger.GinMiddleware(log, logger.WithQuietPaths("/health", "/api/v1/health")),
		logger.Recovery(log),
		middleware.SpanStatus(),
		httpMetrics,
		middleware.SecureWithConfig(secureCfg),
		middleware.CORSWithConfig(corsCfg),
	)

	// Handlers
	systemOpts := []handler.SystemHandlerOption{handler.WithSweepReporter(c.Scheduler)}
	for name, check := range c.HealthChecks() {
		systemOpts = append(systemOpts, handler.WithHealthCheck(name, check))
	}
	systemHandler := handler.NewSystemHandler(version, systemOpts...)
	webhookHandler := handler.NewWebhookHandler(c.Pipeline, cfg.Webhook.MaxBodyBytes)
	connectionHandler := handler.NewConnectionHandler(c.ConnectionSvc)
	callbackHandler := handler.NewOAuthCallbackHandler(c.ConnectionSvc)

	// Authenticated API middleware
	jwtCfg := middleware.DefaultJWTConfig(auth.NewJWTVerifier(cfg.JWT))
	jwtCfg.Logger = log
	apiMiddleware := []gin.HandlerFunc{
		middleware.JWTAuthMiddlewareWithConfig(jwtCfg),
		middleware.SpanAttributes(),
		middleware.Timeout(cfg.HTTP.WriteTimeout),
	}
	if cfg.HTTP.RateLimitEnabled {
		apiLimiter := ratelimit.NewMemoryLimiter(cfg.HTTP.RateLimitRequests)
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(apiLimiter, log))
	}

	r := router.NewRouter(engine, router.WithAPIMiddleware(apiMiddleware...))
	r.RegisterPublic(router.HealthRoutes(systemHandler)).
		RegisterPublic(router.WebhookRoutes(webhookHandler,
			middleware.SpanAttributes(),
			middleware.BodyLimit(cfg.Webhook.MaxBodyBytes, middleware.WithRejectBody(handler.WebhookResponse{Received: false})),
		)).
		RegisterPublic(router.OAuthRoutes(callbackHandler)).
		Register(router.HealthRoutes(systemHandler)).
		Register(router.SystemRoutes(systemHandler)).
		Register(router.ConnectionRoutes(connectionHandler))
	for _, rt := range r.Setup() {
		log.Debug("Route mounted",
			zap.String("group", rt.Group),
			zap.String("method", rt.Method),
			zap.String("path", rt.Path),
			zap.Bool("public", rt.Public),
		)
	}

	return engine, nil
}
