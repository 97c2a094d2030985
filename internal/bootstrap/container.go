// Package bootstrap wires configuration, storage, adapters and services into one graph
// shared by the HTTP server and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appintegration "github.com/marketsync/backend/internal/application/integration"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/cache"
	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/marketsync/backend/internal/infrastructure/crypto"
	"github.com/marketsync/backend/internal/infrastructure/ecommerce"
	"github.com/marketsync/backend/internal/infrastructure/logger"
	"github.com/marketsync/backend/internal/infrastructure/persistence"
	"github.com/marketsync/backend/internal/infrastructure/ratelimit"
	"github.com/marketsync/backend/internal/infrastructure/scheduler"
	"github.com/marketsync/backend/internal/infrastructure/storage"
	"github.com/marketsync/backend/internal/infrastructure/telemetry"
)

const meterName = "github.com/marketsync/backend"

// Container holds every long-lived dependency of the sync engine
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Providers
	DB        *persistence.Database
	// Redis is nil when Redis is unreachable and the in-memory fallbacks are in use
	Redis *redis.Client

	Registry       *integration.AdapterRegistry
	Connections    *persistence.GormConnectionRepository
	Credentials    *appintegration.CredentialStore
	ConnectionSvc  *appintegration.ConnectionService
	Pipeline       *appintegration.WebhookPipeline
	Reconciliation *appintegration.ReconciliationService
	Scheduler      *scheduler.ReconcileScheduler
	SourceLimiter  integration.RateLimiter
	Metrics        *telemetry.SyncMetrics

	closers []func(context.Context) error
}

// Option adjusts the container before it is built
type Option func(*options)

type options struct {
	cronEnabled *bool
	logger      *zap.Logger
}

// WithCron overrides sync.enabled. The CLI builds the scheduler without cron jobs.
func WithCron(enabled bool) Option {
	return func(o *options) {
		o.cronEnabled = &enabled
	}
}

// WithBaseLogger uses logger instead of one built from cfg.Log
func WithBaseLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New builds the container. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (c *Container, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
			c = nil
		}
	}()

	base := o.logger
	if base == nil {
		base, err = logger.New(&logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cfg.Log.Output,
			Fields: map[string]string{"service": cfg.Telemetry.ServiceName, "env": cfg.App.Env},
		})
		if err != nil {
			return c, fmt.Errorf("logger: %w", err)
		}
	}

	c.Telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, base)
	if err != nil {
		return c, fmt.Errorf("telemetry: %w", err)
	}
	c.closers = append(c.closers, c.Telemetry.Shutdown)

	// Tee application logs into the OTLP log pipeline when telemetry is on
	otelCore := c.Telemetry.ZapCore(cfg.Telemetry.ServiceName, zapcore.InfoLevel)
	c.Logger = base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, otelCore)
	}))
	c.Logger = c.Logger.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	if err = c.openStorage(ctx); err != nil {
		return c, err
	}
	if err = c.buildServices(ctx, o); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Container) openStorage(ctx context.Context) error {
	cfg := c.Config

	db, err := persistence.Open(ctx, &cfg.Database,
		persistence.WithZapLogger(c.Logger, logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh),
	)
	if err != nil {
		return err
	}
	c.DB = db
	c.closers = append(c.closers, db.Close)

	if err := c.Telemetry.InstrumentDB(db.DB); err != nil {
		return fmt.Errorf("database tracing: %w", err)
	}

	client, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		if cfg.App.Env == "production" {
			return err
		}
		c.Logger.Warn("Redis unavailable, continuing with per-instance state", zap.Error(err))
		return nil
	}
	c.Redis = client
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	return nil
}

func (c *Container) buildServices(ctx context.Context, o options) error {
	cfg := c.Config
	log := c.Logger

	registry, err := ecommerce.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("adapters: %w", err)
	}
	c.Registry = registry
	enabled := make([]string, 0)
	for _, m := range registry.Marketplaces() {
		enabled = append(enabled, m.String())
	}
	log.Info("Marketplace adapters registered", zap.Strings("marketplaces", enabled))

	cipher, err := crypto.NewTokenCipher(cfg.Security.MasterSecret, cfg.Security.PerMarketplaceKeys)
	if err != nil {
		return fmt.Errorf("token cipher: %w", err)
	}

	c.Metrics, err = telemetry.NewSyncMetrics(c.Telemetry.Meter(meterName))
	if err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}

	gdb := c.DB.DB
	c.Connections = persistence.NewGormConnectionRepository(gdb)
	ledger := persistence.NewGormDedupLedger(gdb)
	syncLogs := persistence.NewGormSyncLogRepository(gdb)
	orders := persistence.NewGormUnifiedOrderRepository(gdb)
	products := persistence.NewGormUnifiedProductRepository(gdb)

	c.Credentials = appintegration.NewCredentialStore(c.Connections, registry, cipher,
		appintegration.WithRefreshBuffer(cfg.Credentials.RefreshBuffer),
		appintegration.WithCredentialMetrics(c.Metrics),
		appintegration.WithCredentialLogger(log.Named("credentials")),
	)

	states, err := cache.NewStateStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithRedisClient(c.Redis),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore()
	if err != nil {
		return err
	}
	if closer, ok := states.(interface{ Close() error }); ok && c.Redis == nil {
		c.closers = append(c.closers, func(context.Context) error { return closer.Close() })
	}

	c.ConnectionSvc = appintegration.NewConnectionService(c.Connections, syncLogs, registry, c.Credentials, states,
		appintegration.ConnectionServiceConfig{
			Callbacks: cfg.Webhook,
			StateTTL:  cfg.Webhook.StateTTL,
			NewPKCE:   ecommerce.NewPKCEChallenge,
			Logger:    log.Named("connections"),
		})

	archive, err := storage.NewPayloadArchive(&cfg.Storage, log.Named("archive"))
	if err != nil {
		return fmt.Errorf("payload archive: %w", err)
	}

	c.SourceLimiter = ratelimit.NewWebhookSourceLimiter(cfg.Webhook, c.Redis, log)
	if closer, ok := c.SourceLimiter.(interface{ Close() error }); ok {
		c.closers = append(c.closers, func(context.Context) error { return closer.Close() })
	}

	normalize := integration.NormalizeOptions{HashCustomerEmail: cfg.Webhook.HashCustomerEmail}
	pipelineOpts := []appintegration.WebhookPipelineOption{
		appintegration.WithSourceLimiter(c.SourceLimiter),
		appintegration.WithPayloadArchive(archive),
		appintegration.WithNormalizeOptions(normalize),
		appintegration.WithPipelineMetrics(c.Metrics),
		appintegration.WithPipelineLogger(log.Named("webhooks")),
	}
	for _, m := range registry.Marketplaces() {
		adapter, err := registry.Get(m)
		if err != nil {
			return err
		}
		if adapter.Capabilities().SecretScope != integration.SecretScopeApp {
			continue
		}
		if mc, ok := cfg.Marketplace(string(m)); ok {
			pipelineOpts = append(pipelineOpts, appintegration.WithAppSecret(m, mc.WebhookSecret()))
		}
	}
	c.Pipeline = appintegration.NewWebhookPipeline(c.Connections, ledger, syncLogs, orders, products, registry, c.Credentials, pipelineOpts...)

	c.Reconciliation = appintegration.NewReconciliationService(c.Connections, ledger, syncLogs, orders, products,
		registry, c.Credentials, normalize, log.Named("reconcile"))

	schedCfg := schedulerConfig(cfg.Sync)
	if o.cronEnabled != nil {
		schedCfg.Enabled = *o.cronEnabled
	}
	c.Scheduler, err = scheduler.NewReconcileScheduler(schedCfg, c.Reconciliation, log.Named("scheduler"),
		scheduler.WithUnitMetrics(c.Metrics),
	)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	c.closers = append(c.closers, c.Scheduler.Stop)
	return nil
}

func schedulerConfig(s config.SyncConfig) scheduler.ReconcileSchedulerConfig {
	return scheduler.ReconcileSchedulerConfig{
		Enabled:            s.Enabled,
		ReconcileSchedule:  s.ReconcileSchedule,
		DedupPurgeSchedule: s.DedupPurgeSchedule,
		DedupRetention:     s.DedupRetention,
		BackstopInterval:   s.BackstopInterval,
		ShardCount:         s.ShardCount,
		SlotLength:         s.SlotLength,
		MaxPerRun:          s.MaxPerRun,
		TimeBudget:         s.TimeBudget,
		UnitTimeout:        s.UnitTimeout,
		Concurrency:        s.Concurrency,
	}
}

// HealthChecks returns the dependency probes reported by /health
func (c *Container) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": c.DB.Ping,
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases resources in reverse order of acquisition
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Logger != nil {
		_ = logger.Sync(c.Logger)
	}
	return errors.Join(errs...)
}
