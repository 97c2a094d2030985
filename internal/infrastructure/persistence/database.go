package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marketsync/backend/internal/infrastructure/config"
	applogger "github.com/marketsync/backend/internal/infrastructure/logger"
	"github.com/marketsync/backend/internal/infrastructure/persistence/models"
)

// Database wraps the shared *gorm.DB handed to every repository
type Database struct {
	DB *gorm.DB
}

// Option configures Open
type Option func(*openOptions)

type openOptions struct {
	logger    gormlogger.Interface
	dialector gorm.Dialector
}

// WithZapLogger reports SQL through zap at level, flagging queries slower than slow
func WithZapLogger(l *zap.Logger, level gormlogger.LogLevel, slow time.Duration) Option {
	return func(o *openOptions) {
		o.logger = applogger.NewGormLogger(l, level, applogger.WithSlowThreshold(slow))
	}
}

// WithDialector replaces the postgres dialector built from the config
func WithDialector(d gorm.Dialector) Option {
	return func(o *openOptions) {
		o.dialector = d
	}
}

// Open connects, sizes the pool and pings within ctx
func Open(ctx context.Context, cfg *config.DatabaseConfig, opts ...Option) (*Database, error) {
	o := openOptions{logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialector == nil {
		o.dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(o.dialector, &gorm.Config{
		Logger:                 o.logger,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		DisableAutomaticPing:   true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	d := &Database{DB: db}
	if err := d.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return d, nil
}

// Ping checks the connection within ctx
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the pool. The context is accepted so Close fits shutdown hooks.
func (d *Database) Close(context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Stats returns a snapshot of the connection pool
func (d *Database) Stats() sql.DBStats {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return sql.DBStats{}
	}
	return sqlDB.Stats()
}

// InTx runs fn in a transaction bound to ctx. Provider calls must not happen inside fn.
func (d *Database) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

// AutoMigrate creates the sync tables from the GORM models. Production uses the
// SQL migrations; this serves SQLite tests and local experiments.
func (d *Database) AutoMigrate() error {
	return d.DB.AutoMigrate(models.All()...)
}
