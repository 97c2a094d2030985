package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM's statement log into zap with the caller's
// correlation fields. Bind values are dropped unless explicitly enabled
// since connection rows hold encrypted tokens.
type GormLogger struct {
	zl            *zap.Logger
	level         gormlogger.LogLevel
	slow          time.Duration
	keepNotFound  bool
	logBindValues bool
}

type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a statement is logged as
// slow. Zero disables slow logging.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) { l.slow = threshold }
}

// WithIgnoreRecordNotFoundError controls whether lookups that find nothing
// are logged as errors. Ignored by default: a missing connection is an
// ordinary answer here.
func WithIgnoreRecordNotFoundError(ignore bool) GormLoggerOption {
	return func(l *GormLogger) { l.keepNotFound = !ignore }
}

// WithParameterizedQueries keeps bind values out of logged SQL when enabled.
func WithParameterizedQueries(enabled bool) GormLoggerOption {
	return func(l *GormLogger) { l.logBindValues = !enabled }
}

func NewGormLogger(zl *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		zl:    zl.Named("gorm").WithOptions(zap.AddCallerSkip(3)),
		level: level,
		slow:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

// ParamsFilter implements gormlogger.ParamsFilter.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, params ...any) (string, []any) {
	if !l.logBindValues {
		return sql, nil
	}
	return sql, params
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.with(ctx).Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.with(ctx).Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.with(ctx).Sugar().Errorf(msg, data...)
	}
}

func (l *GormLogger) with(ctx context.Context) *zap.Logger {
	if fields := CorrelationFrom(ctx).Fields(); len(fields) > 0 {
		return l.zl.With(fields...)
	}
	return l.zl
}

// Trace logs a finished statement: failures at error, slow statements at
// warn, everything else at debug when the level is Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && (l.keepNotFound || !errors.Is(err, gormlogger.ErrRecordNotFound))
	slow := l.slow > 0 && elapsed > l.slow

	var msg string
	var lvl = zap.DebugLevel
	switch {
	case failed && l.level >= gormlogger.Error:
		msg, lvl = "SQL Error", zap.ErrorLevel
	case slow && l.level >= gormlogger.Warn:
		msg, lvl = "SLOW SQL", zap.WarnLevel
	case err == nil && l.level >= gormlogger.Info:
		msg = "SQL Query"
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("op", statementVerb(sql)),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	if lvl == zap.WarnLevel {
		fields = append(fields, zap.Duration("threshold", l.slow))
	}
	if failed {
		fields = append(fields, zap.Error(err))
	}
	l.with(ctx).Log(lvl, msg, fields...)
}

// statementVerb returns the leading keyword of a statement, e.g. "INSERT".
func statementVerb(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \t\n("); i > 0 {
		sql = sql[:i]
	}
	return strings.ToUpper(sql)
}

// MapGormLogLevel maps the application log level to GORM's. Debug and info
// both enable statement logging; unknown names fall back to warn.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

var (
	_ gormlogger.Interface = (*GormLogger)(nil)
	_ gorm.ParamsFilter    = (*GormLogger)(nil)
)
