package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(level zapcore.Level, gormLevel gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(level)
	return NewGormLogger(zap.New(core), gormLevel, opts...), recorded
}

func fieldValue(entry observer.LoggedEntry, key string) (string, bool) {
	for _, f := range entry.Context {
		if f.Key == key {
			return f.String, true
		}
	}
	return "", false
}

func TestGormLogger_LogModeCopies(t *testing.T) {
	gl, _ := newObservedGormLogger(zapcore.InfoLevel, gormlogger.Info)
	derived, ok := gl.LogMode(gormlogger.Error).(*GormLogger)
	require.True(t, ok)

	assert.Equal(t, gormlogger.Info, gl.level)
	assert.Equal(t, gormlogger.Error, derived.level)
}

func TestGormLogger_LevelGating(t *testing.T) {
	gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Warn)
	gl.Info(context.Background(), "migrating %s", "unified_orders")
	gl.Warn(context.Background(), "slow pool %d", 3)
	gl.Error(context.Background(), "broken")

	logs := recorded.All()
	require.Len(t, logs, 2)
	assert.Equal(t, "slow pool 3", logs[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, logs[1].Level)
}

func TestGormLogger_Trace(t *testing.T) {
	query := func() (string, int64) { return "SELECT * FROM marketplace_connections", 1 }

	t.Run("errors are logged", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Error)
		gl.Trace(context.Background(), time.Now(), query, errors.New("conn reset"))

		logs := recorded.FilterMessage("SQL Error").All()
		require.Len(t, logs, 1)
	})

	t.Run("record not found is ignored by default", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Error)
		gl.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
		assert.Zero(t, recorded.Len())
	})

	t.Run("slow queries warn", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Warn, WithSlowThreshold(time.Millisecond))
		gl.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Equal(t, "SLOW SQL", logs[0].Message)
		assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	})

	t.Run("record not found can be kept", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Error, WithIgnoreRecordNotFoundError(false))
		gl.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
		assert.Equal(t, 1, recorded.FilterMessage("SQL Error").Len())
	})

	t.Run("fast queries below info are dropped", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Warn)
		gl.Trace(context.Background(), time.Now(), query, nil)
		assert.Zero(t, recorded.Len())
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Silent)
		gl.Trace(context.Background(), time.Now(), query, errors.New("ignored"))
		assert.Zero(t, recorded.Len())
	})

	t.Run("carries connection and request ids", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(zapcore.DebugLevel, gormlogger.Info)
		ctx := WithSyncTarget(context.Background(), "ETSY", "conn-1")
		ctx = WithRequestID(ctx, "req-9")
		gl.Trace(ctx, time.Now(), query, nil)

		logs := recorded.All()
		require.Len(t, logs, 1)
		v, ok := fieldValue(logs[0], "op")
		require.True(t, ok)
		assert.Equal(t, "SELECT", v)
		v, ok = fieldValue(logs[0], "connection_id")
		require.True(t, ok)
		assert.Equal(t, "conn-1", v)
		v, ok = fieldValue(logs[0], "request_id")
		require.True(t, ok)
		assert.Equal(t, "req-9", v)
	})
}

func TestGormLogger_ParamsFilter(t *testing.T) {
	gl, _ := newObservedGormLogger(zapcore.InfoLevel, gormlogger.Info)
	sql, params := gl.ParamsFilter(context.Background(), "UPDATE t SET access_token_enc = ?", "v1:secret")
	assert.Equal(t, "UPDATE t SET access_token_enc = ?", sql)
	assert.Nil(t, params)

	verbose, _ := newObservedGormLogger(zapcore.InfoLevel, gormlogger.Info, WithParameterizedQueries(false))
	_, params = verbose.ParamsFilter(context.Background(), "SELECT ?", 1)
	assert.Equal(t, []any{1}, params)
}

func TestStatementVerb(t *testing.T) {
	assert.Equal(t, "INSERT", statementVerb("  insert INTO unified_orders (id) VALUES ($1)"))
	assert.Equal(t, "WITH", statementVerb("WITH(x) SELECT 1"))
	assert.Equal(t, "", statementVerb(""))
}

func TestMapGormLogLevel(t *testing.T) {
	cases := map[string]gormlogger.LogLevel{
		"silent":  gormlogger.Silent,
		"error":   gormlogger.Error,
		"WARN":    gormlogger.Warn,
		"info":    gormlogger.Info,
		"debug":   gormlogger.Info,
		"verbose": gormlogger.Warn,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapGormLogLevel(in), in)
	}
}
