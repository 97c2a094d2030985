package telemetry

import (
	"context"
	"testing"

	"github.com/marketsync/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCompactQuery(t *testing.T) {
	q := "INSERT INTO unified_orders\n\t(id, marketplace)\n\tVALUES ($1, $2)\n ON CONFLICT DO NOTHING"
	assert.Equal(t, "INSERT INTO unified_orders (id, marketplace) VALUES ($1, $2) ON CONFLICT DO NOTHING", compactQuery(q))
}

func TestInstrumentDB_DisabledIsNoop(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false, DBTraceEnabled: true}, zap.New(core))
	require.NoError(t, err)

	// A nil *gorm.DB is never touched when tracing is off.
	require.NoError(t, p.InstrumentDB(nil))
	assert.Equal(t, 1, logs.FilterMessage("Database tracing disabled").Len())
}
