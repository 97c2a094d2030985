package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/marketsync/backend/internal/infrastructure/config"
)

func TestSchedulerConfig(t *testing.T) {
	in := config.SyncConfig{
		Enabled:            true,
		ReconcileSchedule:  "*/5 * * * *",
		DedupPurgeSchedule: "0 3 * * *",
		DedupRetention:     72 * time.Hour,
		BackstopInterval:   24 * time.Hour,
		ShardCount:         12,
		SlotLength:         5 * time.Minute,
		MaxPerRun:          50,
		TimeBudget:         4 * time.Minute,
		UnitTimeout:        90 * time.Second,
		Concurrency:        4,
	}

	out := schedulerConfig(in)

	assert.True(t, out.Enabled)
	assert.Equal(t, in.ReconcileSchedule, out.ReconcileSchedule)
	assert.Equal(t, in.DedupPurgeSchedule, out.DedupPurgeSchedule)
	assert.Equal(t, in.DedupRetention, out.DedupRetention)
	assert.Equal(t, in.BackstopInterval, out.BackstopInterval)
	assert.Equal(t, 12, out.ShardCount)
	assert.Equal(t, in.SlotLength, out.SlotLength)
	assert.Equal(t, 50, out.MaxPerRun)
	assert.Equal(t, in.TimeBudget, out.TimeBudget)
	assert.Equal(t, in.UnitTimeout, out.UnitTimeout)
	assert.Equal(t, 4, out.Concurrency)
}

func TestOptions(t *testing.T) {
	var o options
	WithCron(false)(&o)
	require.NotNil(t, o.cronEnabled)
	assert.False(t, *o.cronEnabled)

	l := zaptest.NewLogger(t)
	WithBaseLogger(l)(&o)
	assert.Same(t, l, o.logger)
}

func TestContainer_CloseRunsClosersInReverse(t *testing.T) {
	var order []int
	c := &Container{Logger: zap.NewNop()}
	for i := 0; i < 3; i++ {
		i := i
		c.closers = append(c.closers, func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestContainer_CloseJoinsErrors(t *testing.T) {
	c := &Container{Logger: zap.NewNop()}
	c.closers = append(c.closers,
		func(context.Context) error { return assert.AnError },
		func(context.Context) error { return context.Canceled },
	)

	err := c.Close(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, context.Canceled)
}
