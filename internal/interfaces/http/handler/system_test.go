package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marketsync/backend/internal/infrastructure/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweepReporter struct {
	report *scheduler.SweepReport
}

func (f fakeSweepReporter) LastReport() *scheduler.SweepReport { return f.report }

func newSystemRouter(h *SystemHandler) *gin.Engine {
	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/system/info", h.GetSystemInfo)
	router.GET("/system/ping", h.Ping)
	return router
}

type healthBody struct {
	Success bool           `json:"success"`
	Data    HealthResponse `json:"data"`
}

func TestNewSystemHandler(t *testing.T) {
	h := NewSystemHandler("1.2.3")
	assert.Equal(t, "1.2.3", h.version)
	assert.False(t, h.startTime.IsZero())
	assert.Empty(t, h.checks)
}

func TestSystemHandler_Health_OK(t *testing.T) {
	h := NewSystemHandler("dev",
		WithHealthCheck("database", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error { return nil }),
	)

	w := serve(newSystemRouter(h), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body healthBody
	decode(t, w, &body)
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, body.Data.Checks)
	assert.Nil(t, body.Data.LastSweep)
}

func TestSystemHandler_Health_Degraded(t *testing.T) {
	h := NewSystemHandler("dev",
		WithHealthCheck("database", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("dial tcp: connection refused") }),
	)

	w := serve(newSystemRouter(h), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body healthBody
	decode(t, w, &body)
	assert.Equal(t, "degraded", body.Data.Status)
	assert.Equal(t, "unavailable", body.Data.Checks["redis"])
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestSystemHandler_Health_ProbeHasDeadline(t *testing.T) {
	var hadDeadline bool
	h := NewSystemHandler("dev", WithHealthCheck("database", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}))

	serve(newSystemRouter(h), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, hadDeadline)
}

func TestSystemHandler_Health_LastSweep(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &scheduler.SweepReport{
		Slot:       4,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Selected:   12,
		Forced:     2,
		Completed:  10,
		Failed:     1,
		TimedOut:   1,
	}
	h := NewSystemHandler("dev", WithSweepReporter(fakeSweepReporter{report: report}))

	w := serve(newSystemRouter(h), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body healthBody
	decode(t, w, &body)
	require.NotNil(t, body.Data.LastSweep)
	assert.Equal(t, 4, body.Data.LastSweep.Slot)
	assert.Equal(t, 12, body.Data.LastSweep.Selected)
	assert.Equal(t, 1, body.Data.LastSweep.TimedOut)
	assert.True(t, started.Equal(body.Data.LastSweep.StartedAt))
}

func TestSystemHandler_Health_NoSweepYet(t *testing.T) {
	h := NewSystemHandler("dev", WithSweepReporter(fakeSweepReporter{}))

	w := serve(newSystemRouter(h), httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthBody
	decode(t, w, &body)
	assert.Nil(t, body.Data.LastSweep)
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	h := NewSystemHandler("1.0.0")

	w := serve(newSystemRouter(h), httptest.NewRequest(http.MethodGet, "/system/info", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data SystemInfoResponse `json:"data"`
	}
	decode(t, w, &body)
	assert.Equal(t, "MarketSync Backend", body.Data.Name)
	assert.Equal(t, "1.0.0", body.Data.Version)
	assert.Equal(t, runtime.Version(), body.Data.GoVersion)
}

func TestSystemHandler_Ping(t *testing.T) {
	h := NewSystemHandler("dev")

	w := serve(newSystemRouter(h), httptest.NewRequest(http.MethodGet, "/system/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data PingResponse `json:"data"`
	}
	decode(t, w, &body)
	assert.Equal(t, "pong", body.Data.Message)
	_, err := time.Parse(time.RFC3339, body.Data.Timestamp)
	assert.NoError(t, err)
}
