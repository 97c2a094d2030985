package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marketsync/backend/internal/infrastructure/scheduler"
	"github.com/marketsync/backend/internal/interfaces/http/dto"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// SweepReporter exposes the outcome of the latest reconciliation sweep
type SweepReporter interface {
	LastReport() *scheduler.SweepReport
}

var _ SweepReporter = (*scheduler.ReconcileScheduler)(nil)

// SystemHandler serves health and build information
type SystemHandler struct {
	BaseHandler
	version   string
	startTime time.Time
	checks    map[string]HealthCheck
	sweeps    SweepReporter
}

// SystemHandlerOption configures a SystemHandler
type SystemHandlerOption func(*SystemHandler)

// WithHealthCheck adds a named dependency probe to /health
func WithHealthCheck(name string, check HealthCheck) SystemHandlerOption {
	return func(h *SystemHandler) {
		h.checks[name] = check
	}
}

// WithSweepReporter includes the last sweep summary in /health
func WithSweepReporter(r SweepReporter) SystemHandlerOption {
	return func(h *SystemHandler) {
		h.sweeps = r
	}
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(version string, opts ...SystemHandlerOption) *SystemHandler {
	h := &SystemHandler{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
	LastSweep *SweepSummary     `json:"last_sweep,omitempty"`
}

// SweepSummary is the latest reconciliation sweep
type SweepSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Slot       int       `json:"slot"`
	Selected   int       `json:"selected"`
	Forced     int       `json:"forced"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	TimedOut   int       `json:"timed_out"`
	Deferred   int       `json:"deferred"`
}

// Health handles GET /health. Any failing probe turns the response into 503.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if h.sweeps != nil {
		if r := h.sweeps.LastReport(); r != nil {
			snap := r.Snapshot()
			resp.LastSweep = &SweepSummary{
				StartedAt:  snap.StartedAt,
				FinishedAt: snap.FinishedAt,
				Slot:       snap.Slot,
				Selected:   snap.Selected,
				Forced:     snap.Forced,
				Completed:  snap.Completed,
				Failed:     snap.Failed,
				TimedOut:   snap.TimedOut,
				Deferred:   snap.Deferred,
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.NewSuccessResponse(resp))
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// GetSystemInfo handles GET /api/v1/system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      "MarketSync Backend",
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping handles GET /api/v1/system/ping
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
