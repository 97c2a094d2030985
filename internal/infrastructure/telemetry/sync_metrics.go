package telemetry

import (
	"context"
	"fmt"

	"github.com/marketsync/backend/internal/domain/integration"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics holds the pipeline and scheduler counters
type SyncMetrics struct {
	webhooksReceived metric.Int64Counter
	syncUnits        metric.Int64Counter
	tokenRefreshes   metric.Int64Counter
}

// NewSyncMetrics registers the counters on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	webhooks, err := meter.Int64Counter("webhooks_received_total",
		metric.WithDescription("Webhook deliveries by marketplace and outcome"),
		metric.WithUnit("{deliveries}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter webhooks_received_total: %w", err)
	}

	units, err := meter.Int64Counter("sync_units_total",
		metric.WithDescription("Reconciliation units by final status"),
		metric.WithUnit("{units}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter sync_units_total: %w", err)
	}

	refreshes, err := meter.Int64Counter("token_refreshes_total",
		metric.WithDescription("Upstream token refreshes by marketplace and result"),
		metric.WithUnit("{refreshes}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter token_refreshes_total: %w", err)
	}

	return &SyncMetrics{
		webhooksReceived: webhooks,
		syncUnits:        units,
		tokenRefreshes:   refreshes,
	}, nil
}

// WebhookReceived counts one delivery
func (m *SyncMetrics) WebhookReceived(ctx context.Context, marketplace integration.Marketplace, outcome string) {
	m.webhooksReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("marketplace", marketplace.String()),
		attribute.String("outcome", outcome),
	))
}

// SyncUnit counts one reconciliation unit
func (m *SyncMetrics) SyncUnit(ctx context.Context, status string) {
	m.syncUnits.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// TokenRefresh counts one upstream refresh attempt
func (m *SyncMetrics) TokenRefresh(ctx context.Context, marketplace integration.Marketplace, result string) {
	m.tokenRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("marketplace", marketplace.String()),
		attribute.String("result", result),
	))
}
