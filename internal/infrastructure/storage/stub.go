package storage

import (
	"context"

	"github.com/marketsync/backend/internal/domain/integration"
	infraconfig "github.com/marketsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NoopPayloadArchive is used when storage is disabled.
// It logs the drop at debug level and reports an empty key.
type NoopPayloadArchive struct {
	logger *zap.Logger
}

// NewNoopPayloadArchive creates a NoopPayloadArchive
func NewNoopPayloadArchive(logger *zap.Logger) *NoopPayloadArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopPayloadArchive{logger: logger}
}

// Ensure NoopPayloadArchive implements PayloadArchive
var _ integration.PayloadArchive = (*NoopPayloadArchive)(nil)

// Archive discards the payload
func (s *NoopPayloadArchive) Archive(_ context.Context, p integration.ArchivedPayload) (string, error) {
	s.logger.Debug("Payload archive disabled, dropping payload",
		zap.String("marketplace", p.Marketplace.String()),
		zap.String("reason", p.Reason.String()),
		zap.Int("size", len(p.Body)),
	)
	return "", nil
}

// NewPayloadArchive picks the S3 archive when storage is enabled and the no-op one otherwise
func NewPayloadArchive(cfg *infraconfig.StorageConfig, logger *zap.Logger) (integration.PayloadArchive, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNoopPayloadArchive(logger), nil
	}
	return NewS3PayloadArchive(cfg, WithLogger(logger))
}
