package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	appintegration "github.com/marketsync/backend/internal/application/integration"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

const defaultMaxWebhookBody = 1 << 20

// WebhookIngester runs one delivery through the pipeline
type WebhookIngester interface {
	Ingest(ctx context.Context, d appintegration.WebhookDelivery) (*appintegration.WebhookResult, error)
}

var _ WebhookIngester = (*appintegration.WebhookPipeline)(nil)

// WebhookHandler receives marketplace webhooks.
// These endpoints are called by the providers and carry no bearer token; the pipeline verifies signatures.
type WebhookHandler struct {
	BaseHandler
	pipeline     WebhookIngester
	maxBodyBytes int64
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(pipeline WebhookIngester, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxWebhookBody
	}
	return &WebhookHandler{
		pipeline:     pipeline,
		maxBodyBytes: maxBodyBytes,
	}
}

// WebhookResponse is the acknowledgement body
type WebhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

// Receive handles POST /webhooks/:marketplace
func (h *WebhookHandler) Receive(c *gin.Context) {
	m, err := integration.ParseMarketplace(c.Param("marketplace"))
	if err != nil {
		c.JSON(http.StatusNotFound, WebhookResponse{Received: false})
		return
	}

	// Raw bytes are needed for signature verification
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodyBytes+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{Received: false})
			return
		}
		c.JSON(http.StatusBadRequest, WebhookResponse{Received: false})
		return
	}
	if int64(len(payload)) > h.maxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{Received: false})
		return
	}

	ctx := logger.WithSyncTarget(c.Request.Context(), m.String(), "")
	result, err := h.pipeline.Ingest(ctx, appintegration.WebhookDelivery{
		Marketplace: m,
		Headers:     c.Request.Header.Clone(),
		Body:        payload,
		ReceivedAt:  time.Now().UTC(),
	})
	status := result.StatusCode(err)
	if err != nil {
		log := logger.L(ctx)
		fields := []zap.Field{
			zap.String("outcome", string(result.Outcome)),
			zap.String("error_kind", integration.KindOf(err).String()),
			zap.Int("status", status),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("Webhook not acknowledged, provider will redeliver", append(fields, zap.Error(err))...)
		} else {
			log.Info("Webhook refused", fields...)
		}
	}

	c.JSON(status, WebhookResponse{
		Received: status < http.StatusMultipleChoices,
		EventID:  result.EventID,
		Outcome:  string(result.Outcome),
	})
}
