package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const pipelineTracerName = "github.com/marketsync/backend/internal/application/integration"

// WebhookDelivery is one inbound HTTP delivery, body unparsed
type WebhookDelivery struct {
	Marketplace integration.Marketplace
	Headers     http.Header
	Body        []byte
	ReceivedAt  time.Time
}

// WebhookOutcome labels how a delivery ended, for responses and metrics
type WebhookOutcome string

const (
	OutcomeProcessed   WebhookOutcome = "processed"
	OutcomeDuplicate   WebhookOutcome = "duplicate"
	OutcomeIgnored     WebhookOutcome = "ignored"
	OutcomeRejected    WebhookOutcome = "rejected"
	OutcomeMalformed   WebhookOutcome = "malformed"
	OutcomeRateLimited WebhookOutcome = "rate_limited"
	OutcomeFailed      WebhookOutcome = "failed"
)

// WebhookResult describes a finished delivery
type WebhookResult struct {
	Outcome      WebhookOutcome
	EventID      string
	ConnectionID uuid.UUID
	RetryPolicy  integration.RetryPolicy
}

// StatusCode maps the Ingest error to the HTTP response for this provider
func (r *WebhookResult) StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, integration.ErrSourceRateLimited) {
		return http.StatusTooManyRequests
	}
	return integration.KindOf(err).HTTPStatus(r.RetryPolicy)
}

// WebhookPipeline verifies, deduplicates and applies webhook deliveries.
// Nothing is parsed, logged as an attempt or written before the signature checks out.
type WebhookPipeline struct {
	conns      integration.ConnectionRepository
	ledger     integration.DedupLedger
	syncLogs   integration.SyncLogRepository
	orders     integration.UnifiedOrderRepository
	products   integration.UnifiedProductRepository
	registry   *integration.AdapterRegistry
	creds      *CredentialStore
	archive    integration.PayloadArchive
	limiter    integration.RateLimiter
	appSecrets map[integration.Marketplace]string
	normalize  integration.NormalizeOptions
	validate   *validator.Validate
	metrics    Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// WebhookPipelineOption configures a WebhookPipeline
type WebhookPipelineOption func(*WebhookPipeline)

// WithAppSecret sets the shared secret used by app-scoped providers
func WithAppSecret(m integration.Marketplace, secret string) WebhookPipelineOption {
	return func(p *WebhookPipeline) {
		p.appSecrets[m] = secret
	}
}

// WithSourceLimiter rate limits deliveries of providers with unsigned webhooks, per source
func WithSourceLimiter(l integration.RateLimiter) WebhookPipelineOption {
	return func(p *WebhookPipeline) {
		p.limiter = l
	}
}

// WithPayloadArchive keeps malformed and failed payloads for inspection
func WithPayloadArchive(a integration.PayloadArchive) WebhookPipelineOption {
	return func(p *WebhookPipeline) {
		p.archive = a
	}
}

// WithNormalizeOptions sets the retention policy applied to stored payloads
func WithNormalizeOptions(o integration.NormalizeOptions) WebhookPipelineOption {
	return func(p *WebhookPipeline) {
		p.normalize = o
	}
}

// WithPipelineMetrics records delivery outcomes
func WithPipelineMetrics(m Metrics) WebhookPipelineOption {
	return func(p *WebhookPipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithPipelineLogger sets the logger
func WithPipelineLogger(l *zap.Logger) WebhookPipelineOption {
	return func(p *WebhookPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewWebhookPipeline creates a WebhookPipeline
func NewWebhookPipeline(
	conns integration.ConnectionRepository,
	ledger integration.DedupLedger,
	syncLogs integration.SyncLogRepository,
	orders integration.UnifiedOrderRepository,
	products integration.UnifiedProductRepository,
	registry *integration.AdapterRegistry,
	creds *CredentialStore,
	opts ...WebhookPipelineOption,
) *WebhookPipeline {
	p := &WebhookPipeline{
		conns:      conns,
		ledger:     ledger,
		syncLogs:   syncLogs,
		orders:     orders,
		products:   products,
		registry:   registry,
		creds:      creds,
		appSecrets: make(map[integration.Marketplace]string),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    NopMetrics(),
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(pipelineTracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

// Ingest runs one delivery through verification, parsing, connection resolution,
// deduplication and handling. The returned result is never nil; map the error with StatusCode.
func (p *WebhookPipeline) Ingest(ctx context.Context, d WebhookDelivery) (result *WebhookResult, err error) {
	result = &WebhookResult{Outcome: OutcomeFailed}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = p.now()
	}

	ctx, span := p.tracer.Start(ctx, "webhook.ingest",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("marketplace", d.Marketplace.String())),
	)
	defer func() {
		span.SetAttributes(
			attribute.String("outcome", string(result.Outcome)),
			attribute.String("event_id", result.EventID),
		)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error_kind", integration.KindOf(err).String()))
			if result.StatusCode(err) >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		p.metrics.WebhookReceived(ctx, d.Marketplace, string(result.Outcome))
	}()

	adapter, err := p.registry.Get(d.Marketplace)
	if err != nil {
		result.Outcome = OutcomeIgnored
		return result, integration.NewSyncError(integration.KindUnknownTarget, "resolve", err)
	}
	caps := adapter.Capabilities()
	result.RetryPolicy = caps.RetryPolicy

	if ping, ok := adapter.(integration.PingDetector); ok && ping.IsPing(d.Headers, d.Body) {
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	// 1. Verify. Connection-scoped providers need the connection to find the secret.
	conn, err := p.verify(ctx, adapter, d, result)
	if err != nil || result.Outcome == OutcomeIgnored {
		return result, err
	}

	// 2. Parse
	ev, err := adapter.ParseWebhook(d.Headers, d.Body)
	if err != nil {
		if errors.Is(err, integration.ErrUnsupportedTopic) {
			result.Outcome = OutcomeIgnored
			return result, nil
		}
		result.Outcome = OutcomeMalformed
		p.archivePayload(ctx, d, integration.KindPermanentPayload, nil)
		p.writeSyncLog(ctx, conn, integration.EntityConnection, 0, err)
		return result, integration.NewSyncError(integration.KindPermanentPayload, "parse", err)
	}
	result.EventID = ev.EventID
	if err := p.validate.Struct(ev); err != nil {
		result.Outcome = OutcomeMalformed
		if ev.EventID != "" {
			if rerr := p.ledger.Record(ctx, p.dedupRecord(d.Marketplace, ev)); rerr != nil && !errors.Is(rerr, integration.ErrDuplicateEvent) {
				p.logger.Warn("Failed to record malformed event", zap.String("event_id", ev.EventID), zap.Error(rerr))
			}
		}
		p.archivePayload(ctx, d, integration.KindPermanentPayload, ev)
		p.writeSyncLog(ctx, conn, entityFor(ev.ResourceKind), 0, err)
		return result, integration.NewSyncError(integration.KindPermanentPayload, "validate",
			fmt.Errorf("%w: %v", integration.ErrMalformedPayload, err))
	}

	// 3. Resolve the connection for app-scoped providers
	if conn == nil {
		conn, err = p.conns.FindByExternalStore(ctx, d.Marketplace, ev.Source)
		if err != nil {
			if errors.Is(err, integration.ErrConnectionNotFound) {
				result.Outcome = OutcomeIgnored
				return result, integration.NewSyncError(integration.KindUnknownTarget, "resolve", err)
			}
			return result, integration.NewSyncError(integration.KindTransient, "resolve", err)
		}
		if !conn.IsConnected() {
			result.Outcome = OutcomeIgnored
			return result, nil
		}
	}
	result.ConnectionID = conn.ID
	span.SetAttributes(attribute.String("connection_id", conn.ID.String()))

	log := p.logger.With(
		zap.String("marketplace", d.Marketplace.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.String("event_id", ev.EventID),
		zap.String("topic", ev.Topic),
	)

	// 4. Deduplicate and handle
	rec := p.dedupRecord(d.Marketplace, ev)
	var count int
	switch caps.DedupPolicy {
	case integration.DedupBeforeHandling:
		if err := p.ledger.Record(ctx, rec); err != nil {
			if errors.Is(err, integration.ErrDuplicateEvent) {
				result.Outcome = OutcomeDuplicate
				return result, nil
			}
			return result, integration.NewSyncError(integration.KindTransient, "dedup", err)
		}
		count, err = p.handle(ctx, adapter, conn, ev)
		if err != nil {
			if integration.IsRetryable(err) {
				// Give the claim back so the redelivery is not mistaken for a duplicate
				if rerr := p.ledger.Release(context.WithoutCancel(ctx), d.Marketplace, ev.EventID); rerr != nil {
					log.Error("Failed to release dedup claim", zap.Error(rerr))
				}
			}
			return p.fail(ctx, log, d, conn, ev, count, err, result)
		}

	default:
		exists, err := p.ledger.Exists(ctx, d.Marketplace, ev.EventID)
		if err != nil {
			return result, integration.NewSyncError(integration.KindTransient, "dedup", err)
		}
		if exists {
			result.Outcome = OutcomeDuplicate
			return result, nil
		}
		count, err = p.handle(ctx, adapter, conn, ev)
		if err != nil {
			return p.fail(ctx, log, d, conn, ev, count, err, result)
		}
		// A concurrent delivery that recorded first handled the same state; both succeed
		if err := p.ledger.Record(ctx, rec); err != nil && !errors.Is(err, integration.ErrDuplicateEvent) {
			log.Warn("Failed to record handled event", zap.Error(err))
		}
	}

	p.writeSyncLog(ctx, conn, entityFor(ev.ResourceKind), count, nil)
	result.Outcome = OutcomeProcessed
	log.Debug("Webhook processed", zap.Int("synced", count))
	return result, nil
}

// verify checks the delivery signature. For connection-scoped providers it returns the connection
// whose secret verified the delivery; app-scoped providers return nil.
func (p *WebhookPipeline) verify(ctx context.Context, adapter integration.MarketplaceAdapter, d WebhookDelivery, result *WebhookResult) (*integration.Connection, error) {
	caps := adapter.Capabilities()

	if caps.SecretScope != integration.SecretScopeConnection {
		secret := p.appSecrets[d.Marketplace]
		if secret == "" {
			result.Outcome = OutcomeRejected
			return nil, integration.NewSyncError(integration.KindRejected, "verify", integration.ErrWebhookSecretMissing)
		}
		if !adapter.VerifyWebhookSignature(d.Body, d.Headers, secret) {
			result.Outcome = OutcomeRejected
			return nil, integration.NewSyncError(integration.KindRejected, "verify", integration.ErrInvalidSignature)
		}
		return nil, nil
	}

	source, err := adapter.IdentifySource(d.Headers, d.Body)
	if err != nil {
		result.Outcome = OutcomeRejected
		return nil, integration.NewSyncError(integration.KindRejected, "identify", err)
	}

	if caps.UnsignedWebhooks && p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, d.Marketplace.String()+":"+source)
		if err != nil {
			p.logger.Warn("Webhook rate limiter unavailable, admitting delivery", zap.Error(err))
		} else if !allowed {
			result.Outcome = OutcomeRateLimited
			return nil, integration.ErrSourceRateLimited
		}
	}

	conn, err := p.conns.FindByExternalStore(ctx, d.Marketplace, source)
	if err != nil {
		if errors.Is(err, integration.ErrConnectionNotFound) {
			result.Outcome = OutcomeIgnored
			return nil, integration.NewSyncError(integration.KindUnknownTarget, "resolve", err)
		}
		return nil, integration.NewSyncError(integration.KindTransient, "resolve", err)
	}
	if !conn.IsConnected() {
		result.Outcome = OutcomeIgnored
		return nil, nil
	}
	if conn.WebhookSecretEnc == nil {
		result.Outcome = OutcomeRejected
		return nil, integration.NewSyncError(integration.KindRejected, "verify", integration.ErrWebhookSecretMissing)
	}

	secret, err := p.creds.Decrypt(*conn.WebhookSecretEnc, d.Marketplace)
	if err != nil {
		p.logger.Error("Webhook secret unreadable",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if !adapter.VerifyWebhookSignature(d.Body, d.Headers, secret) {
		result.Outcome = OutcomeRejected
		return nil, integration.NewSyncError(integration.KindRejected, "verify", integration.ErrInvalidSignature)
	}
	return conn, nil
}

// handle fetches the authoritative state named by the event and stores it.
// It returns the number of records written.
func (p *WebhookPipeline) handle(ctx context.Context, adapter integration.MarketplaceAdapter, conn *integration.Connection, ev *integration.WebhookEvent) (int, error) {
	m := adapter.Marketplace()

	switch ev.ResourceKind {
	case integration.ResourceCatalog:
		// No item detail: the next sweep does a full pull for this connection
		return 0, p.conns.ResetLastSync(ctx, conn.ID)

	case integration.ResourceUninstall:
		if err := p.conns.Disconnect(ctx, conn.ID); err != nil && !errors.Is(err, integration.ErrConnectionNotFound) {
			return 0, err
		}
		p.logger.Info("Store uninstalled the app, connection disconnected",
			zap.String("marketplace", m.String()),
			zap.String("connection_id", conn.ID.String()),
		)
		return 0, nil

	case integration.ResourceOrder, integration.ResourceProduct:
		if ev.ResourceID == "" {
			return 0, integration.NewSyncError(integration.KindPermanentPayload, "handle",
				fmt.Errorf("%w: %s event without resource id", integration.ErrMalformedPayload, ev.Topic))
		}

	default:
		return 0, integration.NewSyncError(integration.KindPermanentPayload, "handle", integration.ErrUnsupportedTopic)
	}

	creds, err := p.creds.CredentialsFor(ctx, conn)
	if err != nil {
		return 0, err
	}

	if ev.ResourceKind == integration.ResourceOrder {
		raw, err := adapter.FetchOrder(ctx, *creds, ev.ResourceID)
		if err != nil {
			return 0, err
		}
		order, err := integration.NormalizeOrder(m, conn.ID, raw, p.normalize)
		if err != nil {
			return 0, integration.NewSyncError(integration.KindPermanentPayload, "normalize", err)
		}
		if err := p.orders.Upsert(ctx, order); err != nil {
			return 0, integration.NewSyncError(integration.KindTransient, "store", err)
		}
		return 1, nil
	}

	raw, err := adapter.FetchProduct(ctx, *creds, ev.ResourceID)
	if err != nil {
		return 0, err
	}
	product, err := integration.NormalizeProduct(m, conn.ID, raw, p.normalize)
	if err != nil {
		return 0, integration.NewSyncError(integration.KindPermanentPayload, "normalize", err)
	}
	if err := p.products.Upsert(ctx, product); err != nil {
		return 0, integration.NewSyncError(integration.KindTransient, "store", err)
	}
	return 1, nil
}

func (p *WebhookPipeline) fail(
	ctx context.Context,
	log *zap.Logger,
	d WebhookDelivery,
	conn *integration.Connection,
	ev *integration.WebhookEvent,
	count int,
	err error,
	result *WebhookResult,
) (*WebhookResult, error) {
	kind := integration.KindOf(err)
	result.Outcome = OutcomeFailed
	p.writeSyncLog(ctx, conn, entityFor(ev.ResourceKind), count, err)

	if kind.Retryable() {
		log.Warn("Webhook handling failed, awaiting redelivery or sweep", zap.Error(err))
	} else {
		log.Error("Webhook handling failed permanently",
			zap.String("error_kind", kind.String()),
			zap.Error(err),
		)
		p.archivePayload(ctx, d, kind, ev)
	}
	return result, err
}

func (p *WebhookPipeline) dedupRecord(m integration.Marketplace, ev *integration.WebhookEvent) integration.DedupRecord {
	return integration.DedupRecord{
		Marketplace: m,
		EventID:     ev.EventID,
		EventType:   ev.Topic,
		ProcessedAt: p.now().UTC(),
	}
}

// writeSyncLog records one attempt. SyncLog rows are observability only; failures are logged and dropped.
func (p *WebhookPipeline) writeSyncLog(ctx context.Context, conn *integration.Connection, kind integration.EntityKind, count int, err error) {
	if conn == nil {
		return
	}
	entry := integration.NewSyncLog(conn.ID, kind, integration.SyncTriggerWebhook)
	if err != nil {
		entry.Fail(count, err)
	} else {
		entry.Complete(count)
	}
	if werr := p.syncLogs.Create(context.WithoutCancel(ctx), entry); werr != nil {
		p.logger.Warn("Failed to write sync log", zap.String("connection_id", conn.ID.String()), zap.Error(werr))
	}
}

func (p *WebhookPipeline) archivePayload(ctx context.Context, d WebhookDelivery, reason integration.ErrorKind, ev *integration.WebhookEvent) {
	if p.archive == nil {
		return
	}
	payload := integration.ArchivedPayload{
		Marketplace: d.Marketplace,
		Reason:      reason,
		Headers:     d.Headers,
		Body:        d.Body,
		ReceivedAt:  d.ReceivedAt,
	}
	if ev != nil {
		payload.Topic = ev.Topic
		payload.EventID = ev.EventID
	}

	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	key, err := p.archive.Archive(archiveCtx, payload)
	if err != nil {
		p.logger.Warn("Failed to archive webhook payload", zap.String("marketplace", d.Marketplace.String()), zap.Error(err))
		return
	}
	if key != "" {
		p.logger.Info("Webhook payload archived", zap.String("marketplace", d.Marketplace.String()), zap.String("key", key))
	}
}

func entityFor(kind integration.WebhookResourceKind) integration.EntityKind {
	switch kind {
	case integration.ResourceOrder:
		return integration.EntityOrder
	case integration.ResourceProduct:
		return integration.EntityProduct
	case integration.ResourceCatalog:
		return integration.EntityCatalog
	default:
		return integration.EntityConnection
	}
}
