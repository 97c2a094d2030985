package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SyncResult summarizes one reconciliation unit
type SyncResult struct {
	Orders         int
	Products       int
	Skipped        int
	FullPull       bool
	CursorAdvanced bool
}

// ReconciliationService pulls everything changed since a connection's cursor
// and stores it through the same normalizer the webhook pipeline uses.
type ReconciliationService struct {
	conns     integration.ConnectionRepository
	ledger    integration.DedupLedger
	syncLogs  integration.SyncLogRepository
	orders    integration.UnifiedOrderRepository
	products  integration.UnifiedProductRepository
	registry  *integration.AdapterRegistry
	creds     *CredentialStore
	normalize integration.NormalizeOptions
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewReconciliationService creates a ReconciliationService
func NewReconciliationService(
	conns integration.ConnectionRepository,
	ledger integration.DedupLedger,
	syncLogs integration.SyncLogRepository,
	orders integration.UnifiedOrderRepository,
	products integration.UnifiedProductRepository,
	registry *integration.AdapterRegistry,
	creds *CredentialStore,
	normalize integration.NormalizeOptions,
	logger *zap.Logger,
) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		conns:     conns,
		ledger:    ledger,
		syncLogs:  syncLogs,
		orders:    orders,
		products:  products,
		registry:  registry,
		creds:     creds,
		normalize: normalize,
		logger:    logger,
		tracer:    otel.Tracer(pipelineTracerName),
		now:       time.Now,
	}
}

// ListEligible returns connected records in sweep order: forced resyncs first, then oldest cursor
func (s *ReconciliationService) ListEligible(ctx context.Context) ([]integration.Connection, error) {
	return s.conns.ListConnected(ctx, integration.ConnectionFilter{Marketplaces: s.registry.Marketplaces()})
}

// Capabilities returns the adapter capabilities of a marketplace
func (s *ReconciliationService) Capabilities(m integration.Marketplace) (integration.AdapterCapabilities, bool) {
	adapter, err := s.registry.Get(m)
	if err != nil {
		return integration.AdapterCapabilities{}, false
	}
	return adapter.Capabilities(), true
}

// SyncByID reconciles one connection by id, used for manual runs
func (s *ReconciliationService) SyncByID(ctx context.Context, id uuid.UUID, trigger integration.SyncTrigger) (*SyncResult, error) {
	conn, err := s.conns.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SyncConnection(ctx, *conn, trigger)
}

// Reconcile runs one scheduled unit
func (s *ReconciliationService) Reconcile(ctx context.Context, conn integration.Connection) error {
	_, err := s.SyncConnection(ctx, conn, integration.SyncTriggerCron)
	return err
}

// SyncConnection pulls orders and products changed since the connection's cursor.
// The cursor moves to the run's start time with compare-and-set, so a resync requested
// while the unit was running is not overwritten.
func (s *ReconciliationService) SyncConnection(ctx context.Context, conn integration.Connection, trigger integration.SyncTrigger) (res *SyncResult, err error) {
	started := s.now().UTC()
	cursor := conn.LastSyncAt
	res = &SyncResult{FullPull: cursor == nil}

	ctx, span := s.tracer.Start(ctx, "reconcile.connection", trace.WithAttributes(
		attribute.String("marketplace", conn.Marketplace.String()),
		attribute.String("connection_id", conn.ID.String()),
		attribute.Bool("full_pull", res.FullPull),
	))
	log := s.logger.With(
		zap.String("marketplace", conn.Marketplace.String()),
		zap.String("connection_id", conn.ID.String()),
		zap.String("trigger", string(trigger)),
	)

	entry := integration.NewSyncLog(conn.ID, integration.EntityConnection, trigger)
	if cerr := s.syncLogs.Create(ctx, entry); cerr != nil {
		log.Warn("Failed to write sync log", zap.Error(cerr))
		entry = nil
	}

	defer func() {
		synced := res.Orders + res.Products
		if entry != nil {
			if err != nil {
				entry.Fail(synced, err)
			} else {
				entry.Complete(synced)
			}
			if uerr := s.syncLogs.Update(context.WithoutCancel(ctx), entry); uerr != nil {
				log.Warn("Failed to update sync log", zap.Error(uerr))
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("synced", synced))
		span.End()
	}()

	adapter, err := s.registry.Get(conn.Marketplace)
	if err != nil {
		return res, integration.NewSyncError(integration.KindUnknownTarget, "reconcile", err)
	}
	creds, err := s.creds.CredentialsFor(ctx, &conn)
	if err != nil {
		return res, err
	}

	rawOrders, err := adapter.ListOrders(ctx, *creds, cursor)
	if err != nil && !errors.Is(err, integration.ErrOperationNotSupported) {
		return res, err
	}
	for i := range rawOrders {
		order, nerr := integration.NormalizeOrder(conn.Marketplace, conn.ID, &rawOrders[i], s.normalize)
		if nerr != nil {
			res.Skipped++
			log.Warn("Skipping order that failed normalization", zap.String("external_id", rawOrders[i].ExternalID), zap.Error(nerr))
			continue
		}
		if err := s.orders.Upsert(ctx, order); err != nil {
			return res, integration.NewSyncError(integration.KindTransient, "store", err)
		}
		res.Orders++
	}

	rawProducts, err := adapter.ListProducts(ctx, *creds, cursor)
	if err != nil && !errors.Is(err, integration.ErrOperationNotSupported) {
		return res, err
	}
	for i := range rawProducts {
		product, nerr := integration.NormalizeProduct(conn.Marketplace, conn.ID, &rawProducts[i], s.normalize)
		if nerr != nil {
			res.Skipped++
			log.Warn("Skipping product that failed normalization", zap.String("external_id", rawProducts[i].ExternalID), zap.Error(nerr))
			continue
		}
		if err := s.products.Upsert(ctx, product); err != nil {
			return res, integration.NewSyncError(integration.KindTransient, "store", err)
		}
		res.Products++
	}

	advanced, err := s.conns.AdvanceLastSync(ctx, conn.ID, cursor, started)
	if err != nil {
		return res, integration.NewSyncError(integration.KindTransient, "advance", err)
	}
	res.CursorAdvanced = advanced
	if !advanced {
		log.Info("Sync cursor changed during the run, leaving it for the next sweep")
	}

	log.Info("Connection reconciled",
		zap.Int("orders", res.Orders),
		zap.Int("products", res.Products),
		zap.Int("skipped", res.Skipped),
		zap.Bool("full_pull", res.FullPull),
	)
	return res, nil
}

// PurgeDedup deletes dedup records older than retention
func (s *ReconciliationService) PurgeDedup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("reconcile: dedup retention must be positive")
	}
	cutoff := s.now().Add(-retention).UTC()
	n, err := s.ledger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Dedup ledger purged", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
