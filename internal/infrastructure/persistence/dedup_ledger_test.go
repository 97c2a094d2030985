package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsync/backend/internal/domain/integration"
)

func TestGormDedupLedger_RecordOnce(t *testing.T) {
	ctx := context.Background()
	ledger := NewGormDedupLedger(setupIntegrationTestDB(t))

	rec := integration.DedupRecord{
		Marketplace: integration.MarketplaceShopify,
		EventID:     "evt-1",
		EventType:   "orders/create",
	}
	require.NoError(t, ledger.Record(ctx, rec))
	assert.ErrorIs(t, ledger.Record(ctx, rec), integration.ErrDuplicateEvent)

	// The same id from another marketplace is a different event
	rec.Marketplace = integration.MarketplaceSquare
	require.NoError(t, ledger.Record(ctx, rec))

	exists, err := ledger.Exists(ctx, integration.MarketplaceShopify, "evt-1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = ledger.Exists(ctx, integration.MarketplaceEtsy, "evt-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGormDedupLedger_ConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	ledger := NewGormDedupLedger(setupIntegrationTestDB(t))

	const deliveries = 16
	var (
		wg        sync.WaitGroup
		accepted  atomic.Int32
		duplicate atomic.Int32
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Record(ctx, integration.DedupRecord{
				Marketplace: integration.MarketplaceBigCommerce,
				EventID:     "store/order/created:42",
				EventType:   "store/order/created",
			})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, integration.ErrDuplicateEvent):
				duplicate.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(deliveries-1), duplicate.Load())
}

func TestGormDedupLedger_Release(t *testing.T) {
	ctx := context.Background()
	ledger := NewGormDedupLedger(setupIntegrationTestDB(t))

	rec := integration.DedupRecord{Marketplace: integration.MarketplaceWooCommerce, EventID: "d-7", EventType: "order.updated"}
	require.NoError(t, ledger.Record(ctx, rec))
	require.NoError(t, ledger.Release(ctx, rec.Marketplace, rec.EventID))

	// A redelivery after a transient failure can claim the event again
	require.NoError(t, ledger.Record(ctx, rec))
}

func TestGormDedupLedger_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	ledger := NewGormDedupLedger(setupIntegrationTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, ledger.Record(ctx, integration.DedupRecord{
		Marketplace: integration.MarketplaceEtsy, EventID: "old", EventType: "order.paid", ProcessedAt: now.Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, ledger.Record(ctx, integration.DedupRecord{
		Marketplace: integration.MarketplaceEtsy, EventID: "recent", EventType: "order.paid", ProcessedAt: now.Add(-time.Hour),
	}))

	purged, err := ledger.PurgeOlderThan(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	exists, err := ledger.Exists(ctx, integration.MarketplaceEtsy, "recent")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = ledger.Exists(ctx, integration.MarketplaceEtsy, "old")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGormDedupLedger_Record_Postgres(t *testing.T) {
	db, mock := openMock(t)
	ledger := NewGormDedupLedger(db.DB)

	rec := integration.DedupRecord{
		Marketplace: integration.MarketplaceShopify,
		EventID:     "webhook-id-1",
		EventType:   "orders/updated",
		ProcessedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO "webhook_dedup" .* ON CONFLICT \("marketplace","event_id"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, ledger.Record(context.Background(), rec))

	mock.ExpectExec(`INSERT INTO "webhook_dedup" .* ON CONFLICT \("marketplace","event_id"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, ledger.Record(context.Background(), rec), integration.ErrDuplicateEvent)

	assert.NoError(t, mock.ExpectationsWereMet())
}
