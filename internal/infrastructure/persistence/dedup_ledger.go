package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/persistence/models"
)

// GormDedupLedger implements integration.DedupLedger on the webhook_dedup table.
// The primary key (marketplace, event_id) is the arbiter: of two concurrent inserts exactly one
// affects a row.
type GormDedupLedger struct {
	db *gorm.DB
}

// NewGormDedupLedger creates a new GormDedupLedger
func NewGormDedupLedger(db *gorm.DB) *GormDedupLedger {
	return &GormDedupLedger{db: db}
}

// Record inserts the event id; integration.ErrDuplicateEvent means another delivery got there first
func (l *GormDedupLedger) Record(ctx context.Context, rec integration.DedupRecord) error {
	model := models.WebhookDedupModelFromDomain(&rec)
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "marketplace"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrDuplicateEvent
	}
	return nil
}

// Exists reports whether the event id was already recorded
func (l *GormDedupLedger) Exists(ctx context.Context, m integration.Marketplace, eventID string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).
		Model(&models.WebhookDedupModel{}).
		Where("marketplace = ? AND event_id = ?", m, eventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Release deletes a claim so a redelivery can process the event again
func (l *GormDedupLedger) Release(ctx context.Context, m integration.Marketplace, eventID string) error {
	return l.db.WithContext(ctx).
		Where("marketplace = ? AND event_id = ?", m, eventID).
		Delete(&models.WebhookDedupModel{}).Error
}

// PurgeOlderThan removes records processed before cutoff and returns how many were deleted
func (l *GormDedupLedger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("processed_at < ?", cutoff.UTC()).
		Delete(&models.WebhookDedupModel{})
	return result.RowsAffected, result.Error
}

var _ integration.DedupLedger = (*GormDedupLedger)(nil)
