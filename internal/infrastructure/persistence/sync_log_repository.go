package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/persistence/models"
)

// defaultSyncLogLimit caps FindByConnection when the caller passes no limit
const defaultSyncLogLimit = 50

// GormSyncLogRepository implements integration.SyncLogRepository using GORM
type GormSyncLogRepository struct {
	db *gorm.DB
}

// NewGormSyncLogRepository creates a new GormSyncLogRepository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

// Create inserts a started attempt and assigns its ID
func (r *GormSyncLogRepository) Create(ctx context.Context, log *integration.SyncLog) error {
	model := models.SyncLogModelFromDomain(log)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	log.ID = model.ID
	return nil
}

// Update records the outcome of an attempt
func (r *GormSyncLogRepository) Update(ctx context.Context, log *integration.SyncLog) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncLogModel{}).
		Where("id = ?", log.ID).
		Updates(map[string]any{
			"status":       log.Status,
			"synced_count": log.SyncedCount,
			"error_kind":   log.ErrorKind,
			"error_text":   log.ErrorText,
			"finished_at":  log.FinishedAt,
		}).Error
}

// FindByConnection lists the newest attempts for a connection
func (r *GormSyncLogRepository) FindByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]integration.SyncLog, error) {
	if limit <= 0 {
		limit = defaultSyncLogLimit
	}

	var rows []models.SyncLogModel
	if err := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	logs := make([]integration.SyncLog, len(rows))
	for i := range rows {
		logs[i] = *rows[i].ToDomain()
	}
	return logs, nil
}

var _ integration.SyncLogRepository = (*GormSyncLogRepository)(nil)
