package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/persistence/models"
)

// GormUnifiedOrderRepository implements integration.UnifiedOrderRepository using GORM
type GormUnifiedOrderRepository struct {
	db *gorm.DB
}

// NewGormUnifiedOrderRepository creates a new GormUnifiedOrderRepository
func NewGormUnifiedOrderRepository(db *gorm.DB) *GormUnifiedOrderRepository {
	return &GormUnifiedOrderRepository{db: db}
}

// Upsert writes the order keyed by (connection_id, external_order_id) and replaces its item set.
// Header and items change together or not at all.
func (r *GormUnifiedOrderRepository) Upsert(ctx context.Context, order *integration.UnifiedOrder) error {
	if err := order.Validate(); err != nil {
		return err
	}
	model := models.UnifiedOrderModelFromDomain(order)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "connection_id"}, {Name: "external_order_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"status", "provider_status_code", "currency", "total_amount", "item_count",
					"customer_name", "customer_identifier", "ordered_at", "fulfilled_at", "raw_payload", "updated_at",
				}),
			}).
			Create(model).Error; err != nil {
			return err
		}

		var persisted models.UnifiedOrderModel
		if err := tx.Select("id", "created_at").
			Where("connection_id = ? AND external_order_id = ?", model.ConnectionID, model.ExternalOrderID).
			First(&persisted).Error; err != nil {
			return err
		}

		if err := tx.Where("order_id = ?", persisted.ID).Delete(&models.UnifiedOrderItemModel{}).Error; err != nil {
			return err
		}
		items := models.UnifiedOrderItemModelsFromDomain(persisted.ID, order.Items)
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}

		order.ID = persisted.ID
		order.CreatedAt = persisted.CreatedAt
		order.UpdatedAt = model.UpdatedAt
		for i := range order.Items {
			order.Items[i].ID = items[i].ID
			order.Items[i].OrderID = persisted.ID
		}
		return nil
	})
}

// FindByExternalID loads an order and its items
func (r *GormUnifiedOrderRepository) FindByExternalID(ctx context.Context, connectionID uuid.UUID, externalOrderID string) (*integration.UnifiedOrder, error) {
	var model models.UnifiedOrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("external_id ASC") }).
		Where("connection_id = ? AND external_order_id = ?", connectionID, externalOrderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountByConnection counts the orders stored for a connection
func (r *GormUnifiedOrderRepository) CountByConnection(ctx context.Context, connectionID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UnifiedOrderModel{}).
		Where("connection_id = ?", connectionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

var _ integration.UnifiedOrderRepository = (*GormUnifiedOrderRepository)(nil)
