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

// GormUnifiedProductRepository implements integration.UnifiedProductRepository using GORM
type GormUnifiedProductRepository struct {
	db *gorm.DB
}

// NewGormUnifiedProductRepository creates a new GormUnifiedProductRepository
func NewGormUnifiedProductRepository(db *gorm.DB) *GormUnifiedProductRepository {
	return &GormUnifiedProductRepository{db: db}
}

// Upsert writes the product keyed by (connection_id, external_id)
func (r *GormUnifiedProductRepository) Upsert(ctx context.Context, product *integration.UnifiedProduct) error {
	if err := product.Validate(); err != nil {
		return err
	}
	model := models.UnifiedProductModelFromDomain(product)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "sku", "status", "currency", "price", "inventory", "raw_payload", "updated_at",
			}),
		}).Create(model).Error; err != nil {
			return err
		}

		var persisted models.UnifiedProductModel
		if err := tx.Select("id", "created_at").
			Where("connection_id = ? AND external_id = ?", model.ConnectionID, model.ExternalID).
			First(&persisted).Error; err != nil {
			return err
		}
		product.ID = persisted.ID
		product.CreatedAt = persisted.CreatedAt
		product.UpdatedAt = model.UpdatedAt
		return nil
	})
}

// FindByExternalID loads a product by its provider id
func (r *GormUnifiedProductRepository) FindByExternalID(ctx context.Context, connectionID uuid.UUID, externalID string) (*integration.UnifiedProduct, error) {
	var model models.UnifiedProductModel
	if err := r.db.WithContext(ctx).
		Where("connection_id = ? AND external_id = ?", connectionID, externalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrProductNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountByConnection counts the products stored for a connection
func (r *GormUnifiedProductRepository) CountByConnection(ctx context.Context, connectionID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UnifiedProductModel{}).
		Where("connection_id = ?", connectionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

var _ integration.UnifiedProductRepository = (*GormUnifiedProductRepository)(nil)
