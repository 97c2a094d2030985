package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/persistence/models"
)

const connectedFirst = "CASE WHEN status = '" + string(integration.ConnectionStatusConnected) + "' THEN 0 ELSE 1 END"

// GormConnectionRepository implements integration.ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// FindByID finds a connection by its ID
func (r *GormConnectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Connection, error) {
	var model models.MarketplaceConnectionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByUserAndMarketplace finds the connection a user holds for a marketplace
func (r *GormConnectionRepository) FindByUserAndMarketplace(ctx context.Context, userID uuid.UUID, m integration.Marketplace) (*integration.Connection, error) {
	var model models.MarketplaceConnectionModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND marketplace = ?", userID, m).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalStore resolves a webhook source to a connection.
// Several users may have linked the same store over time; the connected record wins.
func (r *GormConnectionRepository) FindByExternalStore(ctx context.Context, m integration.Marketplace, externalStoreID string) (*integration.Connection, error) {
	var model models.MarketplaceConnectionModel
	if err := r.db.WithContext(ctx).
		Where("marketplace = ? AND external_store_id = ?", m, externalStoreID).
		Order(connectedFirst + ", updated_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByUser lists every connection of a user
func (r *GormConnectionRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]integration.Connection, error) {
	var rows []models.MarketplaceConnectionModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("marketplace ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainConnections(rows), nil
}

// ListConnected lists connected records for the reconciliation sweep.
// Records never synced come first.
func (r *GormConnectionRepository) ListConnected(ctx context.Context, filter integration.ConnectionFilter) ([]integration.Connection, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND access_token_enc IS NOT NULL", integration.ConnectionStatusConnected)
	if len(filter.Marketplaces) > 0 {
		query = query.Where("marketplace IN ?", filter.Marketplaces)
	}

	var rows []models.MarketplaceConnectionModel
	if err := query.
		Order("CASE WHEN last_sync_at IS NULL THEN 0 ELSE 1 END, last_sync_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainConnections(rows), nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Save creates or overwrites the single row for (user_id, marketplace)
func (r *GormConnectionRepository) Save(ctx context.Context, conn *integration.Connection) error {
	model := models.MarketplaceConnectionModelFromDomain(conn)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "marketplace"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "access_token_enc", "refresh_token_enc", "token_expires_at",
				"external_store_id", "external_display_name", "webhook_secret_enc",
				"connected_at", "last_sync_at", "webhooks_registered_at", "last_refreshed_at", "updated_at",
			}),
		}).Create(model).Error; err != nil {
			return err
		}

		// On conflict the row keeps its original id; read it back so callers see the persisted identity
		var persisted models.MarketplaceConnectionModel
		if err := tx.Where("user_id = ? AND marketplace = ?", model.UserID, model.Marketplace).
			First(&persisted).Error; err != nil {
			return err
		}
		conn.ID = persisted.ID
		conn.CreatedAt = persisted.CreatedAt
		return nil
	})
	return err
}

// UpdateTokens persists a refreshed token set.
// A nil refresh token leaves the stored one untouched.
func (r *GormConnectionRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessTokenEnc string, refreshTokenEnc *string, expiresAt *time.Time) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"access_token_enc":  accessTokenEnc,
		"token_expires_at":  expiresAt,
		"last_refreshed_at": now,
		"updated_at":        now,
	}
	if refreshTokenEnc != nil && *refreshTokenEnc != "" {
		updates["refresh_token_enc"] = *refreshTokenEnc
	}

	result := r.db.WithContext(ctx).
		Model(&models.MarketplaceConnectionModel{}).
		Where("id = ? AND status = ?", id, integration.ConnectionStatusConnected).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrConnectionDisconnected
	}
	return nil
}

// SaveWebhookSecret stores the encrypted webhook secret and the registration time
func (r *GormConnectionRepository) SaveWebhookSecret(ctx context.Context, id uuid.UUID, secretEnc *string, registeredAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.MarketplaceConnectionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"webhook_secret_enc":     secretEnc,
			"webhooks_registered_at": registeredAt.UTC(),
			"updated_at":             time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrConnectionNotFound
	}
	return nil
}

// Disconnect nulls every credential column and flips the status in one statement,
// so no reader can observe a disconnected row that still holds tokens.
func (r *GormConnectionRepository) Disconnect(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.MarketplaceConnectionModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":                 integration.ConnectionStatusDisconnected,
				"access_token_enc":       gorm.Expr("NULL"),
				"refresh_token_enc":      gorm.Expr("NULL"),
				"token_expires_at":       gorm.Expr("NULL"),
				"webhook_secret_enc":     gorm.Expr("NULL"),
				"webhooks_registered_at": gorm.Expr("NULL"),
				"updated_at":             time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return integration.ErrConnectionNotFound
		}
		return nil
	})
}

// ResetLastSync clears the sync cursor so the next sweep does a full pull
func (r *GormConnectionRepository) ResetLastSync(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.MarketplaceConnectionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_sync_at": gorm.Expr("NULL"),
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrConnectionNotFound
	}
	return nil
}

// AdvanceLastSync moves the cursor with compare-and-set semantics.
// A concurrent resync request (cursor reset to NULL) makes the update a no-op.
func (r *GormConnectionRepository) AdvanceLastSync(ctx context.Context, id uuid.UUID, expected *time.Time, at time.Time) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.MarketplaceConnectionModel{}).
		Where("id = ? AND status = ?", id, integration.ConnectionStatusConnected)
	if expected == nil {
		query = query.Where("last_sync_at IS NULL")
	} else {
		query = query.Where("last_sync_at = ?", expected.UTC())
	}

	result := query.Updates(map[string]any{
		"last_sync_at": at.UTC(),
		"updated_at":   time.Now().UTC(),
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func toDomainConnections(rows []models.MarketplaceConnectionModel) []integration.Connection {
	out := make([]integration.Connection, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

var _ integration.ConnectionRepository = (*GormConnectionRepository)(nil)
