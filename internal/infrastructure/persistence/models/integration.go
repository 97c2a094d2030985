package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/marketsync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// MarketplaceConnectionModel
// ---------------------------------------------------------------------------

// MarketplaceConnectionModel is the persistence model for the Connection domain entity.
// (user_id, marketplace) is unique: reconnecting overwrites the existing row.
type MarketplaceConnectionModel struct {
	BaseModel
	UserID               uuid.UUID                    `gorm:"type:uuid;not null;uniqueIndex:idx_connection_user_marketplace,priority:1"`
	Marketplace          integration.Marketplace      `gorm:"type:varchar(20);not null;uniqueIndex:idx_connection_user_marketplace,priority:2;index:idx_connection_store,priority:1"`
	Status               integration.ConnectionStatus `gorm:"type:varchar(20);not null;index"`
	AccessTokenEnc       *string                      `gorm:"type:text"`
	RefreshTokenEnc      *string                      `gorm:"type:text"`
	TokenExpiresAt       *time.Time
	ExternalStoreID      string     `gorm:"type:varchar(255);not null;index:idx_connection_store,priority:2"`
	ExternalDisplayName  string     `gorm:"type:varchar(255)"`
	WebhookSecretEnc     *string    `gorm:"type:text"`
	ConnectedAt          time.Time  `gorm:"not null"`
	LastSyncAt           *time.Time `gorm:"index"`
	WebhooksRegisteredAt *time.Time
	LastRefreshedAt      *time.Time
}

// TableName returns the table name for GORM
func (MarketplaceConnectionModel) TableName() string {
	return "marketplace_connections"
}

// ToDomain converts the persistence model to a domain Connection entity
func (m *MarketplaceConnectionModel) ToDomain() *integration.Connection {
	return &integration.Connection{
		ID:                   m.ID,
		UserID:               m.UserID,
		Marketplace:          m.Marketplace,
		Status:               m.Status,
		AccessTokenEnc:       m.AccessTokenEnc,
		RefreshTokenEnc:      m.RefreshTokenEnc,
		TokenExpiresAt:       m.TokenExpiresAt,
		ExternalStoreID:      m.ExternalStoreID,
		ExternalDisplayName:  m.ExternalDisplayName,
		WebhookSecretEnc:     m.WebhookSecretEnc,
		ConnectedAt:          m.ConnectedAt,
		LastSyncAt:           m.LastSyncAt,
		WebhooksRegisteredAt: m.WebhooksRegisteredAt,
		LastRefreshedAt:      m.LastRefreshedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Connection entity
func (m *MarketplaceConnectionModel) FromDomain(c *integration.Connection) {
	m.ID = c.ID
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
	m.UserID = c.UserID
	m.Marketplace = c.Marketplace
	m.Status = c.Status
	m.AccessTokenEnc = c.AccessTokenEnc
	m.RefreshTokenEnc = c.RefreshTokenEnc
	m.TokenExpiresAt = c.TokenExpiresAt
	m.ExternalStoreID = c.ExternalStoreID
	m.ExternalDisplayName = c.ExternalDisplayName
	m.WebhookSecretEnc = c.WebhookSecretEnc
	m.ConnectedAt = c.ConnectedAt
	m.LastSyncAt = c.LastSyncAt
	m.WebhooksRegisteredAt = c.WebhooksRegisteredAt
	m.LastRefreshedAt = c.LastRefreshedAt
	m.ensureID()
	m.touch()
	if m.ConnectedAt.IsZero() {
		m.ConnectedAt = m.CreatedAt
	}
}

// MarketplaceConnectionModelFromDomain creates a new persistence model from a domain Connection
func MarketplaceConnectionModelFromDomain(c *integration.Connection) *MarketplaceConnectionModel {
	m := &MarketplaceConnectionModel{}
	m.FromDomain(c)
	return m
}

// ---------------------------------------------------------------------------
// WebhookDedupModel
// ---------------------------------------------------------------------------

// WebhookDedupModel records processed provider event ids.
// The composite primary key is the uniqueness constraint the whole dedup protocol relies on.
type WebhookDedupModel struct {
	Marketplace integration.Marketplace `gorm:"type:varchar(20);primaryKey"`
	EventID     string                  `gorm:"type:varchar(255);primaryKey"`
	EventType   string                  `gorm:"type:varchar(100);not null"`
	ProcessedAt time.Time               `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (WebhookDedupModel) TableName() string {
	return "webhook_dedup"
}

// ToDomain converts the persistence model to a domain DedupRecord
func (m *WebhookDedupModel) ToDomain() *integration.DedupRecord {
	return &integration.DedupRecord{
		Marketplace: m.Marketplace,
		EventID:     m.EventID,
		EventType:   m.EventType,
		ProcessedAt: m.ProcessedAt,
	}
}

// WebhookDedupModelFromDomain creates a new persistence model from a domain DedupRecord
func WebhookDedupModelFromDomain(r *integration.DedupRecord) *WebhookDedupModel {
	processedAt := r.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	return &WebhookDedupModel{
		Marketplace: r.Marketplace,
		EventID:     r.EventID,
		EventType:   r.EventType,
		ProcessedAt: processedAt.UTC(),
	}
}

// ---------------------------------------------------------------------------
// UnifiedOrderModel
// ---------------------------------------------------------------------------

// UnifiedOrderModel is the persistence model for UnifiedOrder
type UnifiedOrderModel struct {
	BaseModel
	ConnectionID       uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex:idx_unified_order_external,priority:1"`
	Marketplace        integration.Marketplace `gorm:"type:varchar(20);not null;index"`
	ExternalOrderID    string                  `gorm:"type:varchar(100);not null;uniqueIndex:idx_unified_order_external,priority:2"`
	Status             integration.OrderStatus `gorm:"type:varchar(20);not null;index"`
	ProviderStatusCode string                  `gorm:"type:varchar(50)"`
	Currency           string                  `gorm:"type:varchar(3);not null"`
	TotalAmount        decimal.Decimal         `gorm:"type:decimal(18,4);not null"`
	ItemCount          int                     `gorm:"not null;default:0"`
	CustomerName       string                  `gorm:"type:varchar(255)"`
	CustomerIdentifier string                  `gorm:"type:varchar(255);index"`
	OrderedAt          time.Time               `gorm:"not null;index"`
	FulfilledAt        *time.Time
	RawPayload         datatypes.JSON
	Items              []UnifiedOrderItemModel `gorm:"foreignKey:OrderID"`
}

// TableName returns the table name for GORM
func (UnifiedOrderModel) TableName() string {
	return "unified_orders"
}

// ToDomain converts the persistence model to a domain UnifiedOrder
func (m *UnifiedOrderModel) ToDomain() *integration.UnifiedOrder {
	order := &integration.UnifiedOrder{
		ID:                 m.ID,
		ConnectionID:       m.ConnectionID,
		Marketplace:        m.Marketplace,
		ExternalOrderID:    m.ExternalOrderID,
		Status:             m.Status,
		ProviderStatusCode: m.ProviderStatusCode,
		Currency:           m.Currency,
		TotalAmount:        m.TotalAmount,
		ItemCount:          m.ItemCount,
		CustomerName:       m.CustomerName,
		CustomerIdentifier: m.CustomerIdentifier,
		OrderedAt:          m.OrderedAt,
		FulfilledAt:        m.FulfilledAt,
		RawPayload:         json.RawMessage(m.RawPayload),
		Items:              make([]integration.UnifiedOrderItem, len(m.Items)),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
	for i := range m.Items {
		order.Items[i] = *m.Items[i].ToDomain()
	}
	return order
}

// FromDomain populates the persistence model from a domain UnifiedOrder.
// Items are mapped separately because the repository replaces them as a set.
func (m *UnifiedOrderModel) FromDomain(o *integration.UnifiedOrder) {
	m.ID = o.ID
	m.CreatedAt = o.CreatedAt
	m.UpdatedAt = o.UpdatedAt
	m.ConnectionID = o.ConnectionID
	m.Marketplace = o.Marketplace
	m.ExternalOrderID = o.ExternalOrderID
	m.Status = o.Status
	m.ProviderStatusCode = o.ProviderStatusCode
	m.Currency = o.Currency
	m.TotalAmount = o.TotalAmount
	m.ItemCount = o.ItemCount
	m.CustomerName = o.CustomerName
	m.CustomerIdentifier = o.CustomerIdentifier
	m.OrderedAt = o.OrderedAt
	m.FulfilledAt = o.FulfilledAt
	m.RawPayload = datatypes.JSON(jsonOrEmpty(o.RawPayload))
	m.ensureID()
	m.touch()
}

// UnifiedOrderModelFromDomain creates a new persistence model from a domain UnifiedOrder
func UnifiedOrderModelFromDomain(o *integration.UnifiedOrder) *UnifiedOrderModel {
	m := &UnifiedOrderModel{}
	m.FromDomain(o)
	return m
}

// UnifiedOrderItemModel is one line of a unified order
type UnifiedOrderItemModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	ExternalID string          `gorm:"type:varchar(100)"`
	SKU        string          `gorm:"type:varchar(100)"`
	Title      string          `gorm:"type:varchar(500)"`
	Quantity   int             `gorm:"not null"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	LineTotal  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (UnifiedOrderItemModel) TableName() string {
	return "unified_order_items"
}

// ToDomain converts the persistence model to a domain UnifiedOrderItem
func (m *UnifiedOrderItemModel) ToDomain() *integration.UnifiedOrderItem {
	return &integration.UnifiedOrderItem{
		ID:         m.ID,
		OrderID:    m.OrderID,
		ExternalID: m.ExternalID,
		SKU:        m.SKU,
		Title:      m.Title,
		Quantity:   m.Quantity,
		UnitPrice:  m.UnitPrice,
		LineTotal:  m.LineTotal,
	}
}

// UnifiedOrderItemModelsFromDomain maps the item set of an order to persistence models
func UnifiedOrderItemModelsFromDomain(orderID uuid.UUID, items []integration.UnifiedOrderItem) []UnifiedOrderItemModel {
	out := make([]UnifiedOrderItemModel, len(items))
	for i, it := range items {
		id := it.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		out[i] = UnifiedOrderItemModel{
			ID:         id,
			OrderID:    orderID,
			ExternalID: it.ExternalID,
			SKU:        it.SKU,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			LineTotal:  it.LineTotal,
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// UnifiedProductModel
// ---------------------------------------------------------------------------

// UnifiedProductModel is the persistence model for UnifiedProduct
type UnifiedProductModel struct {
	BaseModel
	ConnectionID uuid.UUID                 `gorm:"type:uuid;not null;uniqueIndex:idx_unified_product_external,priority:1"`
	Marketplace  integration.Marketplace   `gorm:"type:varchar(20);not null;index"`
	ExternalID   string                    `gorm:"type:varchar(100);not null;uniqueIndex:idx_unified_product_external,priority:2"`
	Title        string                    `gorm:"type:varchar(500)"`
	SKU          string                    `gorm:"type:varchar(100);index"`
	Status       integration.ProductStatus `gorm:"type:varchar(20);not null;index"`
	Currency     string                    `gorm:"type:varchar(3)"`
	Price        decimal.Decimal           `gorm:"type:decimal(18,4);not null"`
	Inventory    *int
	RawPayload   datatypes.JSON
}

// TableName returns the table name for GORM
func (UnifiedProductModel) TableName() string {
	return "unified_products"
}

// ToDomain converts the persistence model to a domain UnifiedProduct
func (m *UnifiedProductModel) ToDomain() *integration.UnifiedProduct {
	return &integration.UnifiedProduct{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		Marketplace:  m.Marketplace,
		ExternalID:   m.ExternalID,
		Title:        m.Title,
		SKU:          m.SKU,
		Status:       m.Status,
		Currency:     m.Currency,
		Price:        m.Price,
		Inventory:    m.Inventory,
		RawPayload:   json.RawMessage(m.RawPayload),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain UnifiedProduct
func (m *UnifiedProductModel) FromDomain(p *integration.UnifiedProduct) {
	m.ID = p.ID
	m.CreatedAt = p.CreatedAt
	m.UpdatedAt = p.UpdatedAt
	m.ConnectionID = p.ConnectionID
	m.Marketplace = p.Marketplace
	m.ExternalID = p.ExternalID
	m.Title = p.Title
	m.SKU = p.SKU
	m.Status = p.Status
	m.Currency = p.Currency
	m.Price = p.Price
	m.Inventory = p.Inventory
	m.RawPayload = datatypes.JSON(jsonOrEmpty(p.RawPayload))
	m.ensureID()
	m.touch()
}

// UnifiedProductModelFromDomain creates a new persistence model from a domain UnifiedProduct
func UnifiedProductModelFromDomain(p *integration.UnifiedProduct) *UnifiedProductModel {
	m := &UnifiedProductModel{}
	m.FromDomain(p)
	return m
}

// ---------------------------------------------------------------------------
// SyncLogModel
// ---------------------------------------------------------------------------

// SyncLogModel is the persistence model for SyncLog
type SyncLogModel struct {
	ID           uuid.UUID                 `gorm:"type:uuid;primary_key"`
	ConnectionID uuid.UUID                 `gorm:"type:uuid;not null;index:idx_sync_log_connection,priority:1"`
	EntityKind   integration.EntityKind    `gorm:"type:varchar(20);not null"`
	Trigger      integration.SyncTrigger   `gorm:"type:varchar(20);not null"`
	Status       integration.SyncLogStatus `gorm:"type:varchar(20);not null;index"`
	SyncedCount  int                       `gorm:"not null;default:0"`
	ErrorKind    integration.ErrorKind     `gorm:"type:varchar(30)"`
	ErrorText    string                    `gorm:"type:text"`
	StartedAt    time.Time                 `gorm:"not null;index:idx_sync_log_connection,priority:2"`
	FinishedAt   *time.Time
}

// TableName returns the table name for GORM
func (SyncLogModel) TableName() string {
	return "sync_logs"
}

// ToDomain converts the persistence model to a domain SyncLog
func (m *SyncLogModel) ToDomain() *integration.SyncLog {
	return &integration.SyncLog{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		EntityKind:   m.EntityKind,
		Trigger:      m.Trigger,
		Status:       m.Status,
		SyncedCount:  m.SyncedCount,
		ErrorKind:    m.ErrorKind,
		ErrorText:    m.ErrorText,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
}

// SyncLogModelFromDomain creates a new persistence model from a domain SyncLog
func SyncLogModelFromDomain(l *integration.SyncLog) *SyncLogModel {
	id := l.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &SyncLogModel{
		ID:           id,
		ConnectionID: l.ConnectionID,
		EntityKind:   l.EntityKind,
		Trigger:      l.Trigger,
		Status:       l.Status,
		SyncedCount:  l.SyncedCount,
		ErrorKind:    l.ErrorKind,
		ErrorText:    l.ErrorText,
		StartedAt:    l.StartedAt,
		FinishedAt:   l.FinishedAt,
	}
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// All lists every model in dependency order for AutoMigrate
func All() []any {
	return []any{
		&MarketplaceConnectionModel{},
		&WebhookDedupModel{},
		&UnifiedOrderModel{},
		&UnifiedOrderItemModel{},
		&UnifiedProductModel{},
		&SyncLogModel{},
	}
}
