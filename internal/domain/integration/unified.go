package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// OrderStatus is the closed canonical order vocabulary
// ---------------------------------------------------------------------------

// OrderStatus is the canonical order status every provider code maps into
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusFulfilled  OrderStatus = "FULFILLED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// OrderStatusFallback is returned for provider codes with no mapping
const OrderStatusFallback = OrderStatusPending

// IsValid returns true if the status is one of the canonical values
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusFulfilled,
		OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// ProductStatus is derived from visibility plus inventory
// ---------------------------------------------------------------------------

// ProductStatus is the canonical product status
type ProductStatus string

const (
	ProductStatusActive     ProductStatus = "ACTIVE"
	ProductStatusOutOfStock ProductStatus = "OUT_OF_STOCK"
	ProductStatusHidden     ProductStatus = "HIDDEN"
	ProductStatusArchived   ProductStatus = "ARCHIVED"
)

// IsValid returns true if the status is one of the canonical values
func (s ProductStatus) IsValid() bool {
	switch s {
	case ProductStatusActive, ProductStatusOutOfStock, ProductStatusHidden, ProductStatusArchived:
		return true
	default:
		return false
	}
}

// String returns the string representation of ProductStatus
func (s ProductStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// UnifiedOrder
// ---------------------------------------------------------------------------

// UnifiedOrder is the canonical order, unique per (ConnectionID, ExternalOrderID)
type UnifiedOrder struct {
	ID                 uuid.UUID
	ConnectionID       uuid.UUID
	Marketplace        Marketplace
	ExternalOrderID    string
	Status             OrderStatus
	ProviderStatusCode string
	Currency           string
	TotalAmount        decimal.Decimal
	ItemCount          int
	CustomerName       string
	// CustomerIdentifier is either the raw email or its one-way hash, depending on retention policy
	CustomerIdentifier string
	OrderedAt          time.Time
	FulfilledAt        *time.Time
	RawPayload         json.RawMessage
	Items              []UnifiedOrderItem
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UnifiedOrderItem is a line owned exclusively by its order
type UnifiedOrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	ExternalID string
	SKU        string
	Title      string
	Quantity   int
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
}

// Validate checks the invariants every persisted order must hold
func (o *UnifiedOrder) Validate() error {
	if o.ConnectionID == uuid.Nil || o.ExternalOrderID == "" {
		return ErrInvalidOrder
	}
	if !o.Status.IsValid() {
		return ErrInvalidOrder
	}
	if len(o.Currency) != 3 {
		return ErrInvalidOrder
	}
	return nil
}

// ---------------------------------------------------------------------------
// UnifiedProduct
// ---------------------------------------------------------------------------

// UnifiedProduct is the canonical product, unique per (ConnectionID, ExternalID)
type UnifiedProduct struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	Marketplace  Marketplace
	ExternalID   string
	Title        string
	SKU          string
	Status       ProductStatus
	Currency     string
	Price        decimal.Decimal
	Inventory    *int
	RawPayload   json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks the invariants every persisted product must hold
func (p *UnifiedProduct) Validate() error {
	if p.ConnectionID == uuid.Nil || p.ExternalID == "" {
		return ErrInvalidProduct
	}
	if !p.Status.IsValid() {
		return ErrInvalidProduct
	}
	return nil
}

// ---------------------------------------------------------------------------
// Repository ports
// ---------------------------------------------------------------------------

// UnifiedOrderRepository persists canonical orders.
// Upsert replaces the full item set inside one transaction.
type UnifiedOrderRepository interface {
	Upsert(ctx context.Context, order *UnifiedOrder) error
	FindByExternalID(ctx context.Context, connectionID uuid.UUID, externalOrderID string) (*UnifiedOrder, error)
	CountByConnection(ctx context.Context, connectionID uuid.UUID) (int64, error)
}

// UnifiedProductRepository persists canonical products
type UnifiedProductRepository interface {
	Upsert(ctx context.Context, product *UnifiedProduct) error
	FindByExternalID(ctx context.Context, connectionID uuid.UUID, externalID string) (*UnifiedProduct, error)
	CountByConnection(ctx context.Context, connectionID uuid.UUID) (int64, error)
}
