package integration

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Order status mapping
// ---------------------------------------------------------------------------

// orderStatusTables maps each marketplace's status vocabulary into the canonical set.
// Keys are lower-cased; adapters may compose codes (for example Shopify's financial and
// fulfillment status) before lookup.
var orderStatusTables = map[Marketplace]map[string]OrderStatus{
	MarketplaceShopify: {
		"pending":            OrderStatusPending,
		"authorized":         OrderStatusPending,
		"partially_paid":     OrderStatusProcessing,
		"paid":               OrderStatusProcessing,
		"partial":            OrderStatusProcessing,
		"partially_refunded": OrderStatusProcessing,
		"fulfilled":          OrderStatusFulfilled,
		"refunded":           OrderStatusRefunded,
		"voided":             OrderStatusCancelled,
		"restocked":          OrderStatusCancelled,
		"cancelled":          OrderStatusCancelled,
	},
	// BigCommerce reports numeric status ids
	MarketplaceBigCommerce: {
		"0":  OrderStatusPending,    // Incomplete
		"1":  OrderStatusPending,    // Pending
		"2":  OrderStatusFulfilled,  // Shipped
		"3":  OrderStatusProcessing, // Partially Shipped
		"4":  OrderStatusRefunded,   // Refunded
		"5":  OrderStatusCancelled,  // Cancelled
		"6":  OrderStatusCancelled,  // Declined
		"7":  OrderStatusPending,    // Awaiting Payment
		"8":  OrderStatusProcessing, // Awaiting Pickup
		"9":  OrderStatusProcessing, // Awaiting Shipment
		"10": OrderStatusFulfilled,  // Completed
		"11": OrderStatusProcessing, // Awaiting Fulfillment
		"12": OrderStatusPending,    // Manual Verification Required
		"13": OrderStatusProcessing, // Disputed
		"14": OrderStatusProcessing, // Partially Refunded
	},
	MarketplaceEtsy: {
		"open":               OrderStatusPending,
		"payment processing": OrderStatusPending,
		"paid":               OrderStatusProcessing,
		"partially refunded": OrderStatusProcessing,
		"completed":          OrderStatusFulfilled,
		"canceled":           OrderStatusCancelled,
		"fully refunded":     OrderStatusRefunded,
	},
	MarketplaceSquare: {
		"draft":     OrderStatusPending,
		"open":      OrderStatusProcessing,
		"completed": OrderStatusFulfilled,
		"canceled":  OrderStatusCancelled,
		"refunded":  OrderStatusRefunded,
	},
	MarketplaceWooCommerce: {
		"pending":        OrderStatusPending,
		"on-hold":        OrderStatusPending,
		"checkout-draft": OrderStatusPending,
		"processing":     OrderStatusProcessing,
		"completed":      OrderStatusFulfilled,
		"cancelled":      OrderStatusCancelled,
		"failed":         OrderStatusCancelled,
		"trash":          OrderStatusCancelled,
		"refunded":       OrderStatusRefunded,
	},
}

// MapOrderStatus maps a provider status code to the canonical status.
// Unknown codes and unknown marketplaces map to OrderStatusFallback.
func MapOrderStatus(m Marketplace, code string) OrderStatus {
	table, ok := orderStatusTables[m]
	if !ok {
		return OrderStatusFallback
	}
	if status, ok := table[strings.ToLower(strings.TrimSpace(code))]; ok {
		return status
	}
	return OrderStatusFallback
}

// DocumentedStatusCodes lists the provider codes that have an explicit mapping
func DocumentedStatusCodes(m Marketplace) []string {
	table := orderStatusTables[m]
	codes := make([]string, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ---------------------------------------------------------------------------
// Product status derivation
// ---------------------------------------------------------------------------

// DeriveProductStatus combines visibility and stock into one canonical status
func DeriveProductStatus(visible bool, inventory *int, archived bool) ProductStatus {
	switch {
	case archived:
		return ProductStatusArchived
	case !visible:
		return ProductStatusHidden
	case inventory != nil && *inventory <= 0:
		return ProductStatusOutOfStock
	default:
		return ProductStatusActive
	}
}

// ---------------------------------------------------------------------------
// Payload sanitization
// ---------------------------------------------------------------------------

// SanitizeOptions controls what Sanitize does with personal data
type SanitizeOptions struct {
	// HashEmails replaces email values with their one-way hash instead of keeping them verbatim
	HashEmails bool
}

// droppedKeys never reach the database
var droppedKeys = map[string]struct{}{
	"token":           {},
	"access_token":    {},
	"refresh_token":   {},
	"client_secret":   {},
	"password":        {},
	"signature":       {},
	"card":            {},
	"card_details":    {},
	"credit_card":     {},
	"payment_details": {},
}

// HashIdentifier returns the hex SHA-256 of the normalized identifier
func HashIdentifier(s string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(s))))
	return hex.EncodeToString(sum[:])
}

// Sanitize turns a raw provider payload into a storable payload.
// Secret-like keys are removed at any depth and email-like values are hashed when requested.
// The output has sorted keys, so equal inputs produce byte-identical payloads.
func Sanitize(raw json.RawMessage, opts SanitizeOptions) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	out, err := json.Marshal(sanitizeValue(doc, "", opts))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sanitizeValue(v any, key string, opts SanitizeOptions) any {
	switch val := v.(type) {
	case map[string]any:
		clean := make(map[string]any, len(val))
		for k, child := range val {
			lk := strings.ToLower(k)
			if _, drop := droppedKeys[lk]; drop {
				continue
			}
			clean[k] = sanitizeValue(child, lk, opts)
		}
		return clean
	case []any:
		for i, child := range val {
			val[i] = sanitizeValue(child, key, opts)
		}
		return val
	case string:
		if opts.HashEmails && isEmailKey(key) && val != "" {
			return HashIdentifier(val)
		}
		return val
	default:
		return val
	}
}

func isEmailKey(key string) bool {
	return key == "email" || strings.HasSuffix(key, "_email") || strings.HasSuffix(key, "email_address")
}

// ---------------------------------------------------------------------------
// Composition
// ---------------------------------------------------------------------------

// NormalizeOptions carries retention policy into normalization
type NormalizeOptions struct {
	HashCustomerEmail bool
}

// NormalizeOrder converts a fetched provider order into the canonical model
func NormalizeOrder(m Marketplace, connectionID uuid.UUID, raw *RawOrder, opts NormalizeOptions) (*UnifiedOrder, error) {
	if raw == nil || raw.ExternalID == "" {
		return nil, ErrInvalidOrder
	}

	currencyCode := NormalizeCurrencyCode(raw.Currency)
	payload, err := Sanitize(raw.Payload, SanitizeOptions{HashEmails: opts.HashCustomerEmail})
	if err != nil {
		return nil, err
	}

	order := &UnifiedOrder{
		ConnectionID:       connectionID,
		Marketplace:        m,
		ExternalOrderID:    raw.ExternalID,
		Status:             MapOrderStatus(m, raw.StatusCode),
		ProviderStatusCode: raw.StatusCode,
		Currency:           currencyCode,
		TotalAmount:        ToMajorUnits(raw.TotalMinor, currencyCode),
		CustomerName:       strings.TrimSpace(raw.CustomerName),
		CustomerIdentifier: customerIdentifier(raw.CustomerEmail, opts),
		OrderedAt:          raw.OrderedAt,
		FulfilledAt:        raw.FulfilledAt,
		RawPayload:         payload,
		Items:              make([]UnifiedOrderItem, 0, len(raw.Items)),
	}

	for _, it := range raw.Items {
		unit := ToMajorUnits(it.UnitPriceMinor, currencyCode)
		order.Items = append(order.Items, UnifiedOrderItem{
			ExternalID: it.ExternalID,
			SKU:        it.SKU,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  unit,
			LineTotal:  unit.Mul(decimal.NewFromInt(int64(it.Quantity))),
		})
		order.ItemCount += it.Quantity
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

func customerIdentifier(email string, opts NormalizeOptions) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	if opts.HashCustomerEmail {
		return HashIdentifier(email)
	}
	return strings.ToLower(email)
}

// NormalizeProduct converts a fetched provider product into the canonical model
func NormalizeProduct(m Marketplace, connectionID uuid.UUID, raw *RawProduct, opts NormalizeOptions) (*UnifiedProduct, error) {
	if raw == nil || raw.ExternalID == "" {
		return nil, ErrInvalidProduct
	}

	payload, err := Sanitize(raw.Payload, SanitizeOptions{HashEmails: opts.HashCustomerEmail})
	if err != nil {
		return nil, err
	}

	currencyCode := NormalizeCurrencyCode(raw.Currency)
	product := &UnifiedProduct{
		ConnectionID: connectionID,
		Marketplace:  m,
		ExternalID:   raw.ExternalID,
		Title:        raw.Title,
		SKU:          raw.SKU,
		Status:       DeriveProductStatus(raw.Visible, raw.Inventory, raw.Archived),
		Currency:     currencyCode,
		Price:        ToMajorUnits(raw.PriceMinor, currencyCode),
		Inventory:    raw.Inventory,
		RawPayload:   payload,
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	return product, nil
}
