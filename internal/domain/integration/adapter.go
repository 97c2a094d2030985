package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Value objects exchanged with adapters
// ---------------------------------------------------------------------------

// TokenSet is the plaintext result of a code exchange or refresh.
// It only lives in memory; the credential store encrypts it before persistence.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is nil for tokens that never expire
	ExpiresAt           *time.Time
	ExternalStoreID     string
	ExternalDisplayName string
	Scopes              []string
}

// PKCEChallenge carries the S256 challenge sent in the authorization request
type PKCEChallenge struct {
	Verifier  string
	Challenge string
	Method    string
}

// CodeExchange is the input to ExchangeCode.
// For credential-connect providers Code carries "key:secret" and StoreHint the store URL.
type CodeExchange struct {
	Code         string
	CodeVerifier string
	RedirectURL  string
	StoreHint    string
	// Params holds provider-specific callback parameters (for example BigCommerce "context")
	Params map[string]string
}

// Credentials is what adapters need to call a store's API on behalf of a connection
type Credentials struct {
	ConnectionID    string
	Marketplace     Marketplace
	AccessToken     string
	ExternalStoreID string
	ExpiresAt       *time.Time
}

// WebhookResourceKind tells the pipeline which handler an event needs
type WebhookResourceKind string

const (
	// ResourceOrder events carry an order id
	ResourceOrder WebhookResourceKind = "ORDER"
	// ResourceProduct events carry a product id
	ResourceProduct WebhookResourceKind = "PRODUCT"
	// ResourceCatalog events announce a catalog-wide change without item detail
	ResourceCatalog WebhookResourceKind = "CATALOG"
	// ResourceUninstall events announce that the app lost access to the store
	ResourceUninstall WebhookResourceKind = "UNINSTALL"
)

// IsValid returns true if the resource kind is valid
func (k WebhookResourceKind) IsValid() bool {
	switch k {
	case ResourceOrder, ResourceProduct, ResourceCatalog, ResourceUninstall:
		return true
	default:
		return false
	}
}

// WebhookEvent is the correlation data extracted from a verified webhook
type WebhookEvent struct {
	EventID      string              `validate:"required,max=255"`
	Topic        string              `validate:"required,max=100"`
	ResourceKind WebhookResourceKind `validate:"required"`
	ResourceID   string              `validate:"omitempty,max=100"`
	OccurredAt   time.Time           `validate:"required"`
	Source       string              `validate:"required,max=255"`
}

// CompositeEventID builds a deterministic event id for providers without a native one
func CompositeEventID(topic, resourceID string, ts time.Time) string {
	return topic + ":" + resourceID + ":" + ts.UTC().Format(time.RFC3339Nano)
}

// WebhookRegistration reports the outcome of RegisterWebhooks
type WebhookRegistration struct {
	Created []string
	Skipped []string
	// SigningSecret is set when the provider issues its own per-subscription key
	SigningSecret string
}

// RawOrderItem is one line of a provider order, amounts in minor units
type RawOrderItem struct {
	ExternalID     string
	SKU            string
	Title          string
	Quantity       int
	UnitPriceMinor int64
}

// RawOrder is an order as fetched from the provider, before normalization.
// Amounts are in the currency's minor unit.
type RawOrder struct {
	ExternalID    string
	StatusCode    string
	Currency      string
	TotalMinor    int64
	CustomerName  string
	CustomerEmail string
	OrderedAt     time.Time
	FulfilledAt   *time.Time
	UpdatedAt     time.Time
	Items         []RawOrderItem
	Payload       json.RawMessage
}

// RawProduct is a product as fetched from the provider, before normalization
type RawProduct struct {
	ExternalID string
	Title      string
	SKU        string
	Currency   string
	PriceMinor int64
	Visible    bool
	Archived   bool
	// Inventory is nil when the provider does not track stock for the product
	Inventory *int
	UpdatedAt time.Time
	Payload   json.RawMessage
}

// ---------------------------------------------------------------------------
// MarketplaceAdapter port
// ---------------------------------------------------------------------------

// MarketplaceAdapter is the uniform capability interface over one marketplace's wire protocol.
// Implementations live in the infrastructure layer; new marketplaces add an implementation.
type MarketplaceAdapter interface {
	// Marketplace returns the marketplace this adapter speaks to
	Marketplace() Marketplace

	// Capabilities describes the protocol variant
	Capabilities() AdapterCapabilities

	// AuthorizeURL builds the provider consent URL
	AuthorizeURL(state string, pkce *PKCEChallenge, storeHint string) (string, error)

	// ExchangeCode trades an authorization code (or pasted API credentials) for tokens
	ExchangeCode(ctx context.Context, req CodeExchange) (*TokenSet, error)

	// RefreshToken obtains a new access token; RefreshToken in the result is empty when not rotated
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)

	// IdentifySource extracts the store identifier of an unverified webhook, used to look up its secret
	IdentifySource(headers http.Header, rawBody []byte) (string, error)

	// VerifyWebhookSignature checks the raw body against the provider's signature scheme
	VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool

	// ParseWebhook extracts correlation fields from a verified webhook
	ParseWebhook(headers http.Header, rawBody []byte) (*WebhookEvent, error)

	// FetchOrder fetches the authoritative order state
	FetchOrder(ctx context.Context, creds Credentials, orderID string) (*RawOrder, error)

	// FetchProduct fetches the authoritative product state
	FetchProduct(ctx context.Context, creds Credentials, productID string) (*RawProduct, error)

	// ListOrders lists orders updated since the cursor; nil means a full pull
	ListOrders(ctx context.Context, creds Credentials, since *time.Time) ([]RawOrder, error)

	// ListProducts lists products updated since the cursor; nil means a full pull
	ListProducts(ctx context.Context, creds Credentials, since *time.Time) ([]RawProduct, error)

	// RegisterWebhooks idempotently subscribes the callback URL to every topic the pipeline handles
	RegisterWebhooks(ctx context.Context, creds Credentials, callbackURL, secret string) (*WebhookRegistration, error)

	// DeregisterWebhooks removes every subscription pointing at the callback URL
	DeregisterWebhooks(ctx context.Context, creds Credentials, callbackURL string) error
}

// PingDetector is implemented by adapters whose providers send an unsigned test delivery
// when a subscription is created. Pings are acknowledged without any processing.
type PingDetector interface {
	IsPing(headers http.Header, rawBody []byte) bool
}

// ---------------------------------------------------------------------------
// AdapterRegistry
// ---------------------------------------------------------------------------

// AdapterRegistry resolves adapters by marketplace
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[Marketplace]MarketplaceAdapter
}

// NewAdapterRegistry creates a registry with the given adapters
func NewAdapterRegistry(adapters ...MarketplaceAdapter) *AdapterRegistry {
	r := &AdapterRegistry{adapters: make(map[Marketplace]MarketplaceAdapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter
func (r *AdapterRegistry) Register(a MarketplaceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Marketplace()] = a
}

// Get returns the adapter for a marketplace
func (r *AdapterRegistry) Get(m Marketplace) (MarketplaceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[m]
	if !ok {
		return nil, ErrUnknownMarketplace
	}
	return a, nil
}

// Marketplaces lists registered marketplaces in a stable order
func (r *AdapterRegistry) Marketplaces() []Marketplace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Marketplace, 0, len(r.adapters))
	for _, m := range AllMarketplaces() {
		if _, ok := r.adapters[m]; ok {
			out = append(out, m)
		}
	}
	return out
}
