package integration

import "strings"

// ---------------------------------------------------------------------------
// Marketplace identifies an external e-commerce provider
// ---------------------------------------------------------------------------

// Marketplace identifies an external e-commerce provider
type Marketplace string

const (
	// MarketplaceShopify represents Shopify stores
	MarketplaceShopify Marketplace = "SHOPIFY"
	// MarketplaceBigCommerce represents BigCommerce stores
	MarketplaceBigCommerce Marketplace = "BIGCOMMERCE"
	// MarketplaceEtsy represents Etsy shops
	MarketplaceEtsy Marketplace = "ETSY"
	// MarketplaceSquare represents Square sellers
	MarketplaceSquare Marketplace = "SQUARE"
	// MarketplaceWooCommerce represents self-hosted WooCommerce sites
	MarketplaceWooCommerce Marketplace = "WOOCOMMERCE"
)

// AllMarketplaces lists every supported marketplace
func AllMarketplaces() []Marketplace {
	return []Marketplace{
		MarketplaceShopify,
		MarketplaceBigCommerce,
		MarketplaceEtsy,
		MarketplaceSquare,
		MarketplaceWooCommerce,
	}
}

// IsValid returns true if the marketplace is supported
func (m Marketplace) IsValid() bool {
	switch m {
	case MarketplaceShopify, MarketplaceBigCommerce, MarketplaceEtsy,
		MarketplaceSquare, MarketplaceWooCommerce:
		return true
	default:
		return false
	}
}

// String returns the string representation of Marketplace
func (m Marketplace) String() string {
	return string(m)
}

// DisplayName returns a human-readable name for the marketplace
func (m Marketplace) DisplayName() string {
	switch m {
	case MarketplaceShopify:
		return "Shopify"
	case MarketplaceBigCommerce:
		return "BigCommerce"
	case MarketplaceEtsy:
		return "Etsy"
	case MarketplaceSquare:
		return "Square"
	case MarketplaceWooCommerce:
		return "WooCommerce"
	default:
		return string(m)
	}
}

// ParseMarketplace parses a path or config segment such as "shopify" into a Marketplace
func ParseMarketplace(s string) (Marketplace, error) {
	m := Marketplace(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", ErrUnknownMarketplace
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Adapter capabilities
// ---------------------------------------------------------------------------

// SecretScope tells the webhook pipeline where the verification secret lives
type SecretScope string

const (
	// SecretScopeApp means all installs share the app's client secret
	SecretScopeApp SecretScope = "APP"
	// SecretScopeConnection means each connection carries its own webhook secret
	SecretScopeConnection SecretScope = "CONNECTION"
)

// DedupPolicy decides whether the dedup record is written before or after handling
type DedupPolicy string

const (
	// DedupBeforeHandling claims the event id before any side effect.
	// The claim is released again when handling fails transiently.
	DedupBeforeHandling DedupPolicy = "BEFORE"
	// DedupAfterHandling records the event id only after handling succeeded,
	// so a crash mid-handling leaves the event retryable.
	DedupAfterHandling DedupPolicy = "AFTER"
)

// RetryPolicy describes how a provider reacts to non-2xx webhook responses
type RetryPolicy string

const (
	// RetrySane providers back off sensibly, so transient failures are surfaced as 5xx
	RetrySane RetryPolicy = "SANE"
	// RetryAggressive providers hammer or disable endpoints on failure, so everything is acknowledged
	// and the reconciliation sweep recovers missed state
	RetryAggressive RetryPolicy = "AGGRESSIVE"
)

// AdapterCapabilities describes the protocol variant an adapter implements
type AdapterCapabilities struct {
	HasWebhooks         bool
	UsesPKCE            bool
	TokensExpire        bool
	RotatesRefreshToken bool
	// CredentialConnect marks providers connected by verifying pasted API keys instead of OAuth
	CredentialConnect bool
	// UnsignedWebhooks marks providers that only echo a shared secret; their sources are rate limited
	UnsignedWebhooks bool
	SecretScope      SecretScope
	DedupPolicy      DedupPolicy
	RetryPolicy      RetryPolicy
}
