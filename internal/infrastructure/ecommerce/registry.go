package ecommerce

import (
	"fmt"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/config"
)

// NewRegistry builds an adapter for every enabled marketplace in cfg
func NewRegistry(cfg *config.Config) (*integration.AdapterRegistry, error) {
	registry := integration.NewAdapterRegistry()
	for _, m := range integration.AllMarketplaces() {
		mc, ok := cfg.Marketplace(string(m))
		if !ok {
			continue
		}
		pc := NewProviderConfig(mc, cfg.Webhook.OAuthRedirectURL(string(m)), cfg.Webhook.WebhookURL(string(m)))
		adapter, err := newAdapter(m, pc)
		if err != nil {
			return nil, fmt.Errorf("%s adapter: %w", m, err)
		}
		registry.Register(adapter)
	}
	return registry, nil
}

func newAdapter(m integration.Marketplace, pc ProviderConfig) (integration.MarketplaceAdapter, error) {
	switch m {
	case integration.MarketplaceShopify:
		return NewShopifyAdapter(pc)
	case integration.MarketplaceBigCommerce:
		return NewBigCommerceAdapter(pc)
	case integration.MarketplaceEtsy:
		return NewEtsyAdapter(pc)
	case integration.MarketplaceSquare:
		return NewSquareAdapter(pc)
	case integration.MarketplaceWooCommerce:
		return NewWooCommerceAdapter(pc), nil
	default:
		return nil, integration.ErrUnknownMarketplace
	}
}
