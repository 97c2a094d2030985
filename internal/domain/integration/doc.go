// Package integration contains the marketplace synchronization bounded context.
// It owns the canonical order/product model that every downstream consumer reads,
// and the ports through which external marketplaces feed it.
//
// Key concepts:
//   - MarketplaceAdapter: Port interface implemented once per marketplace (Shopify, BigCommerce, Etsy, Square, WooCommerce)
//   - Connection: A user's authorized link to one marketplace store, holding encrypted credentials
//   - DedupRecord: Write-once ledger row that makes webhook handling at-most-once effective
//   - UnifiedOrder / UnifiedProduct: Canonical entities all providers are normalized into
//   - SyncLog: Observability record for each webhook or scheduled sync attempt
//   - Normalizer: Pure functions mapping provider vocabularies and minor-unit amounts into the canonical model
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
