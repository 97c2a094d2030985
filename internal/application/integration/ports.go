// Package integration holds the application services of the sync engine:
// connection lifecycle, credential access, webhook ingestion and reconciliation.
package integration

import (
	"context"

	"github.com/marketsync/backend/internal/domain/integration"
)

// Cipher seals and opens credential material.
// The scope binds ciphertext to one marketplace when per-marketplace keys are configured.
type Cipher interface {
	Encrypt(scope integration.Marketplace, plaintext string) (string, error)
	Decrypt(scope integration.Marketplace, ciphertext string) (string, error)
}

// Metrics receives sync engine counters
type Metrics interface {
	WebhookReceived(ctx context.Context, marketplace integration.Marketplace, outcome string)
	SyncUnit(ctx context.Context, status string)
	TokenRefresh(ctx context.Context, marketplace integration.Marketplace, result string)
}

// CallbackURLs resolves the public endpoints registered with providers
type CallbackURLs interface {
	WebhookURL(marketplace string) string
	OAuthRedirectURL(marketplace string) string
}

type nopMetrics struct{}

func (nopMetrics) WebhookReceived(context.Context, integration.Marketplace, string) {}
func (nopMetrics) SyncUnit(context.Context, string)                                 {}
func (nopMetrics) TokenRefresh(context.Context, integration.Marketplace, string)    {}

// NopMetrics discards every measurement
func NopMetrics() Metrics {
	return nopMetrics{}
}
