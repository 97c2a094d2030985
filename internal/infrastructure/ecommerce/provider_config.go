package ecommerce

import (
	"errors"
	"strings"
	"time"

	"github.com/marketsync/backend/internal/infrastructure/config"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
	// maxResponseSize caps provider response bodies (10MB)
	maxResponseSize = 10 * 1024 * 1024
	// maxPages bounds cursor pagination in list calls
	maxPages = 200
)

// Errors for provider configuration
var (
	ErrConfigMissingClientID     = errors.New("ecommerce: client id is required")
	ErrConfigMissingClientSecret = errors.New("ecommerce: client secret is required")
	ErrConfigMissingRedirectURL  = errors.New("ecommerce: redirect url is required")
	ErrConfigMissingWebhookURL   = errors.New("ecommerce: webhook url is required")
)

// ProviderConfig holds one marketplace app's credentials and endpoints
type ProviderConfig struct {
	// ClientID is the app's OAuth client id (API key)
	ClientID string
	// ClientSecret is the app's OAuth client secret; Shopify also signs webhooks with it
	ClientSecret string
	// APIBaseURL overrides the provider's REST endpoint
	APIBaseURL string
	// AuthBaseURL overrides the provider's OAuth endpoint
	AuthBaseURL string
	// RedirectURL is the OAuth callback registered with the provider
	RedirectURL string
	// WebhookURL is the public webhook endpoint; Square signs it together with the body
	WebhookURL string
	Scopes      []string
	APIVersion  string
	Timeout     time.Duration
	MaxRetries  int
}

// NewProviderConfig builds a ProviderConfig from the [marketplaces.<name>] config table
func NewProviderConfig(mc config.MarketplaceConfig, redirectURL, webhookURL string) ProviderConfig {
	return ProviderConfig{
		ClientID:     mc.ClientID,
		ClientSecret: mc.ClientSecret,
		APIBaseURL:   strings.TrimRight(mc.APIBaseURL, "/"),
		AuthBaseURL:  strings.TrimRight(mc.AuthBaseURL, "/"),
		RedirectURL:  redirectURL,
		WebhookURL:   webhookURL,
		Scopes:       mc.Scopes,
		APIVersion:   mc.APIVersion,
		Timeout:      mc.Timeout,
		MaxRetries:   mc.MaxRetries,
	}
}

// validateOAuth checks the fields every OAuth app needs and fills defaults
func (c *ProviderConfig) validateOAuth(requireSecret bool) error {
	if c.ClientID == "" {
		return ErrConfigMissingClientID
	}
	if requireSecret && c.ClientSecret == "" {
		return ErrConfigMissingClientSecret
	}
	if c.RedirectURL == "" {
		return ErrConfigMissingRedirectURL
	}
	c.applyDefaults()
	return nil
}

func (c *ProviderConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

// baseURL returns the configured API endpoint or the provider default
func (c *ProviderConfig) baseURL(def string) string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	return def
}

// authURL returns the configured OAuth endpoint or the provider default
func (c *ProviderConfig) authURL(def string) string {
	if c.AuthBaseURL != "" {
		return c.AuthBaseURL
	}
	return def
}
