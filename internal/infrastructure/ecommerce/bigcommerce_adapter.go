package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/marketsync/backend/internal/domain/integration"
)

const (
	bigcommerceDefaultAPIBase  = "https://api.bigcommerce.com"
	bigcommerceDefaultAuthBase = "https://login.bigcommerce.com"
	bigcommercePageSize        = 250

	// headerWebhookSecret carries the per-connection secret BigCommerce echoes on every delivery
	headerWebhookSecret    = "X-Marketsync-Secret"
	headerBigCommerceToken = "X-Auth-Token"
)

var bigcommerceScopes = []string{
	"store/order/*",
	"store/product/*",
	"store/app/uninstalled",
}

// BigCommerceAdapter implements integration.MarketplaceAdapter for BigCommerce stores
type BigCommerceAdapter struct {
	config     ProviderConfig
	client     *apiClient
	oauth      *oauthFlow
	currencies *storeCurrencyCache
}

var _ integration.MarketplaceAdapter = (*BigCommerceAdapter)(nil)

// NewBigCommerceAdapter creates a BigCommerce adapter
func NewBigCommerceAdapter(cfg ProviderConfig) (*BigCommerceAdapter, error) {
	if err := cfg.validateOAuth(true); err != nil {
		return nil, err
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"store_v2_orders_read_only", "store_v2_products_read_only", "store_v2_information_read_only"}
	}
	client := newAPIClient(integration.MarketplaceBigCommerce, cfg)
	auth := cfg.authURL(bigcommerceDefaultAuthBase)
	return &BigCommerceAdapter{
		config:     cfg,
		client:     client,
		oauth:      newOAuthFlow(integration.MarketplaceBigCommerce, cfg, auth+"/oauth2/authorize", auth+"/oauth2/token", client.httpClient()),
		currencies: newStoreCurrencyCache(),
	}, nil
}

// Marketplace returns BIGCOMMERCE
func (a *BigCommerceAdapter) Marketplace() integration.Marketplace {
	return integration.MarketplaceBigCommerce
}

// Capabilities describes BigCommerce: unsigned webhooks and aggressive redelivery
func (a *BigCommerceAdapter) Capabilities() integration.AdapterCapabilities {
	return integration.AdapterCapabilities{
		HasWebhooks:      true,
		UnsignedWebhooks: true,
		SecretScope:      integration.SecretScopeConnection,
		DedupPolicy:      integration.DedupBeforeHandling,
		RetryPolicy:      integration.RetryAggressive,
	}
}

// AuthorizeURL builds the consent URL
func (a *BigCommerceAdapter) AuthorizeURL(state string, _ *integration.PKCEChallenge, _ string) (string, error) {
	return a.oauth.authCodeURL(state, nil), nil
}

// ExchangeCode trades the install code; the callback's context parameter names the store
func (a *BigCommerceAdapter) ExchangeCode(ctx context.Context, req integration.CodeExchange) (*integration.TokenSet, error) {
	storeContext := firstNonEmpty(req.Params["context"], req.StoreHint)
	if storeContext == "" {
		return nil, fmt.Errorf("%w: bigcommerce callback without store context", integration.ErrAuthStateInvalid)
	}
	tok, err := a.oauth.exchange(ctx, req,
		oauth2.SetAuthURLParam("context", storeContext),
		oauth2.SetAuthURLParam("scope", strings.Join(a.config.Scopes, " ")),
	)
	if err != nil {
		return nil, err
	}
	set := tokenSetFrom(tok)
	set.ExpiresAt = nil
	set.RefreshToken = ""
	if c, ok := tok.Extra("context").(string); ok && c != "" {
		storeContext = c
	}
	set.ExternalStoreID = strings.TrimPrefix(storeContext, "stores/")
	set.ExternalDisplayName = set.ExternalStoreID

	if store, err := a.store(ctx, integration.Credentials{AccessToken: set.AccessToken, ExternalStoreID: set.ExternalStoreID}); err == nil {
		if store.Name != "" {
			set.ExternalDisplayName = store.Name
		}
		a.currencies.put(integration.MarketplaceBigCommerce, set.ExternalStoreID, store.Currency)
	}
	return set, nil
}

// RefreshToken is not supported: BigCommerce tokens never expire
func (a *BigCommerceAdapter) RefreshToken(context.Context, string) (*integration.TokenSet, error) {
	return nil, integration.NewCredentialError("refresh", false, integration.ErrOperationNotSupported)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// IdentifySource returns the store hash from the producer field
func (a *BigCommerceAdapter) IdentifySource(_ http.Header, rawBody []byte) (string, error) {
	var body bigcommerceWebhookBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return "", integration.ErrUnidentifiedSource
	}
	hash := strings.TrimPrefix(body.Producer, "stores/")
	if hash == "" {
		return "", integration.ErrUnidentifiedSource
	}
	return hash, nil
}

// VerifyWebhookSignature compares the echoed shared secret; BigCommerce does not sign bodies
func (a *BigCommerceAdapter) VerifyWebhookSignature(_ []byte, headers http.Header, secret string) bool {
	return constantTimeEqual(headers.Get(headerWebhookSecret), secret)
}

// ParseWebhook extracts the scope and resource id
func (a *BigCommerceAdapter) ParseWebhook(_ http.Header, rawBody []byte) (*integration.WebhookEvent, error) {
	var body bigcommerceWebhookBody
	if err := decodeWebhookBody(rawBody, &body); err != nil {
		return nil, err
	}

	var kind integration.WebhookResourceKind
	switch {
	case body.Scope == "store/app/uninstalled":
		kind = integration.ResourceUninstall
	case strings.HasPrefix(body.Scope, "store/order/"):
		kind = integration.ResourceOrder
	case strings.HasPrefix(body.Scope, "store/product/"):
		kind = integration.ResourceProduct
	case body.Scope == "":
		return nil, fmt.Errorf("%w: missing scope", integration.ErrMalformedPayload)
	default:
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedTopic, body.Scope)
	}

	ev := &integration.WebhookEvent{
		EventID:      body.Hash,
		Topic:        body.Scope,
		ResourceKind: kind,
		OccurredAt:   orNow(unixTime(body.CreatedAt)),
		Source:       strings.TrimPrefix(body.Producer, "stores/"),
	}
	if kind != integration.ResourceUninstall {
		ev.ResourceID = body.Data.ID.String()
	}
	return ensureWebhookEvent(ev)
}

// RegisterWebhooks creates missing hooks; each one echoes secret in X-Marketsync-Secret
func (a *BigCommerceAdapter) RegisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL, secret string) (*integration.WebhookRegistration, error) {
	if secret == "" {
		return nil, integration.ErrWebhookSecretMissing
	}
	existing, err := a.listHooks(ctx, creds, callbackURL)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, h := range existing {
		if h.IsActive {
			have[h.Scope] = true
		}
	}

	reg := &integration.WebhookRegistration{}
	for _, scope := range bigcommerceScopes {
		if have[scope] {
			reg.Skipped = append(reg.Skipped, scope)
			continue
		}
		hook := bigcommerceHook{
			Scope:       scope,
			Destination: callbackURL,
			IsActive:    true,
			Headers:     map[string]string{headerWebhookSecret: secret},
		}
		if _, err := a.client.do(a.authed(ctx, creds).SetBody(hook), http.MethodPost, a.v3URL(creds, "hooks"), nil); err != nil {
			return reg, fmt.Errorf("register %s: %w", scope, err)
		}
		reg.Created = append(reg.Created, scope)
	}
	return reg, nil
}

// DeregisterWebhooks deletes every hook pointing at callbackURL
func (a *BigCommerceAdapter) DeregisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL string) error {
	existing, err := a.listHooks(ctx, creds, callbackURL)
	if err != nil {
		return err
	}
	for _, h := range existing {
		if _, err := a.client.do(a.authed(ctx, creds), http.MethodDelete, a.v3URL(creds, "hooks/"+h.ID.String()), nil); err != nil && !errors.Is(err, integration.ErrResourceNotFound) {
			return fmt.Errorf("deregister %s: %w", h.Scope, err)
		}
	}
	return nil
}

func (a *BigCommerceAdapter) listHooks(ctx context.Context, creds integration.Credentials, callbackURL string) ([]bigcommerceHook, error) {
	var env bigcommerceHooksEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.v3URL(creds, "hooks"), &env); err != nil {
		return nil, err
	}
	out := env.Data[:0]
	for _, h := range env.Data {
		if h.Destination == callbackURL {
			out = append(out, h)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Resource reads
// ---------------------------------------------------------------------------

// FetchOrder reads the order and its line items
func (a *BigCommerceAdapter) FetchOrder(ctx context.Context, creds integration.Credentials, orderID string) (*integration.RawOrder, error) {
	resp, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.v2URL(creds, "orders/"+orderID), nil)
	if err != nil {
		return nil, err
	}
	return a.rawOrder(ctx, creds, resp.Body())
}

// FetchProduct reads one catalog product
func (a *BigCommerceAdapter) FetchProduct(ctx context.Context, creds integration.Credentials, productID string) (*integration.RawProduct, error) {
	currency, err := a.storeCurrency(ctx, creds)
	if err != nil {
		return nil, err
	}
	var env bigcommerceProductEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.v3URL(creds, "catalog/products/"+productID), &env); err != nil {
		return nil, err
	}
	return bigcommerceRawProduct(env.Data, currency)
}

// ListOrders pages through v2 orders modified since the cursor.
// BigCommerce answers an exhausted page with 204 No Content.
func (a *BigCommerceAdapter) ListOrders(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawOrder, error) {
	var orders []integration.RawOrder
	for page := 1; page <= maxPages; page++ {
		req := a.authed(ctx, creds).
			SetQueryParam("page", strconv.Itoa(page)).
			SetQueryParam("limit", strconv.Itoa(bigcommercePageSize)).
			SetQueryParam("sort", "date_modified:asc")
		if since != nil {
			req.SetQueryParam("min_date_modified", since.UTC().Format(time.RFC3339))
		}
		resp, err := a.client.do(req, http.MethodGet, a.v2URL(creds, "orders"), nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusNoContent || len(resp.Body()) == 0 {
			break
		}
		var batch []json.RawMessage
		if err := json.Unmarshal(resp.Body(), &batch); err != nil {
			return nil, fmt.Errorf("%w: bigcommerce orders: %v", integration.ErrPlatformInvalidResponse, err)
		}
		for _, raw := range batch {
			o, err := a.rawOrder(ctx, creds, raw)
			if err != nil {
				return nil, err
			}
			orders = append(orders, *o)
		}
		if len(batch) < bigcommercePageSize {
			break
		}
	}
	return orders, nil
}

// ListProducts pages through v3 catalog products modified since the cursor
func (a *BigCommerceAdapter) ListProducts(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawProduct, error) {
	currency, err := a.storeCurrency(ctx, creds)
	if err != nil {
		return nil, err
	}
	var products []integration.RawProduct
	for page := 1; page <= maxPages; page++ {
		req := a.authed(ctx, creds).
			SetQueryParam("page", strconv.Itoa(page)).
			SetQueryParam("limit", strconv.Itoa(bigcommercePageSize))
		if since != nil {
			req.SetQueryParam("date_modified:min", since.UTC().Format(time.RFC3339))
		}
		var env bigcommerceProductsEnvelope
		if _, err := a.client.do(req, http.MethodGet, a.v3URL(creds, "catalog/products"), &env); err != nil {
			return nil, err
		}
		for _, raw := range env.Data {
			p, err := bigcommerceRawProduct(raw, currency)
			if err != nil {
				return nil, err
			}
			products = append(products, *p)
		}
		if page >= env.Meta.Pagination.TotalPages {
			break
		}
	}
	return products, nil
}

func (a *BigCommerceAdapter) rawOrder(ctx context.Context, creds integration.Credentials, raw json.RawMessage) (*integration.RawOrder, error) {
	var o bigcommerceOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: bigcommerce order: %v", integration.ErrPlatformInvalidResponse, err)
	}
	total, err := minorUnits(o.TotalIncTax, o.CurrencyCode)
	if err != nil {
		return nil, err
	}
	out := &integration.RawOrder{
		ExternalID:    o.ID.String(),
		StatusCode:    o.StatusID.String(),
		Currency:      o.CurrencyCode,
		TotalMinor:    total,
		CustomerName:  strings.TrimSpace(o.Billing.FirstName + " " + o.Billing.LastName),
		CustomerEmail: o.Billing.Email,
		OrderedAt:     parseTimestamp(o.DateCreated),
		UpdatedAt:     parseTimestamp(o.DateModified),
		FulfilledAt:   timePtr(parseTimestamp(o.DateShipped)),
		Payload:       raw,
	}

	var items []bigcommerceOrderProduct
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.v2URL(creds, "orders/"+out.ExternalID+"/products"), &items); err != nil {
		return nil, err
	}
	for _, it := range items {
		price, err := minorUnits(it.PriceIncTax, o.CurrencyCode)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, integration.RawOrderItem{
			ExternalID:     it.ID.String(),
			SKU:            it.SKU,
			Title:          it.Name,
			Quantity:       it.Quantity,
			UnitPriceMinor: price,
		})
	}
	return out, nil
}

func bigcommerceRawProduct(raw json.RawMessage, currency string) (*integration.RawProduct, error) {
	var p bigcommerceProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: bigcommerce product: %v", integration.ErrPlatformInvalidResponse, err)
	}
	price, err := minorUnits(p.Price.String(), currency)
	if err != nil {
		return nil, err
	}
	out := &integration.RawProduct{
		ExternalID: p.ID.String(),
		Title:      p.Name,
		SKU:        p.SKU,
		Currency:   currency,
		PriceMinor: price,
		Visible:    p.IsVisible,
		Archived:   p.Availability == "disabled",
		UpdatedAt:  parseTimestamp(p.DateModified),
		Payload:    raw,
	}
	if p.InventoryTracking != "" && p.InventoryTracking != "none" {
		level := p.InventoryLevel
		out.Inventory = &level
	}
	return out, nil
}

func (a *BigCommerceAdapter) store(ctx context.Context, creds integration.Credentials) (*bigcommerceStore, error) {
	var s bigcommerceStore
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.v2URL(creds, "store"), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *BigCommerceAdapter) storeCurrency(ctx context.Context, creds integration.Credentials) (string, error) {
	return a.currencies.get(ctx, integration.MarketplaceBigCommerce, creds.ExternalStoreID, func(ctx context.Context) (string, error) {
		store, err := a.store(ctx, creds)
		if err != nil {
			return "", err
		}
		return store.Currency, nil
	})
}

func (a *BigCommerceAdapter) v2URL(creds integration.Credentials, path string) string {
	return a.config.baseURL(bigcommerceDefaultAPIBase) + "/stores/" + creds.ExternalStoreID + "/v2/" + path
}

func (a *BigCommerceAdapter) v3URL(creds integration.Credentials, path string) string {
	return a.config.baseURL(bigcommerceDefaultAPIBase) + "/stores/" + creds.ExternalStoreID + "/v3/" + path
}

func (a *BigCommerceAdapter) authed(ctx context.Context, creds integration.Credentials) *resty.Request {
	return a.client.request(ctx).SetHeader(headerBigCommerceToken, creds.AccessToken)
}
