package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/marketsync/backend/internal/domain/integration"
)

const (
	shopifyDefaultAPIVersion = "2024-10"
	shopifyPageSize          = "250"

	headerShopifyTopic       = "X-Shopify-Topic"
	headerShopifyHmac        = "X-Shopify-Hmac-Sha256"
	headerShopifyShopDomain  = "X-Shopify-Shop-Domain"
	headerShopifyWebhookID   = "X-Shopify-Webhook-Id"
	headerShopifyTriggeredAt = "X-Shopify-Triggered-At"
	headerShopifyAccessToken = "X-Shopify-Access-Token"
)

// shopifyTopics are the subscriptions the pipeline handles
var shopifyTopics = []string{
	"orders/create",
	"orders/updated",
	"orders/cancelled",
	"products/create",
	"products/update",
	"app/uninstalled",
}

var shopDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-]*\.myshopify\.com$`)

// ErrInvalidShopDomain is returned when a shop hint is not a myshopify.com domain
var ErrInvalidShopDomain = errors.New("ecommerce: shop must be a <name>.myshopify.com domain")

// ShopifyAdapter implements integration.MarketplaceAdapter for the Shopify Admin REST API
type ShopifyAdapter struct {
	config     ProviderConfig
	client     *apiClient
	currencies *storeCurrencyCache
}

var _ integration.MarketplaceAdapter = (*ShopifyAdapter)(nil)

// NewShopifyAdapter creates a Shopify adapter
func NewShopifyAdapter(cfg ProviderConfig) (*ShopifyAdapter, error) {
	if err := cfg.validateOAuth(true); err != nil {
		return nil, err
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = shopifyDefaultAPIVersion
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read_orders", "read_products", "read_inventory"}
	}
	return &ShopifyAdapter{
		config:     cfg,
		client:     newAPIClient(integration.MarketplaceShopify, cfg),
		currencies: newStoreCurrencyCache(),
	}, nil
}

// Marketplace returns SHOPIFY
func (a *ShopifyAdapter) Marketplace() integration.Marketplace {
	return integration.MarketplaceShopify
}

// Capabilities describes Shopify's protocol variant
func (a *ShopifyAdapter) Capabilities() integration.AdapterCapabilities {
	return integration.AdapterCapabilities{
		HasWebhooks: true,
		SecretScope: integration.SecretScopeApp,
		DedupPolicy: integration.DedupAfterHandling,
		RetryPolicy: integration.RetrySane,
	}
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

func (a *ShopifyAdapter) flow(shop string) *oauthFlow {
	base := a.config.authURL("https://" + shop)
	return newOAuthFlow(integration.MarketplaceShopify, a.config,
		base+"/admin/oauth/authorize", base+"/admin/oauth/access_token", a.client.httpClient())
}

// AuthorizeURL builds the per-shop consent URL; storeHint is the shop domain
func (a *ShopifyAdapter) AuthorizeURL(state string, _ *integration.PKCEChallenge, storeHint string) (string, error) {
	shop := strings.ToLower(strings.TrimSpace(storeHint))
	if !shopDomainPattern.MatchString(shop) {
		return "", ErrInvalidShopDomain
	}
	return a.flow(shop).authCodeURL(state, nil), nil
}

// ExchangeCode trades the callback code for an offline access token
func (a *ShopifyAdapter) ExchangeCode(ctx context.Context, req integration.CodeExchange) (*integration.TokenSet, error) {
	shop := strings.ToLower(firstNonEmpty(req.StoreHint, req.Params["shop"]))
	if !shopDomainPattern.MatchString(shop) {
		return nil, ErrInvalidShopDomain
	}
	tok, err := a.flow(shop).exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	set := tokenSetFrom(tok)
	// offline tokens carry no expiry or refresh token
	set.ExpiresAt = nil
	set.RefreshToken = ""
	set.ExternalStoreID = shop
	set.ExternalDisplayName = shop

	info, err := a.shopInfo(ctx, integration.Credentials{AccessToken: set.AccessToken, ExternalStoreID: shop})
	if err == nil {
		if info.Shop.Name != "" {
			set.ExternalDisplayName = info.Shop.Name
		}
		a.currencies.put(integration.MarketplaceShopify, shop, info.Shop.Currency)
	}
	return set, nil
}

// RefreshToken is not supported: offline tokens never expire
func (a *ShopifyAdapter) RefreshToken(context.Context, string) (*integration.TokenSet, error) {
	return nil, integration.NewCredentialError("refresh", false, integration.ErrOperationNotSupported)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// IdentifySource returns the shop domain header
func (a *ShopifyAdapter) IdentifySource(headers http.Header, _ []byte) (string, error) {
	shop := strings.ToLower(strings.TrimSpace(headers.Get(headerShopifyShopDomain)))
	if shop == "" {
		return "", integration.ErrUnidentifiedSource
	}
	return shop, nil
}

// VerifyWebhookSignature checks base64(HMAC-SHA256(body)) keyed with the app secret
func (a *ShopifyAdapter) VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool {
	return verifyHMACBase64(headers.Get(headerShopifyHmac), secret, rawBody)
}

// ParseWebhook extracts the topic, resource id and delivery id
func (a *ShopifyAdapter) ParseWebhook(headers http.Header, rawBody []byte) (*integration.WebhookEvent, error) {
	topic := strings.ToLower(strings.TrimSpace(headers.Get(headerShopifyTopic)))
	kind, err := shopifyResourceKind(topic)
	if err != nil {
		return nil, err
	}

	var body shopifyWebhookBody
	if err := decodeWebhookBody(rawBody, &body); err != nil {
		return nil, err
	}

	occurred := parseTimestamp(headers.Get(headerShopifyTriggeredAt))
	if occurred.IsZero() {
		occurred = parseTimestamp(body.UpdatedAt)
	}

	ev := &integration.WebhookEvent{
		EventID:      strings.TrimSpace(headers.Get(headerShopifyWebhookID)),
		Topic:        topic,
		ResourceKind: kind,
		OccurredAt:   orNow(occurred),
		Source:       strings.ToLower(headers.Get(headerShopifyShopDomain)),
	}
	if kind != integration.ResourceUninstall {
		ev.ResourceID = body.ID.String()
	}
	return ensureWebhookEvent(ev)
}

func shopifyResourceKind(topic string) (integration.WebhookResourceKind, error) {
	switch {
	case topic == "app/uninstalled":
		return integration.ResourceUninstall, nil
	case strings.HasPrefix(topic, "orders/"):
		return integration.ResourceOrder, nil
	case strings.HasPrefix(topic, "products/"):
		return integration.ResourceProduct, nil
	case topic == "":
		return "", fmt.Errorf("%w: missing %s header", integration.ErrMalformedPayload, headerShopifyTopic)
	default:
		return "", fmt.Errorf("%w: %s", integration.ErrUnsupportedTopic, topic)
	}
}

// RegisterWebhooks creates the topics not yet subscribed at callbackURL
func (a *ShopifyAdapter) RegisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL, _ string) (*integration.WebhookRegistration, error) {
	existing, err := a.listWebhooks(ctx, creds, callbackURL)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, w := range existing {
		have[w.Topic] = true
	}

	reg := &integration.WebhookRegistration{}
	for _, topic := range shopifyTopics {
		if have[topic] {
			reg.Skipped = append(reg.Skipped, topic)
			continue
		}
		body := shopifyWebhookEnvelope{Webhook: shopifyWebhook{Topic: topic, Address: callbackURL, Format: "json"}}
		req := a.authed(ctx, creds).SetBody(body)
		if _, err := a.client.do(req, http.MethodPost, a.adminURL(creds, "webhooks.json"), nil); err != nil {
			return reg, fmt.Errorf("register %s: %w", topic, err)
		}
		reg.Created = append(reg.Created, topic)
	}
	return reg, nil
}

// DeregisterWebhooks deletes every subscription pointing at callbackURL
func (a *ShopifyAdapter) DeregisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL string) error {
	existing, err := a.listWebhooks(ctx, creds, callbackURL)
	if err != nil {
		return err
	}
	for _, w := range existing {
		url := a.adminURL(creds, "webhooks/"+w.ID.String()+".json")
		if _, err := a.client.do(a.authed(ctx, creds), http.MethodDelete, url, nil); err != nil && !errors.Is(err, integration.ErrResourceNotFound) {
			return fmt.Errorf("deregister %s: %w", w.Topic, err)
		}
	}
	return nil
}

func (a *ShopifyAdapter) listWebhooks(ctx context.Context, creds integration.Credentials, callbackURL string) ([]shopifyWebhook, error) {
	var out shopifyWebhooksEnvelope
	req := a.authed(ctx, creds).SetQueryParam("address", callbackURL)
	if _, err := a.client.do(req, http.MethodGet, a.adminURL(creds, "webhooks.json"), &out); err != nil {
		return nil, err
	}
	return out.Webhooks, nil
}

// ---------------------------------------------------------------------------
// Resource reads
// ---------------------------------------------------------------------------

// FetchOrder reads one order
func (a *ShopifyAdapter) FetchOrder(ctx context.Context, creds integration.Credentials, orderID string) (*integration.RawOrder, error) {
	var env shopifyOrderEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.adminURL(creds, "orders/"+orderID+".json"), &env); err != nil {
		return nil, err
	}
	return shopifyRawOrder(env.Order)
}

// FetchProduct reads one product, priced in the shop currency
func (a *ShopifyAdapter) FetchProduct(ctx context.Context, creds integration.Credentials, productID string) (*integration.RawProduct, error) {
	currency, err := a.shopCurrency(ctx, creds)
	if err != nil {
		return nil, err
	}
	var env shopifyProductEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.adminURL(creds, "products/"+productID+".json"), &env); err != nil {
		return nil, err
	}
	return shopifyRawProduct(env.Product, currency)
}

// ListOrders pages through orders updated since the cursor, following Link headers
func (a *ShopifyAdapter) ListOrders(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawOrder, error) {
	var orders []integration.RawOrder
	err := a.paginate(ctx, creds, "orders.json", since, func(body []byte) error {
		var env shopifyOrdersEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("%w: shopify orders: %v", integration.ErrPlatformInvalidResponse, err)
		}
		for _, raw := range env.Orders {
			o, err := shopifyRawOrder(raw)
			if err != nil {
				return err
			}
			orders = append(orders, *o)
		}
		return nil
	})
	return orders, err
}

// ListProducts pages through products updated since the cursor
func (a *ShopifyAdapter) ListProducts(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawProduct, error) {
	currency, err := a.shopCurrency(ctx, creds)
	if err != nil {
		return nil, err
	}
	var products []integration.RawProduct
	err = a.paginate(ctx, creds, "products.json", since, func(body []byte) error {
		var env shopifyProductsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("%w: shopify products: %v", integration.ErrPlatformInvalidResponse, err)
		}
		for _, raw := range env.Products {
			p, err := shopifyRawProduct(raw, currency)
			if err != nil {
				return err
			}
			products = append(products, *p)
		}
		return nil
	})
	return products, err
}

func (a *ShopifyAdapter) paginate(ctx context.Context, creds integration.Credentials, resource string, since *time.Time, page func([]byte) error) error {
	req := a.authed(ctx, creds).SetQueryParam("limit", shopifyPageSize)
	if resource == "orders.json" {
		req.SetQueryParam("status", "any")
	}
	if since != nil {
		req.SetQueryParam("updated_at_min", since.UTC().Format(time.RFC3339))
	}
	url := a.adminURL(creds, resource)

	for i := 0; i < maxPages && url != ""; i++ {
		resp, err := a.client.do(req, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if err := page(resp.Body()); err != nil {
			return err
		}
		// next links already carry page_info; other filters must not be repeated
		url = nextLink(resp.Header().Get("Link"))
		req = a.authed(ctx, creds)
	}
	return nil
}

func (a *ShopifyAdapter) shopInfo(ctx context.Context, creds integration.Credentials) (*shopifyShop, error) {
	var info shopifyShop
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.adminURL(creds, "shop.json"), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *ShopifyAdapter) shopCurrency(ctx context.Context, creds integration.Credentials) (string, error) {
	return a.currencies.get(ctx, integration.MarketplaceShopify, creds.ExternalStoreID, func(ctx context.Context) (string, error) {
		info, err := a.shopInfo(ctx, creds)
		if err != nil {
			return "", err
		}
		return info.Shop.Currency, nil
	})
}

func (a *ShopifyAdapter) adminURL(creds integration.Credentials, path string) string {
	return a.config.baseURL("https://"+creds.ExternalStoreID) + "/admin/api/" + a.config.APIVersion + "/" + path
}

func (a *ShopifyAdapter) authed(ctx context.Context, creds integration.Credentials) *resty.Request {
	return a.client.request(ctx).SetHeader(headerShopifyAccessToken, creds.AccessToken)
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

func shopifyRawOrder(raw json.RawMessage) (*integration.RawOrder, error) {
	var o shopifyOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: shopify order: %v", integration.ErrPlatformInvalidResponse, err)
	}
	total, err := minorUnits(o.TotalPrice, o.Currency)
	if err != nil {
		return nil, err
	}

	out := &integration.RawOrder{
		ExternalID: o.ID.String(),
		StatusCode: shopifyStatusCode(&o),
		Currency:   o.Currency,
		TotalMinor: total,
		OrderedAt:  parseTimestamp(o.CreatedAt),
		UpdatedAt:  parseTimestamp(o.UpdatedAt),
		Payload:    raw,
	}
	out.CustomerEmail = o.Email
	if o.Customer != nil {
		out.CustomerName = strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
		if out.CustomerEmail == "" {
			out.CustomerEmail = o.Customer.Email
		}
	}
	if o.FulfillmentStatus == "fulfilled" {
		var latest time.Time
		for _, f := range o.Fulfillments {
			if t := parseTimestamp(f.CreatedAt); t.After(latest) {
				latest = t
			}
		}
		if latest.IsZero() {
			latest = parseTimestamp(o.ClosedAt)
		}
		out.FulfilledAt = timePtr(latest)
	}
	for _, li := range o.LineItems {
		price, err := minorUnits(li.Price, o.Currency)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, integration.RawOrderItem{
			ExternalID:     li.ID.String(),
			SKU:            li.SKU,
			Title:          li.Title,
			Quantity:       li.Quantity,
			UnitPriceMinor: price,
		})
	}
	return out, nil
}

// shopifyStatusCode composes financial and fulfillment status into one lookup key.
// Cancellation and refunds dominate fulfillment progress.
func shopifyStatusCode(o *shopifyOrder) string {
	financial := strings.ToLower(o.FinancialStatus)
	switch {
	case o.CancelledAt != "":
		return "cancelled"
	case financial == "refunded", financial == "voided":
		return financial
	case o.FulfillmentStatus == "fulfilled":
		return "fulfilled"
	case o.FulfillmentStatus == "partial":
		return "partial"
	default:
		return financial
	}
}

func shopifyRawProduct(raw json.RawMessage, currency string) (*integration.RawProduct, error) {
	var p shopifyProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: shopify product: %v", integration.ErrPlatformInvalidResponse, err)
	}
	out := &integration.RawProduct{
		ExternalID: p.ID.String(),
		Title:      p.Title,
		Currency:   currency,
		Visible:    p.Status == "active",
		Archived:   p.Status == "archived",
		UpdatedAt:  parseTimestamp(p.UpdatedAt),
		Payload:    raw,
	}
	if len(p.Variants) > 0 {
		out.SKU = p.Variants[0].SKU
		price, err := minorUnits(p.Variants[0].Price, currency)
		if err != nil {
			return nil, err
		}
		out.PriceMinor = price
	}
	tracked, total := false, 0
	for _, v := range p.Variants {
		if v.InventoryManagement == "" {
			continue
		}
		tracked = true
		total += v.InventoryQuantity
	}
	if tracked {
		out.Inventory = &total
	}
	return out, nil
}
