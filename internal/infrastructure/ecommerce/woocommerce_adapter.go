package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/marketsync/backend/internal/domain/integration"
)

const (
	woocommercePageSize = 100

	headerWCTopic      = "X-WC-Webhook-Topic"
	headerWCSignature  = "X-WC-Webhook-Signature"
	headerWCSource     = "X-WC-Webhook-Source"
	headerWCDeliveryID = "X-WC-Webhook-Delivery-ID"
	headerWCTotalPages = "X-WP-TotalPages"
)

var woocommerceTopics = []string{
	"order.created",
	"order.updated",
	"product.created",
	"product.updated",
}

// Errors for WooCommerce credential connect
var (
	ErrInvalidStoreURL   = errors.New("ecommerce: store url must be an absolute http(s) url")
	ErrInvalidAPIKeyPair = errors.New("ecommerce: credentials must be consumer_key:consumer_secret")
)

// WooCommerceAdapter implements integration.MarketplaceAdapter for self-hosted WooCommerce stores.
// Stores connect with a REST API key pair instead of OAuth; the pair is stored as "key:secret".
type WooCommerceAdapter struct {
	config     ProviderConfig
	client     *apiClient
	currencies *storeCurrencyCache
}

var _ integration.MarketplaceAdapter = (*WooCommerceAdapter)(nil)
var _ integration.PingDetector = (*WooCommerceAdapter)(nil)

// NewWooCommerceAdapter creates a WooCommerce adapter; no app credentials are needed
func NewWooCommerceAdapter(cfg ProviderConfig) *WooCommerceAdapter {
	cfg.applyDefaults()
	return &WooCommerceAdapter{
		config:     cfg,
		client:     newAPIClient(integration.MarketplaceWooCommerce, cfg),
		currencies: newStoreCurrencyCache(),
	}
}

// Marketplace returns WOOCOMMERCE
func (a *WooCommerceAdapter) Marketplace() integration.Marketplace {
	return integration.MarketplaceWooCommerce
}

// Capabilities describes WooCommerce: credential connect and per-webhook secrets
func (a *WooCommerceAdapter) Capabilities() integration.AdapterCapabilities {
	return integration.AdapterCapabilities{
		HasWebhooks:       true,
		CredentialConnect: true,
		SecretScope:       integration.SecretScopeConnection,
		DedupPolicy:       integration.DedupBeforeHandling,
		RetryPolicy:       integration.RetrySane,
	}
}

// AuthorizeURL is not supported: WooCommerce connects with pasted API keys
func (a *WooCommerceAdapter) AuthorizeURL(string, *integration.PKCEChallenge, string) (string, error) {
	return "", integration.ErrOperationNotSupported
}

// ExchangeCode verifies a "key:secret" pair against the store in StoreHint
func (a *WooCommerceAdapter) ExchangeCode(ctx context.Context, req integration.CodeExchange) (*integration.TokenSet, error) {
	store, err := normalizeStoreURL(req.StoreHint)
	if err != nil {
		return nil, err
	}
	if _, _, err := splitKeyPair(req.Code); err != nil {
		return nil, err
	}

	creds := integration.Credentials{AccessToken: req.Code, ExternalStoreID: store}
	// Reading a setting proves the key pair works
	currency, err := a.fetchCurrency(ctx, creds)
	if err != nil {
		retryable := !errors.Is(err, integration.ErrPlatformAuthFailed) && !errors.Is(err, integration.ErrResourceNotFound)
		return nil, integration.NewCredentialError("verify", retryable, err)
	}
	a.currencies.put(integration.MarketplaceWooCommerce, store, currency)

	u, _ := url.Parse(store)
	return &integration.TokenSet{
		AccessToken:         req.Code,
		ExternalStoreID:     store,
		ExternalDisplayName: u.Host,
	}, nil
}

// RefreshToken is not supported: API keys never expire
func (a *WooCommerceAdapter) RefreshToken(context.Context, string) (*integration.TokenSet, error) {
	return nil, integration.NewCredentialError("refresh", false, integration.ErrOperationNotSupported)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// IdentifySource returns the normalized store URL of the delivery
func (a *WooCommerceAdapter) IdentifySource(headers http.Header, _ []byte) (string, error) {
	store, err := normalizeStoreURL(headers.Get(headerWCSource))
	if err != nil {
		return "", integration.ErrUnidentifiedSource
	}
	return store, nil
}

// VerifyWebhookSignature checks base64(HMAC-SHA256(body)) keyed by the webhook secret
func (a *WooCommerceAdapter) VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool {
	return verifyHMACBase64(headers.Get(headerWCSignature), secret, rawBody)
}

// IsPing reports the form-encoded creation ping WooCommerce sends to a new delivery URL
func (a *WooCommerceAdapter) IsPing(headers http.Header, rawBody []byte) bool {
	return headers.Get(headerWCTopic) == "" && strings.HasPrefix(string(rawBody), "webhook_id=")
}

// ParseWebhook extracts topic and resource id.
// WooCommerce has no event id, so one is composed from topic, id and modification date.
func (a *WooCommerceAdapter) ParseWebhook(headers http.Header, rawBody []byte) (*integration.WebhookEvent, error) {
	topic := strings.ToLower(strings.TrimSpace(headers.Get(headerWCTopic)))
	var kind integration.WebhookResourceKind
	switch {
	case strings.HasPrefix(topic, "order."):
		kind = integration.ResourceOrder
	case strings.HasPrefix(topic, "product."):
		kind = integration.ResourceProduct
	case a.IsPing(headers, rawBody):
		return nil, fmt.Errorf("%w: ping", integration.ErrUnsupportedTopic)
	case topic == "":
		return nil, fmt.Errorf("%w: missing %s header", integration.ErrMalformedPayload, headerWCTopic)
	default:
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedTopic, topic)
	}

	var body woocommerceWebhookBody
	if err := decodeWebhookBody(rawBody, &body); err != nil {
		return nil, err
	}
	source, _ := normalizeStoreURL(headers.Get(headerWCSource))
	ev := &integration.WebhookEvent{
		Topic:        topic,
		ResourceKind: kind,
		ResourceID:   body.ID.String(),
		Source:       source,
	}

	modified := parseTimestamp(body.DateModifiedGMT)
	switch {
	case !modified.IsZero():
		ev.OccurredAt = modified
		ev.EventID = integration.CompositeEventID(topic, ev.ResourceID, modified)
	case headers.Get(headerWCDeliveryID) != "":
		ev.OccurredAt = time.Now().UTC()
		ev.EventID = topic + ":" + ev.ResourceID + ":delivery-" + headers.Get(headerWCDeliveryID)
	default:
		ev.OccurredAt = time.Now().UTC()
	}
	return ensureWebhookEvent(ev)
}

// RegisterWebhooks creates the missing topics, each signed with secret
func (a *WooCommerceAdapter) RegisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL, secret string) (*integration.WebhookRegistration, error) {
	if secret == "" {
		return nil, integration.ErrWebhookSecretMissing
	}
	existing, err := a.listWebhooks(ctx, creds, callbackURL)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, w := range existing {
		if w.Status == "" || w.Status == "active" {
			have[w.Topic] = true
		}
	}

	reg := &integration.WebhookRegistration{}
	for _, topic := range woocommerceTopics {
		if have[topic] {
			reg.Skipped = append(reg.Skipped, topic)
			continue
		}
		hook := woocommerceWebhook{Name: "marketsync " + topic, Topic: topic, DeliveryURL: callbackURL, Secret: secret, Status: "active"}
		req, err := a.authed(ctx, creds)
		if err != nil {
			return nil, err
		}
		if _, err := a.client.do(req.SetBody(hook), http.MethodPost, a.apiURL(creds, "webhooks"), nil); err != nil {
			return reg, fmt.Errorf("register %s: %w", topic, err)
		}
		reg.Created = append(reg.Created, topic)
	}
	return reg, nil
}

// DeregisterWebhooks force-deletes every webhook pointing at callbackURL
func (a *WooCommerceAdapter) DeregisterWebhooks(ctx context.Context, creds integration.Credentials, callbackURL string) error {
	existing, err := a.listWebhooks(ctx, creds, callbackURL)
	if err != nil {
		return err
	}
	for _, w := range existing {
		req, err := a.authed(ctx, creds)
		if err != nil {
			return err
		}
		req.SetQueryParam("force", "true")
		if _, err := a.client.do(req, http.MethodDelete, a.apiURL(creds, "webhooks/"+w.ID.String()), nil); err != nil && !errors.Is(err, integration.ErrResourceNotFound) {
			return fmt.Errorf("deregister %s: %w", w.Topic, err)
		}
	}
	return nil
}

func (a *WooCommerceAdapter) listWebhooks(ctx context.Context, creds integration.Credentials, callbackURL string) ([]woocommerceWebhook, error) {
	var all []woocommerceWebhook
	err := a.paginate(ctx, creds, "webhooks", nil, func(body []byte) (int, error) {
		var page []woocommerceWebhook
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, fmt.Errorf("%w: woocommerce webhooks: %v", integration.ErrPlatformInvalidResponse, err)
		}
		for _, w := range page {
			if w.DeliveryURL == callbackURL {
				all = append(all, w)
			}
		}
		return len(page), nil
	})
	return all, err
}

// ---------------------------------------------------------------------------
// Resource reads
// ---------------------------------------------------------------------------

// FetchOrder reads one order
func (a *WooCommerceAdapter) FetchOrder(ctx context.Context, creds integration.Credentials, orderID string) (*integration.RawOrder, error) {
	req, err := a.authed(ctx, creds)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req, http.MethodGet, a.apiURL(creds, "orders/"+orderID), nil)
	if err != nil {
		return nil, err
	}
	return woocommerceRawOrder(resp.Body())
}

// FetchProduct reads one product, priced in the store currency
func (a *WooCommerceAdapter) FetchProduct(ctx context.Context, creds integration.Credentials, productID string) (*integration.RawProduct, error) {
	currency, err := a.currency(ctx, creds)
	if err != nil {
		return nil, err
	}
	req, err := a.authed(ctx, creds)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req, http.MethodGet, a.apiURL(creds, "products/"+productID), nil)
	if err != nil {
		return nil, err
	}
	return woocommerceRawProduct(resp.Body(), currency)
}

// ListOrders pages through orders modified since the cursor
func (a *WooCommerceAdapter) ListOrders(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawOrder, error) {
	var orders []integration.RawOrder
	err := a.paginate(ctx, creds, "orders", since, func(body []byte) (int, error) {
		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, fmt.Errorf("%w: woocommerce orders: %v", integration.ErrPlatformInvalidResponse, err)
		}
		for _, raw := range page {
			o, err := woocommerceRawOrder(raw)
			if err != nil {
				return 0, err
			}
			orders = append(orders, *o)
		}
		return len(page), nil
	})
	return orders, err
}

// ListProducts pages through products modified since the cursor
func (a *WooCommerceAdapter) ListProducts(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawProduct, error) {
	currency, err := a.currency(ctx, creds)
	if err != nil {
		return nil, err
	}
	var products []integration.RawProduct
	err = a.paginate(ctx, creds, "products", since, func(body []byte) (int, error) {
		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, fmt.Errorf("%w: woocommerce products: %v", integration.ErrPlatformInvalidResponse, err)
		}
		for _, raw := range page {
			p, err := woocommerceRawProduct(raw, currency)
			if err != nil {
				return 0, err
			}
			products = append(products, *p)
		}
		return len(page), nil
	})
	return products, err
}

// paginate walks page-numbered collections until X-WP-TotalPages or a short page
func (a *WooCommerceAdapter) paginate(ctx context.Context, creds integration.Credentials, resource string, since *time.Time, page func([]byte) (int, error)) error {
	for n := 1; n <= maxPages; n++ {
		req, err := a.authed(ctx, creds)
		if err != nil {
			return err
		}
		req.SetQueryParam("page", strconv.Itoa(n)).SetQueryParam("per_page", strconv.Itoa(woocommercePageSize))
		if since != nil {
			req.SetQueryParam("modified_after", since.UTC().Format("2006-01-02T15:04:05")).
				SetQueryParam("dates_are_gmt", "true")
		}
		resp, err := a.client.do(req, http.MethodGet, a.apiURL(creds, resource), nil)
		if err != nil {
			return err
		}
		count, err := page(resp.Body())
		if err != nil {
			return err
		}
		total, convErr := strconv.Atoi(resp.Header().Get(headerWCTotalPages))
		if count < woocommercePageSize || (convErr == nil && n >= total) {
			return nil
		}
	}
	return nil
}

// currency returns the store's woocommerce_currency setting, cached per store
func (a *WooCommerceAdapter) currency(ctx context.Context, creds integration.Credentials) (string, error) {
	return a.currencies.get(ctx, integration.MarketplaceWooCommerce, creds.ExternalStoreID, func(ctx context.Context) (string, error) {
		return a.fetchCurrency(ctx, creds)
	})
}

func (a *WooCommerceAdapter) fetchCurrency(ctx context.Context, creds integration.Credentials) (string, error) {
	req, err := a.authed(ctx, creds)
	if err != nil {
		return "", err
	}
	var setting woocommerceSetting
	if _, err := a.client.do(req, http.MethodGet, a.apiURL(creds, "settings/general/woocommerce_currency"), &setting); err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (a *WooCommerceAdapter) apiURL(creds integration.Credentials, path string) string {
	return creds.ExternalStoreID + "/wp-json/wc/v3/" + path
}

func (a *WooCommerceAdapter) authed(ctx context.Context, creds integration.Credentials) (*resty.Request, error) {
	key, secret, err := splitKeyPair(creds.AccessToken)
	if err != nil {
		return nil, err
	}
	return a.client.request(ctx).SetBasicAuth(key, secret), nil
}

// splitKeyPair splits "consumer_key:consumer_secret"
func splitKeyPair(pair string) (string, string, error) {
	key, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
	if !ok || key == "" || secret == "" {
		return "", "", ErrInvalidAPIKeyPair
	}
	return key, secret, nil
}

// normalizeStoreURL lower-cases scheme and host and drops query, fragment and trailing slash
func normalizeStoreURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", ErrInvalidStoreURL
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/"), nil
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

func woocommerceRawOrder(raw json.RawMessage) (*integration.RawOrder, error) {
	var o woocommerceOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: woocommerce order: %v", integration.ErrPlatformInvalidResponse, err)
	}
	total, err := minorUnits(o.Total, o.Currency)
	if err != nil {
		return nil, err
	}
	out := &integration.RawOrder{
		ExternalID:    o.ID.String(),
		StatusCode:    o.Status,
		Currency:      o.Currency,
		TotalMinor:    total,
		CustomerName:  strings.TrimSpace(o.Billing.FirstName + " " + o.Billing.LastName),
		CustomerEmail: o.Billing.Email,
		OrderedAt:     parseTimestamp(o.DateCreatedGMT),
		UpdatedAt:     parseTimestamp(o.DateModifiedGMT),
		FulfilledAt:   timePtr(parseTimestamp(o.DateCompletedGMT)),
		Payload:       raw,
	}
	for _, li := range o.LineItems {
		price, err := minorUnits(li.Price.String(), o.Currency)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, integration.RawOrderItem{
			ExternalID:     li.ID.String(),
			SKU:            li.SKU,
			Title:          li.Name,
			Quantity:       li.Quantity,
			UnitPriceMinor: price,
		})
	}
	return out, nil
}

func woocommerceRawProduct(raw json.RawMessage, currency string) (*integration.RawProduct, error) {
	var p woocommerceProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: woocommerce product: %v", integration.ErrPlatformInvalidResponse, err)
	}
	price, err := minorUnits(p.Price, currency)
	if err != nil {
		return nil, err
	}
	out := &integration.RawProduct{
		ExternalID: p.ID.String(),
		Title:      p.Name,
		SKU:        p.SKU,
		Currency:   currency,
		PriceMinor: price,
		Visible:    p.Status == "publish" && p.CatalogVisibility != "hidden",
		Archived:   p.Status == "trash",
		UpdatedAt:  parseTimestamp(p.DateModifiedGMT),
		Payload:    raw,
	}
	if p.ManageStock && p.StockQuantity != nil {
		qty := *p.StockQuantity
		out.Inventory = &qty
	}
	return out, nil
}
