package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/marketsync/backend/internal/domain/integration"
)

const (
	squareDefaultBase       = "https://connect.squareup.com"
	squareDefaultAPIVersion = "2024-10-17"
	squareOrdersPageSize    = 500
	// squareMaxLocations is the SearchOrders limit on location ids per request
	squareMaxLocations = 10

	headerSquareSignature = "X-Square-Hmacsha256-Signature"
	headerSquareVersion   = "Square-Version"
)

// SquareAdapter implements integration.MarketplaceAdapter for Square
type SquareAdapter struct {
	config ProviderConfig
	client *apiClient
	oauth  *oauthFlow
}

var _ integration.MarketplaceAdapter = (*SquareAdapter)(nil)

// NewSquareAdapter creates a Square adapter.
// The webhook URL is required because Square signs it together with the body.
func NewSquareAdapter(cfg ProviderConfig) (*SquareAdapter, error) {
	if err := cfg.validateOAuth(true); err != nil {
		return nil, err
	}
	if cfg.WebhookURL == "" {
		return nil, ErrConfigMissingWebhookURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = squareDefaultAPIVersion
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"MERCHANT_PROFILE_READ", "ORDERS_READ", "ITEMS_READ", "INVENTORY_READ"}
	}
	client := newAPIClient(integration.MarketplaceSquare, cfg)
	auth := cfg.authURL(squareDefaultBase)
	return &SquareAdapter{
		config: cfg,
		client: client,
		oauth:  newOAuthFlow(integration.MarketplaceSquare, cfg, auth+"/oauth2/authorize", auth+"/oauth2/token", client.httpClient()),
	}, nil
}

// Marketplace returns SQUARE
func (a *SquareAdapter) Marketplace() integration.Marketplace {
	return integration.MarketplaceSquare
}

// Capabilities describes Square: expiring tokens with a static refresh token.
// Webhook subscriptions belong to the application, not the merchant: one subscription
// created in the developer console signs every merchant's events with the same key.
func (a *SquareAdapter) Capabilities() integration.AdapterCapabilities {
	return integration.AdapterCapabilities{
		HasWebhooks:  true,
		TokensExpire: true,
		SecretScope:  integration.SecretScopeApp,
		DedupPolicy:  integration.DedupAfterHandling,
		RetryPolicy:  integration.RetrySane,
	}
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

// AuthorizeURL builds the consent URL
func (a *SquareAdapter) AuthorizeURL(state string, _ *integration.PKCEChallenge, _ string) (string, error) {
	return a.oauth.authCodeURL(state, nil), nil
}

// ExchangeCode trades the code for tokens; Square's token endpoint takes a JSON body
func (a *SquareAdapter) ExchangeCode(ctx context.Context, req integration.CodeExchange) (*integration.TokenSet, error) {
	tok, err := a.token(ctx, "exchange", squareTokenRequest{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		GrantType:    "authorization_code",
		Code:         req.Code,
		RedirectURI:  firstNonEmpty(req.RedirectURL, a.config.RedirectURL),
	})
	if err != nil {
		return nil, err
	}
	set := squareTokenSet(tok)
	set.ExternalStoreID = tok.MerchantID
	set.ExternalDisplayName = tok.MerchantID
	if m, err := a.merchant(ctx, integration.Credentials{AccessToken: tok.AccessToken}); err == nil {
		set.ExternalDisplayName = firstNonEmpty(m.Merchant.BusinessName, tok.MerchantID)
	}
	return set, nil
}

// RefreshToken renews the access token; the refresh token itself is static
func (a *SquareAdapter) RefreshToken(ctx context.Context, refreshToken string) (*integration.TokenSet, error) {
	if refreshToken == "" {
		return nil, integration.NewCredentialError("refresh", false, integration.ErrNoRefreshToken)
	}
	tok, err := a.token(ctx, "refresh", squareTokenRequest{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, err
	}
	set := squareTokenSet(tok)
	if set.RefreshToken == refreshToken {
		set.RefreshToken = ""
	}
	return set, nil
}

func (a *SquareAdapter) token(ctx context.Context, op string, body squareTokenRequest) (*squareTokenResponse, error) {
	var out squareTokenResponse
	req := a.client.request(ctx).SetHeader(headerSquareVersion, a.config.APIVersion).SetBody(body)
	if _, err := a.client.do(req, http.MethodPost, a.config.authURL(squareDefaultBase)+"/oauth2/token", &out); err != nil {
		retryable := !errors.Is(err, integration.ErrPlatformAuthFailed) && !errors.Is(err, integration.ErrPlatformRequestFailed)
		return nil, integration.NewCredentialError(op, retryable, err)
	}
	if out.AccessToken == "" {
		return nil, integration.NewCredentialError(op, false, fmt.Errorf("%w: square token response without access_token", integration.ErrPlatformInvalidResponse))
	}
	return &out, nil
}

func squareTokenSet(tok *squareTokenResponse) *integration.TokenSet {
	return &integration.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    timePtr(parseTimestamp(tok.ExpiresAt)),
	}
}

func (a *SquareAdapter) merchant(ctx context.Context, creds integration.Credentials) (*squareMerchantEnvelope, error) {
	var m squareMerchantEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.apiURL("merchants/me"), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// IdentifySource returns the merchant id of the notification
func (a *SquareAdapter) IdentifySource(_ http.Header, rawBody []byte) (string, error) {
	var body squareWebhookBody
	if err := json.Unmarshal(rawBody, &body); err != nil || body.MerchantID == "" {
		return "", integration.ErrUnidentifiedSource
	}
	return body.MerchantID, nil
}

// VerifyWebhookSignature checks base64(HMAC-SHA256(notification URL + body)) keyed by the subscription key
func (a *SquareAdapter) VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool {
	return verifyHMACBase64(headers.Get(headerSquareSignature), secret, []byte(a.config.WebhookURL), rawBody)
}

// ParseWebhook extracts the event type, native event id and order id
func (a *SquareAdapter) ParseWebhook(_ http.Header, rawBody []byte) (*integration.WebhookEvent, error) {
	var body squareWebhookBody
	if err := decodeWebhookBody(rawBody, &body); err != nil {
		return nil, err
	}

	ev := &integration.WebhookEvent{
		EventID:    body.EventID,
		Topic:      body.Type,
		OccurredAt: orNow(parseTimestamp(body.CreatedAt)),
		Source:     body.MerchantID,
	}
	switch {
	case body.Type == "catalog.version.updated":
		ev.ResourceKind = integration.ResourceCatalog
	case body.Type == "oauth.authorization.revoked":
		ev.ResourceKind = integration.ResourceUninstall
	case strings.HasPrefix(body.Type, "order."):
		ev.ResourceKind = integration.ResourceOrder
		ev.ResourceID = body.Data.ID
		for _, obj := range body.Data.Object {
			if ev.ResourceID == "" {
				ev.ResourceID = obj.OrderID
			}
		}
	case body.Type == "":
		return nil, fmt.Errorf("%w: missing event type", integration.ErrMalformedPayload)
	default:
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedTopic, body.Type)
	}
	return ensureWebhookEvent(ev)
}

// RegisterWebhooks records nothing: the application's subscription already covers the merchant
func (a *SquareAdapter) RegisterWebhooks(context.Context, integration.Credentials, string, string) (*integration.WebhookRegistration, error) {
	return &integration.WebhookRegistration{}, nil
}

// DeregisterWebhooks is a no-op. Deleting the shared subscription would silence every other merchant.
func (a *SquareAdapter) DeregisterWebhooks(context.Context, integration.Credentials, string) error {
	return nil
}

// ---------------------------------------------------------------------------
// Resource reads
// ---------------------------------------------------------------------------

// FetchOrder reads one order
func (a *SquareAdapter) FetchOrder(ctx context.Context, creds integration.Credentials, orderID string) (*integration.RawOrder, error) {
	var env squareOrderEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.apiURL("orders/"+orderID), &env); err != nil {
		return nil, err
	}
	return squareRawOrder(env.Order)
}

// FetchProduct reads one catalog item and its in-stock counts
func (a *SquareAdapter) FetchProduct(ctx context.Context, creds integration.Credentials, productID string) (*integration.RawProduct, error) {
	var env squareCatalogObjectEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.apiURL("catalog/object/"+productID), &env); err != nil {
		return nil, err
	}
	products, err := a.withInventory(ctx, creds, []json.RawMessage{env.Object})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: square object %s is not an item", integration.ErrResourceNotFound, productID)
	}
	return &products[0], nil
}

// ListOrders searches orders updated since the cursor across every merchant location
func (a *SquareAdapter) ListOrders(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawOrder, error) {
	var locs squareLocationsEnvelope
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.apiURL("locations"), &locs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(locs.Locations))
	for _, l := range locs.Locations {
		ids = append(ids, l.ID)
	}

	var orders []integration.RawOrder
	for start := 0; start < len(ids); start += squareMaxLocations {
		end := min(start+squareMaxLocations, len(ids))
		search := squareSearchOrdersRequest{
			LocationIDs: ids[start:end],
			Limit:       squareOrdersPageSize,
			Query:       squareOrdersQuery{Sort: squareOrdersSort{SortField: "UPDATED_AT", SortOrder: "ASC"}},
		}
		if since != nil {
			search.Query.Filter = &squareOrdersFilter{}
			search.Query.Filter.DateTimeFilter.UpdatedAt.StartAt = since.UTC().Format(time.RFC3339)
		}
		for page := 0; page < maxPages; page++ {
			var resp squareSearchOrdersResponse
			if _, err := a.client.do(a.authed(ctx, creds).SetBody(search), http.MethodPost, a.apiURL("orders/search"), &resp); err != nil {
				return nil, err
			}
			for _, raw := range resp.Orders {
				o, err := squareRawOrder(raw)
				if err != nil {
					return nil, err
				}
				orders = append(orders, *o)
			}
			if resp.Cursor == "" {
				break
			}
			search.Cursor = resp.Cursor
		}
	}
	return orders, nil
}

// ListProducts searches catalog items changed since the cursor
func (a *SquareAdapter) ListProducts(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawProduct, error) {
	search := squareSearchCatalogRequest{ObjectTypes: []string{"ITEM"}}
	if since != nil {
		search.BeginTime = since.UTC().Format(time.RFC3339)
	}
	var products []integration.RawProduct
	for page := 0; page < maxPages; page++ {
		var resp squareSearchCatalogResponse
		if _, err := a.client.do(a.authed(ctx, creds).SetBody(search), http.MethodPost, a.apiURL("catalog/search"), &resp); err != nil {
			return nil, err
		}
		batch, err := a.withInventory(ctx, creds, resp.Objects)
		if err != nil {
			return nil, err
		}
		products = append(products, batch...)
		if resp.Cursor == "" {
			break
		}
		search.Cursor = resp.Cursor
	}
	return products, nil
}

// withInventory maps catalog items and fills in-stock counts for tracked variations
func (a *SquareAdapter) withInventory(ctx context.Context, creds integration.Credentials, objects []json.RawMessage) ([]integration.RawProduct, error) {
	type item struct {
		product *integration.RawProduct
		tracked []string
	}
	items := make([]item, 0, len(objects))
	var variationIDs []string
	for _, raw := range objects {
		p, tracked, err := squareRawProduct(raw)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		items = append(items, item{product: p, tracked: tracked})
		variationIDs = append(variationIDs, tracked...)
	}

	counts := map[string]int{}
	if len(variationIDs) > 0 {
		var inv squareInventoryResponse
		body := squareInventoryRequest{CatalogObjectIDs: variationIDs, States: []string{"IN_STOCK"}}
		if _, err := a.client.do(a.authed(ctx, creds).SetBody(body), http.MethodPost, a.apiURL("inventory/counts/batch-retrieve"), &inv); err != nil {
			return nil, err
		}
		for _, c := range inv.Counts {
			q, err := decimal.NewFromString(c.Quantity)
			if err != nil {
				continue
			}
			counts[c.CatalogObjectID] += int(q.IntPart())
		}
	}

	out := make([]integration.RawProduct, 0, len(items))
	for _, it := range items {
		if len(it.tracked) > 0 {
			total := 0
			for _, id := range it.tracked {
				total += counts[id]
			}
			it.product.Inventory = &total
		}
		out = append(out, *it.product)
	}
	return out, nil
}

func (a *SquareAdapter) apiURL(path string) string {
	return a.config.baseURL(squareDefaultBase) + "/v2/" + path
}

func (a *SquareAdapter) authed(ctx context.Context, creds integration.Credentials) *resty.Request {
	return a.client.request(ctx).
		SetHeader(headerSquareVersion, a.config.APIVersion).
		SetAuthToken(creds.AccessToken)
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

func squareRawOrder(raw json.RawMessage) (*integration.RawOrder, error) {
	var o squareOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: square order: %v", integration.ErrPlatformInvalidResponse, err)
	}
	out := &integration.RawOrder{
		ExternalID: o.ID,
		StatusCode: squareStatusCode(&o),
		Currency:   o.TotalMoney.Currency,
		TotalMinor: o.TotalMoney.Amount,
		OrderedAt:  parseTimestamp(o.CreatedAt),
		UpdatedAt:  parseTimestamp(o.UpdatedAt),
		Payload:    raw,
	}
	if strings.EqualFold(o.State, "COMPLETED") {
		latest := parseTimestamp(o.ClosedAt)
		for _, f := range o.Fulfillments {
			var at time.Time
			switch {
			case f.ShipmentDetails != nil:
				at = parseTimestamp(f.ShipmentDetails.ShippedAt)
			case f.PickupDetails != nil:
				at = parseTimestamp(f.PickupDetails.PickedUpAt)
			}
			if at.After(latest) {
				latest = at
			}
		}
		out.FulfilledAt = timePtr(latest)
	}
	for _, li := range o.LineItems {
		qty := 0
		if q, err := decimal.NewFromString(li.Quantity); err == nil {
			qty = int(q.IntPart())
		}
		out.Items = append(out.Items, integration.RawOrderItem{
			ExternalID:     firstNonEmpty(li.CatalogObjectID, li.UID),
			Title:          li.Name,
			Quantity:       qty,
			UnitPriceMinor: li.BasePriceMoney.Amount,
		})
	}
	return out, nil
}

// squareStatusCode reports "refunded" once completed refunds cover the total
func squareStatusCode(o *squareOrder) string {
	var refunded int64
	for _, r := range o.Refunds {
		if strings.EqualFold(r.Status, "COMPLETED") {
			refunded += r.AmountMoney.Amount
		}
	}
	if o.TotalMoney.Amount > 0 && refunded >= o.TotalMoney.Amount {
		return "refunded"
	}
	return strings.ToLower(o.State)
}

// squareRawProduct maps an ITEM object; other object types yield nil.
// It also returns the ids of variations whose stock is tracked.
func squareRawProduct(raw json.RawMessage) (*integration.RawProduct, []string, error) {
	var obj squareCatalogObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil, fmt.Errorf("%w: square catalog object: %v", integration.ErrPlatformInvalidResponse, err)
	}
	if obj.Type != "ITEM" || obj.ItemData == nil {
		return nil, nil, nil
	}
	out := &integration.RawProduct{
		ExternalID: obj.ID,
		Title:      obj.ItemData.Name,
		Visible:    !obj.IsDeleted,
		Archived:   obj.IsDeleted || obj.ItemData.IsArchived,
		UpdatedAt:  parseTimestamp(obj.UpdatedAt),
		Payload:    raw,
	}
	var tracked []string
	for i, v := range obj.ItemData.Variations {
		if v.ItemVariationData == nil {
			continue
		}
		if i == 0 {
			out.SKU = v.ItemVariationData.SKU
			out.PriceMinor = v.ItemVariationData.PriceMoney.Amount
			out.Currency = v.ItemVariationData.PriceMoney.Currency
		}
		if v.ItemVariationData.TrackInventory {
			tracked = append(tracked, v.ID)
		}
	}
	return out, tracked, nil
}
