package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/marketsync/backend/internal/domain/integration"
)

const (
	etsyDefaultAPIBase  = "https://openapi.etsy.com"
	etsyDefaultAuthURL  = "https://www.etsy.com/oauth/connect"
	etsyDefaultTokenURL = "https://api.etsy.com/v3/public/oauth/token"
	etsyPageSize        = 100
)

// etsyListingStates are queried separately because the listings endpoint filters by one state
var etsyListingStates = []string{"active", "inactive", "sold_out", "expired"}

// EtsyAdapter implements integration.MarketplaceAdapter for the Etsy Open API v3.
// Etsy has no webhooks; connections are reconciled on every scheduler tick.
type EtsyAdapter struct {
	config ProviderConfig
	client *apiClient
	oauth  *oauthFlow
}

var _ integration.MarketplaceAdapter = (*EtsyAdapter)(nil)

// NewEtsyAdapter creates an Etsy adapter
func NewEtsyAdapter(cfg ProviderConfig) (*EtsyAdapter, error) {
	// Etsy's PKCE flow is a public-client flow; the secret is optional
	if err := cfg.validateOAuth(false); err != nil {
		return nil, err
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"transactions_r", "listings_r", "shops_r"}
	}
	authURL, tokenURL := etsyDefaultAuthURL, etsyDefaultTokenURL
	if cfg.AuthBaseURL != "" {
		authURL, tokenURL = cfg.AuthBaseURL+"/oauth/connect", cfg.AuthBaseURL+"/v3/public/oauth/token"
	}
	client := newAPIClient(integration.MarketplaceEtsy, cfg)
	return &EtsyAdapter{
		config: cfg,
		client: client,
		oauth:  newOAuthFlow(integration.MarketplaceEtsy, cfg, authURL, tokenURL, client.httpClient()),
	}, nil
}

// Marketplace returns ETSY
func (a *EtsyAdapter) Marketplace() integration.Marketplace {
	return integration.MarketplaceEtsy
}

// Capabilities describes Etsy: PKCE, hourly tokens, rotating refresh tokens, no webhooks
func (a *EtsyAdapter) Capabilities() integration.AdapterCapabilities {
	return integration.AdapterCapabilities{
		UsesPKCE:            true,
		TokensExpire:        true,
		RotatesRefreshToken: true,
		SecretScope:         integration.SecretScopeApp,
		DedupPolicy:         integration.DedupAfterHandling,
		RetryPolicy:         integration.RetrySane,
	}
}

// AuthorizeURL builds the consent URL; Etsy rejects requests without an S256 challenge
func (a *EtsyAdapter) AuthorizeURL(state string, pkce *integration.PKCEChallenge, _ string) (string, error) {
	if pkce == nil {
		return "", fmt.Errorf("%w: etsy requires PKCE", integration.ErrAuthStateInvalid)
	}
	return a.oauth.authCodeURL(state, pkce), nil
}

// ExchangeCode redeems the code with the PKCE verifier and resolves the seller's shop
func (a *EtsyAdapter) ExchangeCode(ctx context.Context, req integration.CodeExchange) (*integration.TokenSet, error) {
	if req.CodeVerifier == "" {
		return nil, fmt.Errorf("%w: missing PKCE verifier", integration.ErrAuthStateInvalid)
	}
	tok, err := a.oauth.exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	set := tokenSetFrom(tok)

	// access tokens are prefixed with the numeric user id: "<user_id>.<token>"
	userID, _, ok := strings.Cut(set.AccessToken, ".")
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: etsy token without user id prefix", integration.ErrPlatformInvalidResponse)
	}
	var shop etsyShop
	creds := integration.Credentials{AccessToken: set.AccessToken}
	if _, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.apiURL("users/"+userID+"/shops"), &shop); err != nil {
		return nil, fmt.Errorf("resolve shop: %w", err)
	}
	set.ExternalStoreID = shop.ShopID.String()
	set.ExternalDisplayName = firstNonEmpty(shop.ShopName, set.ExternalStoreID)
	return set, nil
}

// RefreshToken redeems the current refresh token; Etsy rotates it on every use
func (a *EtsyAdapter) RefreshToken(ctx context.Context, refreshToken string) (*integration.TokenSet, error) {
	return a.oauth.refresh(ctx, refreshToken)
}

// IdentifySource is not supported: Etsy sends no webhooks
func (a *EtsyAdapter) IdentifySource(http.Header, []byte) (string, error) {
	return "", integration.ErrOperationNotSupported
}

// VerifyWebhookSignature always fails: Etsy sends no webhooks
func (a *EtsyAdapter) VerifyWebhookSignature([]byte, http.Header, string) bool {
	return false
}

// ParseWebhook is not supported: Etsy sends no webhooks
func (a *EtsyAdapter) ParseWebhook(http.Header, []byte) (*integration.WebhookEvent, error) {
	return nil, integration.ErrOperationNotSupported
}

// RegisterWebhooks is not supported: Etsy sends no webhooks
func (a *EtsyAdapter) RegisterWebhooks(context.Context, integration.Credentials, string, string) (*integration.WebhookRegistration, error) {
	return nil, integration.ErrOperationNotSupported
}

// DeregisterWebhooks is a no-op
func (a *EtsyAdapter) DeregisterWebhooks(context.Context, integration.Credentials, string) error {
	return nil
}

// ---------------------------------------------------------------------------
// Resource reads
// ---------------------------------------------------------------------------

// FetchOrder reads one shop receipt
func (a *EtsyAdapter) FetchOrder(ctx context.Context, creds integration.Credentials, orderID string) (*integration.RawOrder, error) {
	resp, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.apiURL("shops/"+creds.ExternalStoreID+"/receipts/"+orderID), nil)
	if err != nil {
		return nil, err
	}
	return etsyRawOrder(resp.Body())
}

// FetchProduct reads one listing
func (a *EtsyAdapter) FetchProduct(ctx context.Context, creds integration.Credentials, productID string) (*integration.RawProduct, error) {
	resp, err := a.client.do(a.authed(ctx, creds), http.MethodGet, a.apiURL("listings/"+productID), nil)
	if err != nil {
		return nil, err
	}
	return etsyRawProduct(resp.Body())
}

// ListOrders pages through receipts modified since the cursor
func (a *EtsyAdapter) ListOrders(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawOrder, error) {
	var orders []integration.RawOrder
	err := a.paginate(ctx, creds, "shops/"+creds.ExternalStoreID+"/receipts", func(req *resty.Request) {
		if since != nil {
			req.SetQueryParam("min_last_modified", strconv.FormatInt(since.Unix(), 10))
		}
	}, func(raw json.RawMessage) error {
		o, err := etsyRawOrder(raw)
		if err != nil {
			return err
		}
		orders = append(orders, *o)
		return nil
	})
	return orders, err
}

// ListProducts pages through the shop's listings in every tracked state.
// The listings endpoint has no modification filter, so the cursor is applied locally.
func (a *EtsyAdapter) ListProducts(ctx context.Context, creds integration.Credentials, since *time.Time) ([]integration.RawProduct, error) {
	var products []integration.RawProduct
	for _, state := range etsyListingStates {
		err := a.paginate(ctx, creds, "shops/"+creds.ExternalStoreID+"/listings", func(req *resty.Request) {
			req.SetQueryParam("state", state)
		}, func(raw json.RawMessage) error {
			p, err := etsyRawProduct(raw)
			if err != nil {
				return err
			}
			if since != nil && !p.UpdatedAt.IsZero() && p.UpdatedAt.Before(*since) {
				return nil
			}
			products = append(products, *p)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return products, nil
}

func (a *EtsyAdapter) paginate(ctx context.Context, creds integration.Credentials, path string, filter func(*resty.Request), each func(json.RawMessage) error) error {
	for page, offset := 0, 0; page < maxPages; page++ {
		req := a.authed(ctx, creds).
			SetQueryParam("limit", strconv.Itoa(etsyPageSize)).
			SetQueryParam("offset", strconv.Itoa(offset))
		filter(req)

		var env etsyPage
		if _, err := a.client.do(req, http.MethodGet, a.apiURL(path), &env); err != nil {
			return err
		}
		for _, raw := range env.Results {
			if err := each(raw); err != nil {
				return err
			}
		}
		offset += len(env.Results)
		if len(env.Results) == 0 || offset >= env.Count {
			return nil
		}
	}
	return nil
}

func (a *EtsyAdapter) apiURL(path string) string {
	return a.config.baseURL(etsyDefaultAPIBase) + "/v3/application/" + path
}

func (a *EtsyAdapter) authed(ctx context.Context, creds integration.Credentials) *resty.Request {
	return a.client.request(ctx).
		SetHeader("x-api-key", a.config.ClientID).
		SetAuthToken(creds.AccessToken)
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

func etsyRawOrder(raw json.RawMessage) (*integration.RawOrder, error) {
	var r etsyReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: etsy receipt: %v", integration.ErrPlatformInvalidResponse, err)
	}
	out := &integration.RawOrder{
		ExternalID:    r.ReceiptID.String(),
		StatusCode:    strings.ToLower(r.Status),
		Currency:      r.Grandtotal.CurrencyCode,
		TotalMinor:    r.Grandtotal.minor(),
		CustomerName:  r.Name,
		CustomerEmail: r.BuyerEmail,
		OrderedAt:     unixTime(r.CreateTimestamp),
		UpdatedAt:     unixTime(r.UpdatedTimestamp),
		Payload:       raw,
	}
	if r.IsShipped {
		var latest int64
		for _, s := range r.Shipments {
			if s.ShipmentNotificationTimestamp > latest {
				latest = s.ShipmentNotificationTimestamp
			}
		}
		out.FulfilledAt = timePtr(unixTime(latest))
	}
	for _, tx := range r.Transactions {
		out.Items = append(out.Items, integration.RawOrderItem{
			ExternalID:     tx.TransactionID.String(),
			SKU:            tx.SKU,
			Title:          tx.Title,
			Quantity:       tx.Quantity,
			UnitPriceMinor: tx.Price.minor(),
		})
	}
	return out, nil
}

func etsyRawProduct(raw json.RawMessage) (*integration.RawProduct, error) {
	var l etsyListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("%w: etsy listing: %v", integration.ErrPlatformInvalidResponse, err)
	}
	qty := l.Quantity
	if l.State == "sold_out" {
		qty = 0
	}
	out := &integration.RawProduct{
		ExternalID: l.ListingID.String(),
		Title:      l.Title,
		Currency:   l.Price.CurrencyCode,
		PriceMinor: l.Price.minor(),
		Visible:    l.State == "active" || l.State == "sold_out",
		Archived:   l.State == "expired",
		Inventory:  &qty,
		UpdatedAt:  unixTime(l.UpdatedTimestamp),
		Payload:    raw,
	}
	if len(l.SKUs) > 0 {
		out.SKU = l.SKUs[0]
	}
	return out, nil
}
