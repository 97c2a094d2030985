package ecommerce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsync/backend/internal/domain/integration"
)

const squareWebhookURL = "https://sync.example.com/webhooks/square"

func newSquareTestAdapter(t *testing.T, baseURL string) *SquareAdapter {
	t.Helper()
	a, err := NewSquareAdapter(ProviderConfig{
		ClientID:     "sq0idp-app",
		ClientSecret: "sq0csp-secret",
		APIBaseURL:   baseURL,
		AuthBaseURL:  baseURL,
		RedirectURL:  "https://sync.example.com/oauth/square/callback",
		WebhookURL:   squareWebhookURL,
	})
	require.NoError(t, err)
	return a
}

func squareCreds() integration.Credentials {
	return integration.Credentials{AccessToken: "EAAA-token", ExternalStoreID: "MLX1"}
}

func TestNewSquareAdapter_RequiresWebhookURL(t *testing.T) {
	_, err := NewSquareAdapter(ProviderConfig{ClientID: "c", ClientSecret: "s", RedirectURL: "https://x"})
	assert.ErrorIs(t, err, ErrConfigMissingWebhookURL)
}

func TestSquareAdapter_ExchangeAndRefresh(t *testing.T) {
	var grants []squareTokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			var req squareTokenRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			grants = append(grants, req)
			if req.GrantType == "refresh_token" && req.RefreshToken == "revoked" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"access_token":"EAAA-new","refresh_token":"EQAA-static","expires_at":"2030-01-01T00:00:00Z","merchant_id":"MLX1"}`)
		case "/v2/merchants/me":
			assert.Equal(t, "Bearer EAAA-new", r.Header.Get("Authorization"))
			assert.Equal(t, squareDefaultAPIVersion, r.Header.Get(headerSquareVersion))
			_, _ = io.WriteString(w, `{"merchant":{"id":"MLX1","business_name":"Corner Cafe","currency":"USD"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	a := newSquareTestAdapter(t, srv.URL)

	set, err := a.ExchangeCode(context.Background(), integration.CodeExchange{Code: "sq-code"})
	require.NoError(t, err)
	assert.Equal(t, "MLX1", set.ExternalStoreID)
	assert.Equal(t, "Corner Cafe", set.ExternalDisplayName)
	assert.Equal(t, "EQAA-static", set.RefreshToken)
	require.NotNil(t, set.ExpiresAt)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), *set.ExpiresAt)

	refreshed, err := a.RefreshToken(context.Background(), "EQAA-static")
	require.NoError(t, err)
	assert.Equal(t, "EAAA-new", refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken, "a static refresh token is reported as not rotated")

	_, err = a.RefreshToken(context.Background(), "revoked")
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrPlatformAuthFailed)
	assert.False(t, integration.IsRetryable(err))

	require.Len(t, grants, 3)
	assert.Equal(t, "authorization_code", grants[0].GrantType)
	assert.Equal(t, "https://sync.example.com/oauth/square/callback", grants[0].RedirectURI)
}

func TestSquareAdapter_Webhooks(t *testing.T) {
	a := newSquareTestAdapter(t, "http://unused")
	body := []byte(`{"merchant_id":"MLX1","type":"order.updated","event_id":"e9a6a3b4-1111","created_at":"2024-04-01T10:00:00.5Z","data":{"type":"order_updated","id":"ORD-77","object":{"order_updated":{"order_id":"ORD-77","state":"OPEN"}}}}`)

	headers := http.Header{}
	headers.Set(headerSquareSignature, signHMACBase64("sig-key", []byte(squareWebhookURL), body))

	t.Run("signature covers notification url and body", func(t *testing.T) {
		assert.True(t, a.VerifyWebhookSignature(body, headers, "sig-key"))

		bodyOnly := http.Header{}
		bodyOnly.Set(headerSquareSignature, signHMACBase64("sig-key", body))
		assert.False(t, a.VerifyWebhookSignature(body, bodyOnly, "sig-key"))
	})

	t.Run("order event", func(t *testing.T) {
		src, err := a.IdentifySource(headers, body)
		require.NoError(t, err)
		assert.Equal(t, "MLX1", src)

		ev, err := a.ParseWebhook(headers, body)
		require.NoError(t, err)
		assert.Equal(t, "e9a6a3b4-1111", ev.EventID)
		assert.Equal(t, integration.ResourceOrder, ev.ResourceKind)
		assert.Equal(t, "ORD-77", ev.ResourceID)
	})

	t.Run("order id from object when data id is absent", func(t *testing.T) {
		ev, err := a.ParseWebhook(headers, []byte(`{"merchant_id":"MLX1","type":"order.created","event_id":"e2","data":{"object":{"order_created":{"order_id":"ORD-78"}}}}`))
		require.NoError(t, err)
		assert.Equal(t, "ORD-78", ev.ResourceID)
	})

	t.Run("catalog event carries no item", func(t *testing.T) {
		ev, err := a.ParseWebhook(headers, []byte(`{"merchant_id":"MLX1","type":"catalog.version.updated","event_id":"e3","data":{"type":"catalog","object":{"catalog_version":{"updated_at":"2024-04-01T10:00:00Z"}}}}`))
		require.NoError(t, err)
		assert.Equal(t, integration.ResourceCatalog, ev.ResourceKind)
		assert.Empty(t, ev.ResourceID)
	})

	t.Run("revocation", func(t *testing.T) {
		ev, err := a.ParseWebhook(headers, []byte(`{"merchant_id":"MLX1","type":"oauth.authorization.revoked","event_id":"e4"}`))
		require.NoError(t, err)
		assert.Equal(t, integration.ResourceUninstall, ev.ResourceKind)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := a.ParseWebhook(headers, []byte(`{"merchant_id":"MLX1","type":"payment.created","event_id":"e5"}`))
		assert.ErrorIs(t, err, integration.ErrUnsupportedTopic)
	})
}

func TestSquareAdapter_WebhookKeyIsApplicationScoped(t *testing.T) {
	a := newSquareTestAdapter(t, "http://unused")
	caps := a.Capabilities()
	assert.True(t, caps.HasWebhooks)
	assert.Equal(t, integration.SecretScopeApp, caps.SecretScope)

	// One subscription serves every merchant; connecting or disconnecting one must not touch it
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected provider call %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	offline := newSquareTestAdapter(t, srv.URL)

	reg, err := offline.RegisterWebhooks(context.Background(), squareCreds(), squareWebhookURL, "")
	require.NoError(t, err)
	assert.Empty(t, reg.SigningSecret)
	assert.Empty(t, reg.Created)
	require.NoError(t, offline.DeregisterWebhooks(context.Background(), squareCreds(), squareWebhookURL))

	// The same key verifies deliveries for two different merchants
	for _, merchant := range []string{"MLX1", "MLX2"} {
		body := []byte(`{"merchant_id":"` + merchant + `","type":"order.updated","event_id":"evt-` + merchant + `","data":{"id":"ORD-1"}}`)
		headers := http.Header{}
		headers.Set(headerSquareSignature, signHMACBase64("app-signature-key", []byte(squareWebhookURL), body))
		assert.True(t, a.VerifyWebhookSignature(body, headers, "app-signature-key"), merchant)
	}
}

func TestSquareAdapter_Orders(t *testing.T) {
	orderJSON := `{"id":"ORD-77","state":"COMPLETED","total_money":{"amount":1250,"currency":"USD"},
		"created_at":"2024-04-01T09:00:00Z","updated_at":"2024-04-01T11:00:00Z","closed_at":"2024-04-01T10:30:00Z",
		"line_items":[{"uid":"li1","catalog_object_id":"VAR-1","name":"Latte","quantity":"2","base_price_money":{"amount":625,"currency":"USD"}}],
		"fulfillments":[{"state":"COMPLETED","pickup_details":{"picked_up_at":"2024-04-01T10:45:00Z"}}]}`

	var searches []squareSearchOrdersRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/orders/ORD-77":
			_, _ = io.WriteString(w, `{"order":`+orderJSON+`}`)
		case "/v2/locations":
			_, _ = io.WriteString(w, `{"locations":[{"id":"L1"},{"id":"L2"}]}`)
		case "/v2/orders/search":
			var req squareSearchOrdersRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			searches = append(searches, req)
			if req.Cursor == "" {
				_, _ = io.WriteString(w, `{"orders":[`+orderJSON+`],"cursor":"next"}`)
				return
			}
			_, _ = io.WriteString(w, `{"orders":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	a := newSquareTestAdapter(t, srv.URL)

	order, err := a.FetchOrder(context.Background(), squareCreds(), "ORD-77")
	require.NoError(t, err)
	assert.Equal(t, "completed", order.StatusCode)
	assert.Equal(t, int64(1250), order.TotalMinor)
	require.NotNil(t, order.FulfilledAt)
	assert.Equal(t, time.Date(2024, 4, 1, 10, 45, 0, 0, time.UTC), *order.FulfilledAt)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	since := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	orders, err := a.ListOrders(context.Background(), squareCreds(), &since)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	require.Len(t, searches, 2)
	assert.Equal(t, []string{"L1", "L2"}, searches[0].LocationIDs)
	require.NotNil(t, searches[0].Query.Filter)
	assert.Equal(t, "2024-04-01T00:00:00Z", searches[0].Query.Filter.DateTimeFilter.UpdatedAt.StartAt)
	assert.Equal(t, "next", searches[1].Cursor)
}

func TestSquareStatusCode(t *testing.T) {
	o := &squareOrder{State: "COMPLETED", TotalMoney: squareMoney{Amount: 1000}}
	assert.Equal(t, "completed", squareStatusCode(o))

	o.Refunds = []squareRefund{{Status: "COMPLETED", AmountMoney: squareMoney{Amount: 400}}, {Status: "PENDING", AmountMoney: squareMoney{Amount: 600}}}
	assert.Equal(t, "completed", squareStatusCode(o))

	o.Refunds[1].Status = "COMPLETED"
	assert.Equal(t, "refunded", squareStatusCode(o))
}

func TestSquareAdapter_ProductsWithInventory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/catalog/search":
			_, _ = io.WriteString(w, `{"objects":[
				{"type":"ITEM","id":"ITEM-1","updated_at":"2024-04-01T00:00:00Z","item_data":{"name":"Beans","variations":[
					{"type":"ITEM_VARIATION","id":"VAR-1","item_variation_data":{"sku":"B-250","price_money":{"amount":1400,"currency":"USD"},"track_inventory":true}},
					{"type":"ITEM_VARIATION","id":"VAR-2","item_variation_data":{"sku":"B-1K","price_money":{"amount":4200,"currency":"USD"},"track_inventory":true}}]}},
				{"type":"ITEM","id":"ITEM-2","item_data":{"name":"Gift","is_archived":true,"variations":[
					{"type":"ITEM_VARIATION","id":"VAR-3","item_variation_data":{"price_money":{"amount":500,"currency":"USD"}}}]}}
			]}`)
		case "/v2/inventory/counts/batch-retrieve":
			var req squareInventoryRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"VAR-1", "VAR-2"}, req.CatalogObjectIDs)
			_, _ = io.WriteString(w, `{"counts":[{"catalog_object_id":"VAR-1","quantity":"3"},{"catalog_object_id":"VAR-2","quantity":"1.5"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	products, err := newSquareTestAdapter(t, srv.URL).ListProducts(context.Background(), squareCreds(), nil)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "B-250", products[0].SKU)
	assert.Equal(t, int64(1400), products[0].PriceMinor)
	require.NotNil(t, products[0].Inventory)
	assert.Equal(t, 4, *products[0].Inventory)
	assert.True(t, products[1].Archived)
	assert.Nil(t, products[1].Inventory)
}
