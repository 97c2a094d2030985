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

func newBigCommerceTestAdapter(t *testing.T, baseURL string) *BigCommerceAdapter {
	t.Helper()
	a, err := NewBigCommerceAdapter(ProviderConfig{
		ClientID:     "bc-client",
		ClientSecret: "bc-secret",
		APIBaseURL:   baseURL,
		AuthBaseURL:  baseURL,
		RedirectURL:  "https://sync.example.com/oauth/bigcommerce/callback",
	})
	require.NoError(t, err)
	return a
}

func bigcommerceCreds() integration.Credentials {
	return integration.Credentials{AccessToken: "bc-token", ExternalStoreID: "abc123"}
}

func TestBigCommerceAdapter_Capabilities(t *testing.T) {
	caps := newBigCommerceTestAdapter(t, "http://unused").Capabilities()
	assert.Equal(t, integration.SecretScopeConnection, caps.SecretScope)
	assert.Equal(t, integration.DedupBeforeHandling, caps.DedupPolicy)
	assert.Equal(t, integration.RetryAggressive, caps.RetryPolicy)
}

func TestBigCommerceAdapter_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "stores/abc123", r.PostForm.Get("context"))
			assert.Equal(t, "install-code", r.PostForm.Get("code"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"bc-token","scope":"store_v2_orders_read_only","context":"stores/abc123"}`)
		case "/stores/abc123/v2/store":
			assert.Equal(t, "bc-token", r.Header.Get(headerBigCommerceToken))
			_, _ = io.WriteString(w, `{"name":"Plant Shop","currency":"USD"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newBigCommerceTestAdapter(t, srv.URL)
	set, err := a.ExchangeCode(context.Background(), integration.CodeExchange{
		Code:   "install-code",
		Params: map[string]string{"context": "stores/abc123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bc-token", set.AccessToken)
	assert.Equal(t, "abc123", set.ExternalStoreID)
	assert.Equal(t, "Plant Shop", set.ExternalDisplayName)
	assert.Nil(t, set.ExpiresAt)

	_, err = a.ExchangeCode(context.Background(), integration.CodeExchange{Code: "x"})
	assert.ErrorIs(t, err, integration.ErrAuthStateInvalid)
}

func TestBigCommerceAdapter_Webhooks(t *testing.T) {
	a := newBigCommerceTestAdapter(t, "http://unused")
	body := []byte(`{"scope":"store/order/statusUpdated","store_id":"1025646","data":{"type":"order","id":250},"hash":"dd70c0976e06b67aaf671e73f49dcb79230ebf9d","created_at":1561479335,"producer":"stores/abc123"}`)

	headers := http.Header{}
	headers.Set(headerWebhookSecret, "conn-secret")

	assert.True(t, a.VerifyWebhookSignature(body, headers, "conn-secret"))
	assert.False(t, a.VerifyWebhookSignature(body, headers, "other"))
	assert.False(t, a.VerifyWebhookSignature(body, http.Header{}, "conn-secret"))
	assert.False(t, a.VerifyWebhookSignature(body, headers, ""), "a connection without a stored secret never verifies")

	src, err := a.IdentifySource(headers, body)
	require.NoError(t, err)
	assert.Equal(t, "abc123", src)

	ev, err := a.ParseWebhook(headers, body)
	require.NoError(t, err)
	assert.Equal(t, integration.ResourceOrder, ev.ResourceKind)
	assert.Equal(t, "250", ev.ResourceID)
	assert.Equal(t, "dd70c0976e06b67aaf671e73f49dcb79230ebf9d", ev.EventID)
	assert.Equal(t, time.Unix(1561479335, 0).UTC(), ev.OccurredAt)

	t.Run("composite id without hash", func(t *testing.T) {
		ev, err := a.ParseWebhook(headers, []byte(`{"scope":"store/product/updated","data":{"id":9},"created_at":1561479335,"producer":"stores/abc123"}`))
		require.NoError(t, err)
		assert.Equal(t, integration.ResourceProduct, ev.ResourceKind)
		assert.Equal(t, "store/product/updated:9:2019-06-25T16:15:35Z", ev.EventID)
	})

	t.Run("uninstall", func(t *testing.T) {
		ev, err := a.ParseWebhook(headers, []byte(`{"scope":"store/app/uninstalled","created_at":1561479335,"producer":"stores/abc123"}`))
		require.NoError(t, err)
		assert.Equal(t, integration.ResourceUninstall, ev.ResourceKind)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := a.IdentifySource(headers, []byte(`{"scope":"store/order/created"}`))
		assert.ErrorIs(t, err, integration.ErrUnidentifiedSource)
	})

	t.Run("unsupported scope", func(t *testing.T) {
		_, err := a.ParseWebhook(headers, []byte(`{"scope":"store/customer/created","data":{"id":1},"producer":"stores/abc123"}`))
		assert.ErrorIs(t, err, integration.ErrUnsupportedTopic)
	})
}

func bigcommerceStoreServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stores/abc123/v2/store":
			_, _ = io.WriteString(w, `{"name":"Plant Shop","currency":"USD"}`)
		case "/stores/abc123/v2/orders/250":
			_, _ = io.WriteString(w, `{"id":250,"status_id":2,"currency_code":"USD","total_inc_tax":"45.5000",
				"date_created":"Tue, 05 Mar 2024 10:00:00 +0000","date_modified":"Wed, 06 Mar 2024 10:00:00 +0000",
				"date_shipped":"Wed, 06 Mar 2024 09:00:00 +0000","billing_address":{"first_name":"Grace","last_name":"Hopper","email":"grace@example.com"}}`)
		case "/stores/abc123/v2/orders/250/products":
			_, _ = io.WriteString(w, `[{"id":1,"sku":"FERN","name":"Fern","quantity":1,"price_inc_tax":"45.5000"}]`)
		case "/stores/abc123/v2/orders":
			if r.URL.Query().Get("page") == "1" {
				_, _ = io.WriteString(w, `[{"id":250,"status_id":11,"currency_code":"USD","total_inc_tax":"45.50"}]`)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case "/stores/abc123/v3/catalog/products/77":
			_, _ = io.WriteString(w, `{"data":{"id":77,"name":"Fern","sku":"FERN","price":45.5,"is_visible":true,"inventory_tracking":"product","inventory_level":0,"date_modified":"2024-03-06T10:00:00+00:00"}}`)
		case "/stores/abc123/v3/catalog/products":
			page := r.URL.Query().Get("page")
			_, _ = io.WriteString(w, `{"data":[{"id":`+page+`,"name":"P","price":1,"is_visible":false,"inventory_tracking":"none"}],"meta":{"pagination":{"current_page":`+page+`,"total_pages":2}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestBigCommerceAdapter_FetchOrder(t *testing.T) {
	srv := bigcommerceStoreServer(t)
	defer srv.Close()
	a := newBigCommerceTestAdapter(t, srv.URL)

	order, err := a.FetchOrder(context.Background(), bigcommerceCreds(), "250")
	require.NoError(t, err)
	assert.Equal(t, "2", order.StatusCode)
	assert.Equal(t, integration.OrderStatusFulfilled, integration.MapOrderStatus(integration.MarketplaceBigCommerce, order.StatusCode))
	assert.Equal(t, int64(4550), order.TotalMinor)
	assert.Equal(t, "Grace Hopper", order.CustomerName)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), order.OrderedAt)
	require.NotNil(t, order.FulfilledAt)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(4550), order.Items[0].UnitPriceMinor)
}

func TestBigCommerceAdapter_ListOrdersStopsOnNoContent(t *testing.T) {
	srv := bigcommerceStoreServer(t)
	defer srv.Close()
	a := newBigCommerceTestAdapter(t, srv.URL)

	orders, err := a.ListOrders(context.Background(), bigcommerceCreds(), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "11", orders[0].StatusCode)
}

func TestBigCommerceAdapter_Products(t *testing.T) {
	srv := bigcommerceStoreServer(t)
	defer srv.Close()
	a := newBigCommerceTestAdapter(t, srv.URL)

	p, err := a.FetchProduct(context.Background(), bigcommerceCreds(), "77")
	require.NoError(t, err)
	assert.Equal(t, int64(4550), p.PriceMinor)
	assert.Equal(t, "USD", p.Currency)
	require.NotNil(t, p.Inventory)
	assert.Equal(t, 0, *p.Inventory)
	assert.Equal(t, integration.ProductStatusOutOfStock, integration.DeriveProductStatus(p.Visible, p.Inventory, p.Archived))

	products, err := a.ListProducts(context.Background(), bigcommerceCreds(), nil)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Nil(t, products[0].Inventory)
	assert.False(t, products[1].Visible)

	_, err = a.FetchProduct(context.Background(), bigcommerceCreds(), "999")
	assert.ErrorIs(t, err, integration.ErrResourceNotFound)
}

func TestBigCommerceAdapter_RegisterWebhooks(t *testing.T) {
	var posted []bigcommerceHook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"data":[
				{"id":1,"scope":"store/order/*","destination":"https://sync.example.com/webhooks/bigcommerce","is_active":true},
				{"id":2,"scope":"store/product/*","destination":"https://elsewhere.example.com","is_active":true}
			]}`)
		case http.MethodPost:
			var h bigcommerceHook
			require.NoError(t, json.NewDecoder(r.Body).Decode(&h))
			posted = append(posted, h)
			_, _ = io.WriteString(w, `{"data":{"id":3}}`)
		}
	}))
	defer srv.Close()

	a := newBigCommerceTestAdapter(t, srv.URL)
	_, err := a.RegisterWebhooks(context.Background(), bigcommerceCreds(), "https://sync.example.com/webhooks/bigcommerce", "")
	assert.ErrorIs(t, err, integration.ErrWebhookSecretMissing)

	reg, err := a.RegisterWebhooks(context.Background(), bigcommerceCreds(), "https://sync.example.com/webhooks/bigcommerce", "conn-secret")
	require.NoError(t, err)
	assert.Equal(t, []string{"store/order/*"}, reg.Skipped)
	assert.Equal(t, []string{"store/product/*", "store/app/uninstalled"}, reg.Created)
	require.Len(t, posted, 2)
	assert.Equal(t, "conn-secret", posted[0].Headers[headerWebhookSecret])
	assert.True(t, posted[0].IsActive)
}
