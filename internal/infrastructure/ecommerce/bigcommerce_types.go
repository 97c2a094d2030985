package ecommerce

import "encoding/json"

// BigCommerce v2 orders and v3 catalog/hooks payloads

type bigcommerceOrder struct {
	ID           json.Number            `json:"id"`
	StatusID     json.Number            `json:"status_id"`
	CurrencyCode string                 `json:"currency_code"`
	TotalIncTax  string                 `json:"total_inc_tax"`
	DateCreated  string                 `json:"date_created"`
	DateModified string                 `json:"date_modified"`
	DateShipped  string                 `json:"date_shipped"`
	Billing      bigcommerceBillingAddr `json:"billing_address"`
}

type bigcommerceBillingAddr struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type bigcommerceOrderProduct struct {
	ID          json.Number `json:"id"`
	SKU         string      `json:"sku"`
	Name        string      `json:"name"`
	Quantity    int         `json:"quantity"`
	PriceIncTax string      `json:"price_inc_tax"`
}

type bigcommerceProduct struct {
	ID                json.Number `json:"id"`
	Name              string      `json:"name"`
	SKU               string      `json:"sku"`
	Price             json.Number `json:"price"`
	IsVisible         bool        `json:"is_visible"`
	Availability      string      `json:"availability"`
	InventoryTracking string      `json:"inventory_tracking"`
	InventoryLevel    int         `json:"inventory_level"`
	DateModified      string      `json:"date_modified"`
}

type bigcommerceProductEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type bigcommerceProductsEnvelope struct {
	Data []json.RawMessage `json:"data"`
	Meta bigcommerceMeta   `json:"meta"`
}

type bigcommerceMeta struct {
	Pagination struct {
		CurrentPage int `json:"current_page"`
		TotalPages  int `json:"total_pages"`
	} `json:"pagination"`
}

type bigcommerceStore struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type bigcommerceHook struct {
	ID          json.Number       `json:"id,omitempty"`
	Scope       string            `json:"scope"`
	Destination string            `json:"destination"`
	IsActive    bool              `json:"is_active"`
	Headers     map[string]string `json:"headers,omitempty"`
}

type bigcommerceHooksEnvelope struct {
	Data []bigcommerceHook `json:"data"`
}

// bigcommerceWebhookBody is a delivery: only the resource id, never its state
type bigcommerceWebhookBody struct {
	Scope     string      `json:"scope"`
	StoreID   json.Number `json:"store_id"`
	Hash      string      `json:"hash"`
	CreatedAt int64       `json:"created_at"`
	Producer  string      `json:"producer"`
	Data      struct {
		Type string      `json:"type"`
		ID   json.Number `json:"id"`
	} `json:"data"`
}
