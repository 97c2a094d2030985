package ecommerce

import "encoding/json"

// WooCommerce REST API v3 payloads

type woocommerceOrder struct {
	ID               json.Number           `json:"id"`
	Status           string                `json:"status"`
	Currency         string                `json:"currency"`
	Total            string                `json:"total"`
	DateCreatedGMT   string                `json:"date_created_gmt"`
	DateModifiedGMT  string                `json:"date_modified_gmt"`
	DateCompletedGMT string                `json:"date_completed_gmt"`
	Billing          woocommerceBilling    `json:"billing"`
	LineItems        []woocommerceLineItem `json:"line_items"`
}

type woocommerceBilling struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type woocommerceLineItem struct {
	ID       json.Number `json:"id"`
	SKU      string      `json:"sku"`
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price"`
}

type woocommerceProduct struct {
	ID                json.Number `json:"id"`
	Name              string      `json:"name"`
	SKU               string      `json:"sku"`
	Price             string      `json:"price"`
	Status            string      `json:"status"`
	CatalogVisibility string      `json:"catalog_visibility"`
	ManageStock       bool        `json:"manage_stock"`
	StockQuantity     *int        `json:"stock_quantity"`
	DateModifiedGMT   string      `json:"date_modified_gmt"`
}

type woocommerceSetting struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type woocommerceWebhook struct {
	ID          json.Number `json:"id,omitempty"`
	Name        string      `json:"name,omitempty"`
	Status      string      `json:"status,omitempty"`
	Topic       string      `json:"topic"`
	DeliveryURL string      `json:"delivery_url"`
	Secret      string      `json:"secret,omitempty"`
}

// woocommerceWebhookBody is the resource snapshot WooCommerce posts
type woocommerceWebhookBody struct {
	ID              json.Number `json:"id"`
	DateModifiedGMT string      `json:"date_modified_gmt"`
}
