package ecommerce

import (
	"encoding/json"
)

// Shopify Admin REST payloads

type shopifyOrderEnvelope struct {
	Order json.RawMessage `json:"order"`
}

type shopifyOrdersEnvelope struct {
	Orders []json.RawMessage `json:"orders"`
}

type shopifyOrder struct {
	ID                json.Number          `json:"id"`
	Name              string               `json:"name"`
	Email             string               `json:"email"`
	Currency          string               `json:"currency"`
	TotalPrice        string               `json:"total_price"`
	FinancialStatus   string               `json:"financial_status"`
	FulfillmentStatus string               `json:"fulfillment_status"`
	CancelledAt       string               `json:"cancelled_at"`
	ClosedAt          string               `json:"closed_at"`
	CreatedAt         string               `json:"created_at"`
	UpdatedAt         string               `json:"updated_at"`
	Customer          *shopifyCustomer     `json:"customer"`
	LineItems         []shopifyLineItem    `json:"line_items"`
	Fulfillments      []shopifyFulfillment `json:"fulfillments"`
}

type shopifyCustomer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type shopifyLineItem struct {
	ID       json.Number `json:"id"`
	SKU      string      `json:"sku"`
	Title    string      `json:"title"`
	Quantity int         `json:"quantity"`
	Price    string      `json:"price"`
}

type shopifyFulfillment struct {
	CreatedAt string `json:"created_at"`
}

type shopifyProductEnvelope struct {
	Product json.RawMessage `json:"product"`
}

type shopifyProductsEnvelope struct {
	Products []json.RawMessage `json:"products"`
}

type shopifyProduct struct {
	ID        json.Number      `json:"id"`
	Title     string           `json:"title"`
	Status    string           `json:"status"`
	UpdatedAt string           `json:"updated_at"`
	Variants  []shopifyVariant `json:"variants"`
}

type shopifyVariant struct {
	SKU                 string `json:"sku"`
	Price               string `json:"price"`
	InventoryQuantity   int    `json:"inventory_quantity"`
	InventoryManagement string `json:"inventory_management"`
}

type shopifyShop struct {
	Shop struct {
		Name     string `json:"name"`
		Domain   string `json:"domain"`
		Currency string `json:"currency"`
	} `json:"shop"`
}

type shopifyWebhook struct {
	ID      json.Number `json:"id,omitempty"`
	Topic   string      `json:"topic"`
	Address string      `json:"address"`
	Format  string      `json:"format,omitempty"`
}

type shopifyWebhooksEnvelope struct {
	Webhooks []shopifyWebhook `json:"webhooks"`
}

type shopifyWebhookEnvelope struct {
	Webhook shopifyWebhook `json:"webhook"`
}

// shopifyWebhookBody is the subset of a delivery body needed for correlation
type shopifyWebhookBody struct {
	ID        json.Number `json:"id"`
	UpdatedAt string      `json:"updated_at"`
}
