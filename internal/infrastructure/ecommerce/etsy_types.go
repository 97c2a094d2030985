package ecommerce

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/marketsync/backend/internal/domain/integration"
)

// Etsy Open API v3 payloads

// etsyMoney is Etsy's amount/divisor pair, e.g. {amount: 1999, divisor: 100}
type etsyMoney struct {
	Amount       int64  `json:"amount"`
	Divisor      int64  `json:"divisor"`
	CurrencyCode string `json:"currency_code"`
}

// minor converts the pair into the currency's minor unit
func (m etsyMoney) minor() int64 {
	if m.Divisor <= 0 {
		return m.Amount
	}
	major := decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(m.Divisor))
	return integration.ToMinorUnits(major, m.CurrencyCode)
}

type etsyReceipt struct {
	ReceiptID        json.Number       `json:"receipt_id"`
	Status           string            `json:"status"`
	Name             string            `json:"name"`
	BuyerEmail       string            `json:"buyer_email"`
	IsShipped        bool              `json:"is_shipped"`
	CreateTimestamp  int64             `json:"create_timestamp"`
	UpdatedTimestamp int64             `json:"updated_timestamp"`
	Grandtotal       etsyMoney         `json:"grandtotal"`
	Transactions     []etsyTransaction `json:"transactions"`
	Shipments        []etsyShipment    `json:"shipments"`
}

type etsyTransaction struct {
	TransactionID json.Number `json:"transaction_id"`
	Title         string      `json:"title"`
	Quantity      int         `json:"quantity"`
	SKU           string      `json:"sku"`
	Price         etsyMoney   `json:"price"`
}

type etsyShipment struct {
	ShipmentNotificationTimestamp int64 `json:"shipment_notification_timestamp"`
}

type etsyListing struct {
	ListingID        json.Number `json:"listing_id"`
	Title            string      `json:"title"`
	State            string      `json:"state"`
	Quantity         int         `json:"quantity"`
	SKUs             []string    `json:"skus"`
	Price            etsyMoney   `json:"price"`
	UpdatedTimestamp int64       `json:"updated_timestamp"`
}

// etsyPage is the {count, results} envelope of every Etsy collection
type etsyPage struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

type etsyShop struct {
	ShopID   json.Number `json:"shop_id"`
	ShopName string      `json:"shop_name"`
}
