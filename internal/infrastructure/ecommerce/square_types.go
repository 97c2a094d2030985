package ecommerce

import "encoding/json"

// Square Connect v2 payloads

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type squareTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
}

type squareMerchantEnvelope struct {
	Merchant struct {
		ID           string `json:"id"`
		BusinessName string `json:"business_name"`
		Currency     string `json:"currency"`
	} `json:"merchant"`
}

type squareOrderEnvelope struct {
	Order json.RawMessage `json:"order"`
}

type squareOrder struct {
	ID           string              `json:"id"`
	State        string              `json:"state"`
	TotalMoney   squareMoney         `json:"total_money"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at"`
	ClosedAt     string              `json:"closed_at"`
	LineItems    []squareLineItem    `json:"line_items"`
	Refunds      []squareRefund      `json:"refunds"`
	Fulfillments []squareFulfillment `json:"fulfillments"`
}

type squareLineItem struct {
	UID             string      `json:"uid"`
	CatalogObjectID string      `json:"catalog_object_id"`
	Name            string      `json:"name"`
	Quantity        string      `json:"quantity"`
	BasePriceMoney  squareMoney `json:"base_price_money"`
}

type squareRefund struct {
	Status      string      `json:"status"`
	AmountMoney squareMoney `json:"amount_money"`
}

type squareFulfillment struct {
	State           string                 `json:"state"`
	PickupDetails   *squarePickupDetails   `json:"pickup_details"`
	ShipmentDetails *squareShipmentDetails `json:"shipment_details"`
}

type squarePickupDetails struct {
	PickedUpAt string `json:"picked_up_at"`
}

type squareShipmentDetails struct {
	ShippedAt string `json:"shipped_at"`
}

type squareLocationsEnvelope struct {
	Locations []struct {
		ID string `json:"id"`
	} `json:"locations"`
}

type squareSearchOrdersRequest struct {
	LocationIDs []string          `json:"location_ids"`
	Cursor      string            `json:"cursor,omitempty"`
	Limit       int               `json:"limit"`
	Query       squareOrdersQuery `json:"query"`
}

type squareOrdersQuery struct {
	Filter *squareOrdersFilter `json:"filter,omitempty"`
	Sort   squareOrdersSort    `json:"sort"`
}

type squareOrdersFilter struct {
	DateTimeFilter struct {
		UpdatedAt struct {
			StartAt string `json:"start_at"`
		} `json:"updated_at"`
	} `json:"date_time_filter"`
}

type squareOrdersSort struct {
	SortField string `json:"sort_field"`
	SortOrder string `json:"sort_order"`
}

type squareSearchOrdersResponse struct {
	Orders []json.RawMessage `json:"orders"`
	Cursor string            `json:"cursor"`
}

type squareCatalogObject struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	UpdatedAt string `json:"updated_at"`
	IsDeleted bool   `json:"is_deleted"`
	ItemData  *struct {
		Name       string                `json:"name"`
		IsArchived bool                  `json:"is_archived"`
		Variations []squareCatalogObject `json:"variations"`
	} `json:"item_data"`
	ItemVariationData *struct {
		SKU            string      `json:"sku"`
		PriceMoney     squareMoney `json:"price_money"`
		TrackInventory bool        `json:"track_inventory"`
	} `json:"item_variation_data"`
}

type squareCatalogObjectEnvelope struct {
	Object json.RawMessage `json:"object"`
}

type squareSearchCatalogRequest struct {
	ObjectTypes []string `json:"object_types"`
	BeginTime   string   `json:"begin_time,omitempty"`
	Cursor      string   `json:"cursor,omitempty"`
}

type squareSearchCatalogResponse struct {
	Objects []json.RawMessage `json:"objects"`
	Cursor  string            `json:"cursor"`
}

type squareInventoryRequest struct {
	CatalogObjectIDs []string `json:"catalog_object_ids"`
	States           []string `json:"states"`
}

type squareInventoryResponse struct {
	Counts []struct {
		CatalogObjectID string `json:"catalog_object_id"`
		Quantity        string `json:"quantity"`
	} `json:"counts"`
}

// squareWebhookBody is an event notification
type squareWebhookBody struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Object map[string]struct {
			OrderID string `json:"order_id"`
		} `json:"object"`
	} `json:"data"`
}
