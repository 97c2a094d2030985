package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
)

// ConnectionResponse is a user's marketplace connection. Credentials are never returned.
type ConnectionResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Marketplace          string     `json:"marketplace"`
	DisplayName          string     `json:"display_name"`
	Status               string     `json:"status"`
	ExternalStoreID      string     `json:"external_store_id,omitempty"`
	ExternalDisplayName  string     `json:"external_display_name,omitempty"`
	ConnectedAt          time.Time  `json:"connected_at"`
	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`
	WebhooksRegisteredAt *time.Time `json:"webhooks_registered_at,omitempty"`
	TokenExpiresAt       *time.Time `json:"token_expires_at,omitempty"`
	ResyncPending        bool       `json:"resync_pending"`
}

func toConnectionResponse(c *integration.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:                   c.ID,
		Marketplace:          c.Marketplace.String(),
		DisplayName:          c.Marketplace.DisplayName(),
		Status:               string(c.Status),
		ExternalStoreID:      c.ExternalStoreID,
		ExternalDisplayName:  c.ExternalDisplayName,
		ConnectedAt:          c.ConnectedAt,
		LastSyncAt:           c.LastSyncAt,
		WebhooksRegisteredAt: c.WebhooksRegisteredAt,
		TokenExpiresAt:       c.TokenExpiresAt,
		ResyncPending:        c.IsConnected() && c.LastSyncAt == nil,
	}
}

// AuthorizeRequest starts an OAuth flow.
// Store is the shop domain for providers whose consent URL is per store.
type AuthorizeRequest struct {
	Store string `json:"store" binding:"omitempty,max=255"`
}

// AuthorizeResponse carries the consent URL the client should open
type AuthorizeResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// CredentialConnectRequest connects a provider that issues API keys instead of OAuth grants
type CredentialConnectRequest struct {
	StoreURL       string `json:"store_url" binding:"required,store_url,max=255"`
	ConsumerKey    string `json:"consumer_key" binding:"required,max=255"`
	ConsumerSecret string `json:"consumer_secret" binding:"required,max=255"`
}

// SyncLogResponse is one sync attempt
type SyncLogResponse struct {
	ID          uuid.UUID  `json:"id"`
	EntityKind  string     `json:"entity_kind"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	SyncedCount int        `json:"synced_count"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	ErrorText   string     `json:"error_text,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func toSyncLogResponses(logs []integration.SyncLog) []SyncLogResponse {
	out := make([]SyncLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, SyncLogResponse{
			ID:          l.ID,
			EntityKind:  string(l.EntityKind),
			Trigger:     string(l.Trigger),
			Status:      string(l.Status),
			SyncedCount: l.SyncedCount,
			ErrorKind:   string(l.ErrorKind),
			ErrorText:   l.ErrorText,
			StartedAt:   l.StartedAt,
			FinishedAt:  l.FinishedAt,
		})
	}
	return out
}
