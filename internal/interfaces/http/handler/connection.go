package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appintegration "github.com/marketsync/backend/internal/application/integration"
	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/interfaces/http/dto"
	"github.com/marketsync/backend/internal/interfaces/http/middleware"
)

// ConnectionManager is the connection lifecycle used by the HTTP surface
type ConnectionManager interface {
	List(ctx context.Context, userID uuid.UUID) ([]integration.Connection, error)
	Get(ctx context.Context, userID uuid.UUID, m integration.Marketplace) (*integration.Connection, error)
	BeginAuthorization(ctx context.Context, userID uuid.UUID, m integration.Marketplace, storeHint string) (*appintegration.AuthorizationStart, error)
	CompleteAuthorization(ctx context.Context, m integration.Marketplace, cb appintegration.AuthorizationCallback) (*integration.Connection, error)
	ConnectWithCredentials(ctx context.Context, userID uuid.UUID, m integration.Marketplace, storeURL, key, secret string) (*integration.Connection, error)
	Disconnect(ctx context.Context, userID uuid.UUID, m integration.Marketplace) error
	RequestResync(ctx context.Context, userID uuid.UUID, m integration.Marketplace) error
	RecentSyncLogs(ctx context.Context, userID uuid.UUID, m integration.Marketplace, limit int) ([]integration.SyncLog, error)
}

var _ ConnectionManager = (*appintegration.ConnectionService)(nil)

// ConnectionHandler serves /api/v1/connections for the authenticated user
type ConnectionHandler struct {
	BaseHandler
	connections ConnectionManager
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(connections ConnectionManager) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

// List handles GET /connections
func (h *ConnectionHandler) List(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	conns, err := h.connections.List(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]ConnectionResponse, 0, len(conns))
	for i := range conns {
		out = append(out, toConnectionResponse(&conns[i]))
	}
	h.SuccessList(c, out, len(out))
}

// Get handles GET /connections/:marketplace
func (h *ConnectionHandler) Get(c *gin.Context) {
	userID, m, ok := h.userAndMarketplace(c)
	if !ok {
		return
	}
	conn, err := h.connections.Get(c.Request.Context(), userID, m)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toConnectionResponse(conn))
}

// Authorize handles POST /connections/:marketplace/authorize
func (h *ConnectionHandler) Authorize(c *gin.Context) {
	userID, m, ok := h.userAndMarketplace(c)
	if !ok {
		return
	}
	var req AuthorizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}
	start, err := h.connections.BeginAuthorization(c.Request.Context(), userID, m, req.Store)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, AuthorizeResponse{
		AuthorizationURL: start.URL,
		State:            start.State,
		ExpiresAt:        start.ExpiresAt,
	})
}

// ConnectWithCredentials handles POST /connections/:marketplace/credentials
func (h *ConnectionHandler) ConnectWithCredentials(c *gin.Context) {
	userID, m, ok := h.userAndMarketplace(c)
	if !ok {
		return
	}
	var req CredentialConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	conn, err := h.connections.ConnectWithCredentials(c.Request.Context(), userID, m, req.StoreURL, req.ConsumerKey, req.ConsumerSecret)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toConnectionResponse(conn))
}

// Disconnect handles DELETE /connections/:marketplace
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	userID, m, ok := h.userAndMarketplace(c)
	if !ok {
		return
	}
	if err := h.connections.Disconnect(c.Request.Context(), userID, m); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Resync handles POST /connections/:marketplace/resync.
// The next sweep performs a full pull; nothing is fetched inline.
func (h *ConnectionHandler) Resync(c *gin.Context) {
	userID, m, ok := h.userAndMarketplace(c)
	if !ok {
		return
	}
	if err := h.connections.RequestResync(c.Request.Context(), userID, m); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, gin.H{"marketplace": m.String(), "resync_pending": true})
}

// SyncLogs handles GET /connections/:marketplace/sync-logs
func (h *ConnectionHandler) SyncLogs(c *gin.Context) {
	userID, m, ok := h.userAndMarketplace(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	logs, err := h.connections.RecentSyncLogs(c.Request.Context(), userID, m, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := toSyncLogResponses(logs)
	h.SuccessList(c, out, len(out))
}

func (h *ConnectionHandler) userAndMarketplace(c *gin.Context) (uuid.UUID, integration.Marketplace, bool) {
	userID, ok := h.requireUser(c)
	if !ok {
		return uuid.Nil, "", false
	}
	m, ok := h.marketplaceParam(c)
	if !ok {
		return uuid.Nil, "", false
	}
	return userID, m, true
}

// ---------------------------------------------------------------------------
// OAuth callback
// ---------------------------------------------------------------------------

// OAuthCallbackHandler completes provider redirects. It is unauthenticated; the single-use state binds it to the user.
type OAuthCallbackHandler struct {
	BaseHandler
	connections ConnectionManager
}

// NewOAuthCallbackHandler creates a new OAuthCallbackHandler
func NewOAuthCallbackHandler(connections ConnectionManager) *OAuthCallbackHandler {
	return &OAuthCallbackHandler{connections: connections}
}

// Callback handles GET /oauth/:marketplace/callback
func (h *OAuthCallbackHandler) Callback(c *gin.Context) {
	m, ok := h.marketplaceParam(c)
	if !ok {
		return
	}

	query := c.Request.URL.Query()
	params := make(map[string]string, len(query))
	for k := range query {
		params[k] = query.Get(k)
	}
	cb := appintegration.AuthorizationCallback{
		State:  query.Get("state"),
		Code:   query.Get("code"),
		Error:  query.Get("error"),
		Params: params,
	}
	if cb.State == "" {
		h.ErrorWithCode(c, dto.ErrCodeAuthStateInvalid, "Missing state parameter")
		return
	}

	conn, err := h.connections.CompleteAuthorization(c.Request.Context(), m, cb)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toConnectionResponse(conn))
}
