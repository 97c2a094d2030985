package router

import (
	"github.com/gin-gonic/gin"
	"github.com/marketsync/backend/internal/interfaces/http/handler"
)

// HealthRoutes mounts GET /health
func HealthRoutes(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("health", "").GET("/health", h.Health)
}

// SystemRoutes mounts build information under /system
func SystemRoutes(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").
		GET("/info", h.GetSystemInfo).
		GET("/ping", h.Ping)
}

// WebhookRoutes mounts POST /webhooks/:marketplace.
// Middleware runs before the body is read, so a body limit belongs here.
func WebhookRoutes(h *handler.WebhookHandler, middleware ...gin.HandlerFunc) *DomainGroup {
	return NewDomainGroup("webhooks", "/webhooks").
		Use(middleware...).
		POST("/:marketplace", h.Receive)
}

// OAuthRoutes mounts the provider redirect target
func OAuthRoutes(h *handler.OAuthCallbackHandler) *DomainGroup {
	return NewDomainGroup("oauth", "/oauth").
		GET("/:marketplace/callback", h.Callback)
}

// ConnectionRoutes mounts the authenticated connection API
func ConnectionRoutes(h *handler.ConnectionHandler, middleware ...gin.HandlerFunc) *DomainGroup {
	return NewDomainGroup("connections", "/connections").
		Use(middleware...).
		GET("", h.List).
		GET("/:marketplace", h.Get).
		DELETE("/:marketplace", h.Disconnect).
		POST("/:marketplace/authorize", h.Authorize).
		POST("/:marketplace/credentials", h.ConnectWithCredentials).
		POST("/:marketplace/resync", h.Resync).
		GET("/:marketplace/sync-logs", h.SyncLogs)
}
