package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func text(body string) gin.HandlerFunc {
	return func(c *gin.Context) { c.String(http.StatusOK, body) }
}

func do(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())

	assert.Equal(t, "v1", r.apiVersion)
	assert.Equal(t, "/api/v1", r.APIPrefix())
	assert.Empty(t, r.api)
	assert.Empty(t, r.public)
	assert.Empty(t, r.apiMiddleware)
}

func TestRouter_SetupReturnsRouteTable(t *testing.T) {
	r := NewRouter(gin.New())
	r.Register(NewDomainGroup("connections", "/connections").
		GET("", text("list")).
		POST("/:marketplace/resync", text("resync")))
	r.RegisterPublic(NewDomainGroup("health", "").GET("/health", text("ok")))

	routes := r.Setup()
	assert.Equal(t, []Route{
		{Group: "health", Method: http.MethodGet, Path: "/health", Public: true},
		{Group: "connections", Method: http.MethodGet, Path: "/api/v1/connections", Public: false},
		{Group: "connections", Method: http.MethodPost, Path: "/api/v1/connections/:marketplace/resync", Public: false},
	}, routes)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/", joinPath("", ""))
	assert.Equal(t, "/api/v1", joinPath("/api/v1", ""))
	assert.Equal(t, "/webhooks/:marketplace", joinPath("/webhooks", "/:marketplace"))
	assert.Equal(t, "/system/diag/", joinPath("/system", "/diag/"))
}

func TestRouter_Setup_VersionedAndPublic(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v2"))

	r.Register(NewDomainGroup("connections", "/connections").GET("", text("list")))
	r.RegisterPublic(NewDomainGroup("webhooks", "/webhooks").POST("/:marketplace", text("ack")))
	r.Setup()

	w := do(engine, http.MethodGet, "/api/v2/connections")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "list", w.Body.String())

	w = do(engine, http.MethodPost, "/webhooks/shopify")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ack", w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(engine, http.MethodPost, "/api/v2/webhooks/shopify").Code)
}

func TestRouter_APIMiddlewareSkipsPublicRoutes(t *testing.T) {
	engine := gin.New()
	deny := func(c *gin.Context) {
		c.AbortWithStatus(http.StatusUnauthorized)
	}
	r := NewRouter(engine, WithAPIMiddleware(deny))

	r.Register(NewDomainGroup("connections", "/connections").GET("", text("list")))
	r.RegisterPublic(NewDomainGroup("oauth", "/oauth").GET("/:marketplace/callback", text("done")))
	r.Setup()

	assert.Equal(t, http.StatusUnauthorized, do(engine, http.MethodGet, "/api/v1/connections").Code)
	assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/oauth/etsy/callback").Code)
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("connections", "/connections")
		assert.Equal(t, "connections", g.Name())
		assert.Equal(t, "/connections", g.Prefix())
	})

	t.Run("registers each method", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("connections", "/connections").
			GET("/:marketplace", text("get")).
			POST("/:marketplace/resync", text("resync")).
			DELETE("/:marketplace", text("delete"))
		g.RegisterRoutes(engine.Group("/api/v1"))

		tests := []struct {
			method string
			path   string
			body   string
		}{
			{http.MethodGet, "/api/v1/connections/shopify", "get"},
			{http.MethodPost, "/api/v1/connections/shopify/resync", "resync"},
			{http.MethodDelete, "/api/v1/connections/shopify", "delete"},
		}
		for _, tt := range tests {
			w := do(engine, tt.method, tt.path)
			assert.Equal(t, http.StatusOK, w.Code, "%s %s", tt.method, tt.path)
			assert.Equal(t, tt.body, w.Body.String())
		}
	})

	t.Run("group middleware stays inside the group", func(t *testing.T) {
		engine := gin.New()
		webhooks := NewDomainGroup("webhooks", "/webhooks").
			Use(func(c *gin.Context) {
				c.Header("X-Body-Limit", "applied")
				c.Next()
			}).
			POST("/:marketplace", text("ack"))
		oauth := NewDomainGroup("oauth", "/oauth").GET("/:marketplace/callback", text("done"))

		root := engine.Group("")
		webhooks.RegisterRoutes(root)
		oauth.RegisterRoutes(root)

		assert.Equal(t, "applied", do(engine, http.MethodPost, "/webhooks/etsy").Header().Get("X-Body-Limit"))
		assert.Empty(t, do(engine, http.MethodGet, "/oauth/etsy/callback").Header().Get("X-Body-Limit"))
	})

	t.Run("subgroups", func(t *testing.T) {
		engine := gin.New()
		system := NewDomainGroup("system", "/system")
		system.Group("diagnostics", "/diag").GET("/sweep", text("sweep"))
		system.RegisterRoutes(engine.Group("/api/v1"))

		w := do(engine, http.MethodGet, "/api/v1/system/diag/sweep")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "sweep", w.Body.String())
	})
}
