package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar mounts a set of routes onto a gin group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Route describes one mounted endpoint.
type Route struct {
	Group  string
	Method string
	Path   string
	Public bool
}

// Router mounts public registrars at the engine root (webhooks, OAuth
// redirects, probes) and everything else under /api/<version> behind the
// API middleware chain.
type Router struct {
	engine        *gin.Engine
	apiVersion    string
	apiMiddleware []gin.HandlerFunc
	api           []RouteRegistrar
	public        []RouteRegistrar
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAPIVersion sets the version segment of the API prefix.
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) { r.apiVersion = version }
}

// WithAPIMiddleware appends handlers run before every versioned API route.
func WithAPIMiddleware(middleware ...gin.HandlerFunc) RouterOption {
	return func(r *Router) { r.apiMiddleware = append(r.apiMiddleware, middleware...) }
}

func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// APIPrefix is the mount point of authenticated routes.
func (r *Router) APIPrefix() string {
	return "/api/" + r.apiVersion
}

// Register queues an authenticated registrar.
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.api = append(r.api, registrar)
	return r
}

// RegisterPublic queues a registrar mounted outside the API prefix. Callers
// of these routes authenticate by signature or OAuth state, not JWT.
func (r *Router) RegisterPublic(registrar RouteRegistrar) *Router {
	r.public = append(r.public, registrar)
	return r
}

// Setup mounts every queued registrar and returns the resulting route table.
func (r *Router) Setup() []Route {
	root := r.engine.Group("")
	for _, registrar := range r.public {
		registrar.RegisterRoutes(root)
	}

	api := r.engine.Group(r.APIPrefix())
	if len(r.apiMiddleware) > 0 {
		api.Use(r.apiMiddleware...)
	}
	for _, registrar := range r.api {
		registrar.RegisterRoutes(api)
	}

	var routes []Route
	for _, registrar := range r.public {
		routes = append(routes, describe(registrar, "", true)...)
	}
	for _, registrar := range r.api {
		routes = append(routes, describe(registrar, r.APIPrefix(), false)...)
	}
	return routes
}

func describe(registrar RouteRegistrar, base string, public bool) []Route {
	dg, ok := registrar.(*DomainGroup)
	if !ok {
		return nil
	}
	return dg.routesUnder(base, public)
}

// ----------------------------------------------------------------------------
// DomainGroup
// ----------------------------------------------------------------------------

// DomainGroup is a named route group with its own middleware, e.g. the
// webhook group carries the body limit.
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// Handle queues a route for any HTTP method.
func (dg *DomainGroup) Handle(method, relativePath string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: relativePath, handlers: handlers})
	return dg
}

func (dg *DomainGroup) GET(relativePath string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodGet, relativePath, handlers...)
}

func (dg *DomainGroup) POST(relativePath string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPost, relativePath, handlers...)
}

func (dg *DomainGroup) DELETE(relativePath string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodDelete, relativePath, handlers...)
}

// Group creates a nested group that inherits this group's middleware.
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	sub := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, sub)
	return sub
}

// RegisterRoutes implements RouteRegistrar.
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix, dg.middleware...)
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
	for _, sub := range dg.subgroups {
		sub.RegisterRoutes(group)
	}
}

func (dg *DomainGroup) routesUnder(base string, public bool) []Route {
	prefix := joinPath(base, dg.prefix)
	routes := make([]Route, 0, len(dg.routes))
	for _, route := range dg.routes {
		routes = append(routes, Route{
			Group:  dg.name,
			Method: route.method,
			Path:   joinPath(prefix, route.path),
			Public: public,
		})
	}
	for _, sub := range dg.subgroups {
		routes = append(routes, sub.routesUnder(prefix, public)...)
	}
	return routes
}

// joinPath mirrors gin's joining, keeping a trailing slash from rel.
func joinPath(base, rel string) string {
	if rel == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	joined := path.Join("/", base, rel)
	if rel[len(rel)-1] == '/' && joined[len(joined)-1] != '/' {
		return joined + "/"
	}
	return joined
}

func (dg *DomainGroup) Name() string   { return dg.name }
func (dg *DomainGroup) Prefix() string { return dg.prefix }
