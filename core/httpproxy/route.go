package httpproxy

import (
	"context"
	"net/http"
	"strings"

	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/proxyctx"
	"github.com/searchktools/fast-proxy/core/router"
)

// RouteHandler matches the request path against the server's route table,
// selects an upstream, rewrites the request target to point at it, and
// hands off to the routed part of the chain with the enriched context.
type RouteHandler struct {
	table *router.Router
	inner RoutedHandler
}

// NewRouteHandler builds the routing layer over inner.
func NewRouteHandler(table *router.Router, inner RoutedHandler) *RouteHandler {
	return &RouteHandler{table: table, inner: inner}
}

func (h *RouteHandler) Handle(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
	rt, params, ok := h.table.Lookup(req.URL.Path)
	if !ok {
		return nil, errs.Newf(errs.ServerPolicy, "no route for %s", req.URL.Path)
	}

	sel := rt.Balancer().Select(rt.Upstreams)
	up, ok := sel.Next()
	if !ok {
		return nil, errs.Newf(errs.ServerPolicy, "route %s has no upstreams", rt.Pattern)
	}

	rcx := proxyctx.WithRoute(cx, proxyctx.RouteMatch{Route: rt.Pattern, Params: params}, up)
	rewriteRequest(req, up)
	return h.inner.HandleRouted(ctx, rcx, req)
}

// rewriteRequest repoints scheme, authority, and Host at the selected
// upstream. Unix endpoints keep the client's Host; the dialer ignores
// the URL authority for them.
func rewriteRequest(req *http.Request, up proxyctx.Upstream) {
	if up.Scheme == "unix" {
		req.URL.Scheme = "http"
		req.URL.Host = "unix"
	} else {
		req.URL.Scheme = up.Scheme
		req.URL.Host = up.Authority
		req.Host = up.Authority
	}
	if up.PathPrefix != "" && up.PathPrefix != "/" {
		req.URL.Path = joinPath(up.PathPrefix, req.URL.Path)
	}
	// The transport derives the wire target from the URL.
	req.RequestURI = ""
}

func joinPath(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}
