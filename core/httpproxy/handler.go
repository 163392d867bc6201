package httpproxy

import (
	"context"
	"net/http"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Handler is a per-request transform running before routing: it sees the
// connection facts up to the TLS stage. Handlers either produce a
// response themselves or delegate inward.
type Handler interface {
	Handle(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
	return f(ctx, cx, req)
}

// RoutedHandler is a per-request transform running after routing: its
// context stage additionally carries the route match and the selected
// upstream. The type split keeps the pipeline order honest — an upstream
// handler cannot be wired in front of the router.
type RoutedHandler interface {
	HandleRouted(ctx context.Context, cx proxyctx.Routed, req *http.Request) (*http.Response, error)
}
