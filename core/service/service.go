// Package service defines the proxy's composable service abstraction: a
// uniform async transform contract, factories that can inherit warm state
// from the instance they replace, and the per-worker generation slot the
// reload controller publishes through.
//
// Layers whose context requirements differ are composed by plain function
// application in the assembly code, so the typed context stages flow
// through the chain and a mis-ordered pipeline fails to compile. The
// helpers here cover the same-typed portions of a chain and the
// factory/generation machinery shared by every pipeline.
package service

import (
	"context"
	"net"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Service is the uniform transform contract: one request in, one response
// or error out. Implementations are stateless on the hot path; the
// connection pool is the documented exception.
type Service[Req, Resp any] interface {
	Call(ctx context.Context, req Req) (Resp, error)
}

// Func adapts a function to Service.
type Func[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f Func[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Factory builds service instances. prev is the service of the previous
// generation (the zero value on first build), giving the new instance the
// right to inherit or dismantle warm state such as connection pools.
type Factory[S any] interface {
	Make(prev S) (S, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc[S any] func(prev S) (S, error)

func (f FactoryFunc[S]) Make(prev S) (S, error) { return f(prev) }

// ConnHandler is the outermost service of a pipeline: it owns one accepted
// connection until it returns. Cancelling ctx cancels all descendant work;
// the handler must release every scoped resource on any exit path.
type ConnHandler interface {
	ServeConn(ctx context.Context, cx proxyctx.Accepted, conn net.Conn) error
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, cx proxyctx.Accepted, conn net.Conn) error

func (f ConnHandlerFunc) ServeConn(ctx context.Context, cx proxyctx.Accepted, conn net.Conn) error {
	return f(ctx, cx, conn)
}

// Layer wraps a same-typed service with another of the same shape.
type Layer[S any] func(inner S) S

// Chain applies layers outermost-first: Chain(base, a, b) yields a(b(base)).
func Chain[S any](base S, layers ...Layer[S]) S {
	s := base
	for i := len(layers) - 1; i >= 0; i-- {
		s = layers[i](s)
	}
	return s
}
