package thriftproxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/searchktools/fast-proxy/core/connector"
	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/proxyctx"
	"github.com/searchktools/fast-proxy/core/router"
)

// Handler is the per-message transform contract of the Thrift chain.
type Handler interface {
	Handle(ctx context.Context, cx proxyctx.TLSDone, msg *Message) (*Message, error)
}

// ProxyHandler is the forwarding leaf: it selects an upstream from the
// route's pool and relays the message frame over a pooled connection.
type ProxyHandler struct {
	route    *router.Route
	pool     *connector.Pool
	dialer   connector.Dialer
	rspBound time.Duration
	maxFrame int
}

// NewProxyHandler builds the Thrift forwarding leaf.
func NewProxyHandler(route *router.Route, pool *connector.Pool, connectTimeout, responseTimeout time.Duration, maxFrame int) *ProxyHandler {
	return &ProxyHandler{
		route:    route,
		pool:     pool,
		dialer:   connector.Dialer{Timeout: connectTimeout},
		rspBound: responseTimeout,
		maxFrame: maxFrame,
	}
}

// Pool exposes the keep-alive pool for generation inheritance.
func (h *ProxyHandler) Pool() *connector.Pool { return h.pool }

func (h *ProxyHandler) Handle(ctx context.Context, cx proxyctx.TLSDone, msg *Message) (*Message, error) {
	sel := h.route.Balancer().Select(h.route.Upstreams)
	up, ok := sel.Next()
	if !ok {
		return nil, errs.New(errs.ServerPolicy, "empty upstream pool")
	}

	key := connector.KeyFor(up, "thrift")

	if pc := h.pool.Get(key); pc != nil {
		resp, err, stale := h.exchange(ctx, pc, msg)
		if !stale {
			return resp, err
		}
		// Stale pooled connection; dial fresh and retry once. Nothing of
		// the response existed yet, so the replay is safe.
	}

	conn, err := h.dialer.Connect(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	resp, err, _ := h.exchange(ctx, h.pool.Wrap(key, conn), msg)
	return resp, err
}

// exchange writes the message frame and, for non-oneway calls, reads the
// reply frame. stale marks failures attributable to a dead pooled
// connection before any response bytes arrived.
func (h *ProxyHandler) exchange(ctx context.Context, pc *connector.PooledConn, msg *Message) (resp *Message, err error, stale bool) {
	stop := context.AfterFunc(ctx, func() { pc.Conn.Close() })
	defer stop()

	bw := bufio.NewWriter(pc.Conn)
	if err := WriteFrame(bw, msg.Frame); err == nil {
		err = bw.Flush()
		if err != nil {
			pc.Close()
			return nil, errs.Wrap(errs.UpstreamIo, "write message", err), pc.Reused
		}
	} else {
		pc.Close()
		return nil, errs.Wrap(errs.UpstreamIo, "write message", err), pc.Reused
	}

	if msg.Oneway() {
		pc.Release(true)
		return nil, nil, false
	}

	if h.rspBound > 0 {
		pc.Conn.SetReadDeadline(time.Now().Add(h.rspBound))
	}
	reply, err := ReadMessage(pc.BR, h.maxFrame)
	if err != nil {
		reused := pc.Reused
		pc.Close()
		if isTimeout(err) {
			return nil, errs.Wrap(errs.UpstreamTimeout, "read reply", err), false
		}
		if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
			return nil, errs.Wrap(errs.UpstreamIo, "read reply", err), reused
		}
		return nil, errs.Wrap(errs.UpstreamProto, "decode reply", err), false
	}
	pc.Conn.SetReadDeadline(time.Time{})

	pc.Release(true)
	return reply, nil, false
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
