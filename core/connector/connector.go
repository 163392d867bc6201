package connector

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/searchktools/fast-proxy/config"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Options configures a Connector.
type Options struct {
	// Version is the upstream HTTP version policy.
	Version config.HTTPVersion
	// ConnectTimeout bounds dial plus TLS origination.
	ConnectTimeout time.Duration
	// UpstreamReadTimeout bounds the wait for the first response byte.
	UpstreamReadTimeout time.Duration
	// IdleTimeout is the pool keep-alive deadline (0: default).
	IdleTimeout time.Duration
	// MaxIdlePerKey caps idle pool entries per key (0: default).
	MaxIdlePerKey int
	// PollerEntries sizes the pool's readiness watcher buffer.
	PollerEntries int
}

// Connector is the assembled client-side stack for one server pipeline:
// pool over protocol clients over optional TLS over the dialer. One
// Connector exists per worker; nothing in it is shared across workers.
type Connector struct {
	Dialer Dialer

	version             config.HTTPVersion
	upstreamReadTimeout time.Duration

	pool *Pool

	h2tr    *http2.Transport
	h2mu    sync.Mutex
	h2conns map[Key]*http2.ClientConn
}

// New builds a Connector. When prev is non-nil its warm pool is adopted
// so a reload does not discard established upstream connections.
func New(opts Options, prev *Connector) *Connector {
	c := &Connector{
		Dialer:              Dialer{Timeout: opts.ConnectTimeout},
		version:             opts.Version,
		upstreamReadTimeout: opts.UpstreamReadTimeout,
		h2tr:                &http2.Transport{AllowHTTP: true},
		h2conns:             make(map[Key]*http2.ClientConn),
	}
	if prev != nil && prev.pool != nil {
		// Share the warm pool with the outgoing generation; connections
		// still in flight on the old pipeline keep using it.
		c.pool = prev.pool
	} else {
		c.pool = NewPool(opts.IdleTimeout, opts.MaxIdlePerKey, opts.PollerEntries)
	}
	return c
}

// Pool exposes the keep-alive pool for sibling protocol stacks (the
// framed Thrift client pools through the same layer).
func (c *Connector) Pool() *Pool { return c.pool }

// Close releases pooled and multiplexed connections. It must not run
// while requests are in flight on this instance.
func (c *Connector) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
	c.h2mu.Lock()
	for key, cc := range c.h2conns {
		cc.Close()
		delete(c.h2conns, key)
	}
	c.h2mu.Unlock()
}

// RoundTrip forwards req to the selected upstream and returns its
// response. downstreamH2 tells the auto policy what the client spoke.
// The returned response body owns the underlying transport resource.
func (c *Connector) RoundTrip(ctx context.Context, up proxyctx.Upstream, req *http.Request, downstreamH2 bool) (*http.Response, error) {
	wantH2 := false
	switch c.version {
	case config.VersionHTTP2:
		wantH2 = true
	case config.VersionAuto:
		// Cleartext upstreams would need prior knowledge, which auto may
		// not assume; only TLS upstreams can match a downstream h2.
		wantH2 = downstreamH2 && up.Scheme == "https"
	}

	if wantH2 {
		return c.forwardH2(ctx, up, req)
	}
	return c.forwardH1(ctx, up, req)
}

func (c *Connector) forwardH1(ctx context.Context, up proxyctx.Upstream, req *http.Request) (*http.Response, error) {
	key := KeyFor(up, "http/1.1")

	if pc := c.pool.Get(key); pc != nil {
		resp, err := c.roundTripH1(ctx, pc, req)
		if err == nil || !isStaleConn(err) || !replayable(req) {
			return resp, err
		}
		// The pooled connection died between probe and write; one retry
		// on a fresh dial. Requests that already streamed a body are not
		// replayed.
	}

	pc, err := c.dialH1(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.roundTripH1(ctx, pc, req)
}

// replayable reports whether a request can safely be written a second
// time: nothing of its body has been consumed by a first attempt.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody
}

func (c *Connector) dialH1(ctx context.Context, key Key) (*PooledConn, error) {
	var tlsConf *tls.Config
	if key.TLS() {
		tlsConf = &tls.Config{
			ServerName: key.Host,
			NextProtos: []string{"http/1.1"},
		}
	}
	conn, err := c.Dialer.Connect(ctx, key, tlsConf)
	if err != nil {
		return nil, err
	}
	return c.pool.Wrap(key, conn), nil
}

func (c *Connector) forwardH2(ctx context.Context, up proxyctx.Upstream, req *http.Request) (*http.Response, error) {
	key := KeyFor(up, "h2")

	var tlsConf *tls.Config
	if key.TLS() {
		protos := []string{"h2"}
		if c.version == config.VersionAuto {
			protos = []string{"h2", "http/1.1"}
		}
		tlsConf = &tls.Config{ServerName: key.Host, NextProtos: protos}
	}

	cc, raw, err := c.h2ClientConn(ctx, key, tlsConf)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		// ALPN settled on HTTP/1.1: downgrade this stream.
		pc := c.pool.Wrap(KeyFor(up, "http/1.1"), raw)
		return c.roundTripH1(ctx, pc, req)
	}
	return c.roundTripH2(ctx, cc, req)
}
