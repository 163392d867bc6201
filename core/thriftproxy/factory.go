package thriftproxy

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/searchktools/fast-proxy/config"
	"github.com/searchktools/fast-proxy/core/connector"
	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/proxyctx"
	"github.com/searchktools/fast-proxy/core/router"
	"github.com/searchktools/fast-proxy/core/service"
	"github.com/searchktools/fast-proxy/core/tlsterm"
)

// Factory builds the Thrift pipeline for one server. Thrift messages
// carry no path, so the first configured route supplies the upstream
// pool and balancing policy.
type Factory struct {
	Cfg           config.ServerConfig
	Log           *slog.Logger
	PollerEntries int
}

// Make implements service.Factory; the previous generation's pool is
// inherited when present.
func (f *Factory) Make(prev service.ConnHandler) (service.ConnHandler, error) {
	if len(f.Cfg.Routes) == 0 {
		return nil, errs.New(errs.ConfigBuild, "thrift server needs a route")
	}
	rc := f.Cfg.Routes[0]

	ups := make([]proxyctx.Upstream, 0, len(rc.Upstreams))
	for _, uc := range rc.Upstreams {
		pe, err := uc.Endpoint.Parse()
		if err != nil {
			return nil, errs.Wrap(errs.ConfigBuild, "endpoint "+uc.Endpoint.Value, err)
		}
		ups = append(ups, proxyctx.Upstream{
			Scheme:    pe.Scheme,
			Authority: pe.Authority,
			Weight:    uc.Weight,
		})
	}
	var bal router.Balancer
	if rc.LoadBalancer == config.LBRoundRobin {
		bal = router.NewRoundRobin(ups)
	} else {
		bal = router.NewWeightedRandom()
	}
	table := router.New()
	route, err := table.Add(rc.Path, ups, bal)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigBuild, "route "+rc.Path, err)
	}

	var pool *connector.Pool
	if p, ok := prev.(*ConnService); ok {
		pool = p.proxy.Pool()
	} else {
		pool = connector.NewPool(0, 0, f.PollerEntries)
	}

	proxy := NewProxyHandler(route, pool,
		time.Duration(config.DefaultConnectTimeoutSec)*time.Second,
		f.Cfg.ThriftTimeout.MessageTimeout(),
		DefaultMaxFrameSize)

	var term *tlsterm.Terminator
	if f.Cfg.TLS != nil {
		t, err := tlsterm.New(f.Cfg.TLS.Chain, f.Cfg.TLS.Key,
			tlsterm.Stack(f.Cfg.TLS.Stack), f.Cfg.ThriftTimeout.MessageTimeout())
		if err != nil {
			return nil, err
		}
		term = t
	}

	server := NewServer(Options{
		Listener:         f.Cfg.Name,
		MessageTimeout:   f.Cfg.ThriftTimeout.MessageTimeout(),
		KeepaliveTimeout: f.Cfg.ThriftTimeout.KeepaliveTimeout(),
		MaxFrameSize:     DefaultMaxFrameSize,
	}, proxy, f.Log)

	return &ConnService{term: term, server: server, proxy: proxy}, nil
}

// ConnService is the assembled Thrift pipeline.
type ConnService struct {
	term   *tlsterm.Terminator
	server *Server
	proxy  *ProxyHandler
}

// ServeConn implements service.ConnHandler.
func (cs *ConnService) ServeConn(ctx context.Context, cx proxyctx.Accepted, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var stage proxyctx.TLSDone
	if cs.term != nil {
		tlsConn, done, err := cs.term.Terminate(ctx, cx, conn)
		if err != nil {
			return err
		}
		conn, stage = tlsConn, done
	} else {
		stage = proxyctx.Plaintext(cx)
	}

	spanCtx, span := observability.StartConnSpan(ctx,
		cx.Peer.String(), cx.Listener, cx.ConnID.String(), stage.SNI, stage.ALPN)
	defer span.End()

	return cs.server.Serve(spanCtx, stage, conn)
}
