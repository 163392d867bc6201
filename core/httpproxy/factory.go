package httpproxy

import (
	"context"
	"log/slog"
	"net"

	"github.com/searchktools/fast-proxy/config"
	"github.com/searchktools/fast-proxy/core/connector"
	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/proxyctx"
	"github.com/searchktools/fast-proxy/core/router"
	"github.com/searchktools/fast-proxy/core/service"
	"github.com/searchktools/fast-proxy/core/tlsterm"
)

// Factory builds the complete HTTP pipeline for one server: route table,
// balancers, connector stack, handler chain, optional TLS termination.
// Make runs once per worker at startup and on every reload.
type Factory struct {
	Cfg config.ServerConfig
	Log *slog.Logger
	// PollerEntries sizes the pool watcher, from the runtime section.
	PollerEntries int
}

// Make implements service.Factory. When prev is a pipeline from the
// previous generation its warm connector pool is inherited, so reloads
// do not sever established upstream connections.
func (f *Factory) Make(prev service.ConnHandler) (service.ConnHandler, error) {
	table := router.New()
	for _, rc := range f.Cfg.Routes {
		ups := make([]proxyctx.Upstream, 0, len(rc.Upstreams))
		for _, uc := range rc.Upstreams {
			pe, err := uc.Endpoint.Parse()
			if err != nil {
				return nil, errs.Wrap(errs.ConfigBuild, "endpoint "+uc.Endpoint.Value, err)
			}
			ups = append(ups, proxyctx.Upstream{
				Scheme:     pe.Scheme,
				Authority:  pe.Authority,
				PathPrefix: pe.PathPrefix,
				Weight:     uc.Weight,
			})
		}
		var bal router.Balancer
		if rc.LoadBalancer == config.LBRoundRobin {
			bal = router.NewRoundRobin(ups)
		} else {
			bal = router.NewWeightedRandom()
		}
		if _, err := table.Add(rc.Path, ups, bal); err != nil {
			return nil, errs.Wrap(errs.ConfigBuild, "route "+rc.Path, err)
		}
	}

	var prevConn *connector.Connector
	if p, ok := prev.(*ConnService); ok {
		prevConn = p.upstream.Connector()
	}
	conn := connector.New(connector.Options{
		Version:             f.Cfg.UpstreamHTTPVersion,
		ConnectTimeout:      f.Cfg.HTTPTimeout.ConnectTimeout(),
		UpstreamReadTimeout: f.Cfg.HTTPTimeout.UpstreamReadTimeout(),
		PollerEntries:       f.PollerEntries,
	}, prevConn)

	upstream := NewUpstreamHandler(conn)
	var chain Handler = NewRouteHandler(table, upstream)
	if f.Cfg.HTTPOptHandlers.ContentHandler {
		chain = NewContentHandler(chain, DefaultContentBufferCap)
	}
	chain = NewConnReuse(chain)

	var term *tlsterm.Terminator
	if f.Cfg.TLS != nil {
		t, err := tlsterm.New(f.Cfg.TLS.Chain, f.Cfg.TLS.Key,
			tlsterm.Stack(f.Cfg.TLS.Stack), f.Cfg.HTTPTimeout.ReadHeaderTimeout())
		if err != nil {
			return nil, err
		}
		term = t
	}

	server := NewServer(Options{
		Listener:          f.Cfg.Name,
		ReadHeaderTimeout: f.Cfg.HTTPTimeout.ReadHeaderTimeout(),
		ReadBodyTimeout:   f.Cfg.HTTPTimeout.ReadBodyTimeout(),
		KeepaliveTimeout:  f.Cfg.HTTPTimeout.KeepaliveTimeout(),
	}, chain, f.Log)

	return &ConnService{term: term, server: server, upstream: upstream}, nil
}

// ConnService is the assembled per-generation pipeline: optional TLS
// termination in front of the HTTP server core.
type ConnService struct {
	term     *tlsterm.Terminator
	server   *Server
	upstream *UpstreamHandler
}

// ServeConn implements service.ConnHandler.
func (cs *ConnService) ServeConn(ctx context.Context, cx proxyctx.Accepted, conn net.Conn) error {
	// Forced shutdown cancels the task context; closing the socket is
	// what actually unblocks the loop.
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
