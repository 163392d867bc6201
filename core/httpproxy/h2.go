package httpproxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/http2"

	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/pools"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// serveH2 runs the HTTP/2 branch: the stream layer multiplexes, and each
// stream runs the same handler chain as an HTTP/1.1 exchange. A stream
// failure answers that stream only; the connection survives.
func (s *Server) serveH2(ctx context.Context, cx proxyctx.TLSDone, conn net.Conn) error {
	h2s := &http2.Server{
		IdleTimeout:          s.opts.KeepaliveTimeout,
		MaxConcurrentStreams: 256,
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleStream(cx, w, r)
	})

	h2s.ServeConn(conn, &http2.ServeConnOpts{
		Context: ctx,
		Handler: handler,
		BaseConfig: &http.Server{
			ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		},
	})
	return nil
}

func (s *Server) handleStream(cx proxyctx.TLSDone, w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	reqCtx, span := observability.StartRequestSpan(r.Context(), r.Method, r.URL.Path)
	defer span.End()
	r = r.WithContext(reqCtx)

	status := http.StatusOK
	resp, err := s.chain.Handle(reqCtx, cx, r)
	if err != nil {
		status = statusForError(err)
		s.log.Warn("stream failed",
			"listener", s.opts.Listener, "conn", cx.ConnID.String(),
			"method", r.Method, "path", r.URL.Path, "error", err)
		span.SetStatus(codes.Error, err.Error())
		if status == 0 {
			status = http.StatusBadGateway
		}
		w.Header().Add("Via", viaValue)
		w.WriteHeader(status)
	} else {
		status = resp.StatusCode
		hdr := w.Header()
		for k, vv := range resp.Header {
			hdr[k] = vv
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != nil {
			buf := pools.Relay.Get(32 << 10)
			io.CopyBuffer(w, resp.Body, buf)
			pools.Relay.Put(buf)
			resp.Body.Close()
		}
	}

	span.SetAttributes(attribute.Int(observability.AttrStatus, status))
	observability.Requests.WithLabelValues(s.opts.Listener, observability.StatusClass(status)).Inc()
	observability.RequestDuration.WithLabelValues(s.opts.Listener).Observe(time.Since(start).Seconds())
}
