package httpproxy

import (
	"context"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/searchktools/fast-proxy/core/connector"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// UpstreamHandler is the innermost member of the chain: it forwards the
// request over the connector stack and relays the upstream response. It
// is also where hop-by-hop hygiene and the Via header are applied to
// both directions.
type UpstreamHandler struct {
	connector *connector.Connector
}

// NewUpstreamHandler builds the forwarding leaf over a connector.
func NewUpstreamHandler(c *connector.Connector) *UpstreamHandler {
	return &UpstreamHandler{connector: c}
}

// Connector exposes the warm stack so the next generation's factory can
// inherit it.
func (h *UpstreamHandler) Connector() *connector.Connector { return h.connector }

func (h *UpstreamHandler) HandleRouted(ctx context.Context, cx proxyctx.Routed, req *http.Request) (*http.Response, error) {
	setForwarded(req.Header, cx.ClientAddr())
	stripHopByHop(req.Header)
	appendVia(req.Header)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String(observability.AttrRoute, cx.Match.Route),
			attribute.String(observability.AttrUpstream, cx.Selected.Scheme+"://"+cx.Selected.Authority),
		)
	}

	downstreamH2 := req.ProtoMajor == 2
	resp, err := h.connector.RoundTrip(ctx, cx.Selected, req, downstreamH2)
	if err != nil {
		return nil, err
	}

	stripHopByHop(resp.Header)
	appendVia(resp.Header)
	return resp, nil
}

// setForwarded stamps the client address upstream. Both the modern
// Forwarded form and the conventional X-Forwarded-For are written.
func setForwarded(h http.Header, addr net.Addr) {
	if addr == nil {
		return
	}
	host := addr.String()
	if hp, _, err := net.SplitHostPort(host); err == nil {
		host = hp
	}
	if host == "" {
		return
	}
	h.Set("Forwarded", "for="+host)
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+host)
	} else {
		h.Set("X-Forwarded-For", host)
	}
}
