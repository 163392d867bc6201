package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/searchktools/fast-proxy"

// Span attribute keys. Connection spans carry the peer, listener, and
// handshake facts; request child spans carry method/path/status and the
// chosen upstream.
const (
	AttrPeer         = "proxy.peer"
	AttrListener     = "proxy.listener"
	AttrConnID       = "proxy.conn_id"
	AttrSNI          = "proxy.tls.sni"
	AttrALPN         = "proxy.tls.alpn"
	AttrRoute        = "proxy.route"
	AttrUpstream     = "proxy.upstream"
	AttrMethod       = "http.method"
	AttrPath         = "http.path"
	AttrStatus       = "http.status_code"
	AttrThriftMethod = "thrift.method"
	AttrThriftSeqID  = "thrift.seq_id"
)

// SetupTracing installs an OTLP/gRPC span exporter when an endpoint is
// configured; with an empty endpoint spans stay local no-ops. The
// returned shutdown function flushes pending spans.
func SetupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the proxy's tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartConnSpan opens the per-connection span.
func StartConnSpan(ctx context.Context, peer, listener, connID, sni, alpn string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "proxy.connection", trace.WithAttributes(
		attribute.String(AttrPeer, peer),
		attribute.String(AttrListener, listener),
		attribute.String(AttrConnID, connID),
		attribute.String(AttrSNI, sni),
		attribute.String(AttrALPN, alpn),
	))
}

// StartRequestSpan opens a per-request child span.
func StartRequestSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "proxy.request", trace.WithAttributes(
		attribute.String(AttrMethod, method),
		attribute.String(AttrPath, path),
	))
}
