// Package config holds the user-facing configuration model of the proxy:
// the runtime section, per-server listener/route/timeout settings, and the
// ambient logging and telemetry sections. Loading supports TOML (primary),
// JSON, and YAML; see Load.
package config

import (
	"runtime"
	"time"
)

// RuntimeType selects the I/O driver of the worker fleet.
type RuntimeType string

const (
	// RuntimeReadiness drives I/O off readiness notifications.
	RuntimeReadiness RuntimeType = "readiness"
	// RuntimeCompletion requests a completion-based driver. It is accepted
	// and currently served by the readiness driver; see DESIGN.md.
	RuntimeCompletion RuntimeType = "completion"
)

// ProxyType selects the application protocol a server speaks.
type ProxyType string

const (
	ProxyHTTP   ProxyType = "http"
	ProxyThrift ProxyType = "thrift"
)

// HTTPVersion selects the protocol spoken to upstreams.
type HTTPVersion string

const (
	// VersionAuto matches the downstream request version when feasible.
	VersionAuto HTTPVersion = "auto"
	// VersionHTTP11 always speaks HTTP/1.1 upstream.
	VersionHTTP11 HTTPVersion = "http11"
	// VersionHTTP2 always attempts HTTP/2 upstream: ALPN-negotiated over
	// TLS, prior knowledge over cleartext.
	VersionHTTP2 HTTPVersion = "http2"
)

// LoadBalancerKind names a selection policy.
type LoadBalancerKind string

const (
	LBRandom     LoadBalancerKind = "random"
	LBRoundRobin LoadBalancerKind = "round_robin"
)

// Config is the root of the configuration tree.
type Config struct {
	Runtime   RuntimeConfig           `toml:"runtime" json:"runtime" yaml:"runtime"`
	Log       LogConfig               `toml:"log" json:"log" yaml:"log"`
	Telemetry TelemetryConfig         `toml:"telemetry" json:"telemetry" yaml:"telemetry"`
	Servers   map[string]ServerConfig `toml:"servers" json:"servers" yaml:"servers"`
}

// RuntimeConfig configures the worker fleet.
type RuntimeConfig struct {
	RuntimeType   RuntimeType `toml:"runtime_type" json:"runtime_type" yaml:"runtime_type"`
	WorkerThreads int         `toml:"worker_threads" json:"worker_threads" yaml:"worker_threads"`
	// Entries sizes the per-worker poller event buffer.
	Entries int `toml:"entries" json:"entries" yaml:"entries"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`    // debug|info|warn|error
	Format string `toml:"format" json:"format" yaml:"format"` // json|text
}

// TelemetryConfig configures tracing export and the metrics listener.
type TelemetryConfig struct {
	// OTLPEndpoint, when set, enables OTLP/gRPC span export.
	OTLPEndpoint string `toml:"otlp_endpoint" json:"otlp_endpoint" yaml:"otlp_endpoint"`
	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string `toml:"metrics_addr" json:"metrics_addr" yaml:"metrics_addr"`
}

// ServerConfig describes one listening server and its pipeline.
type ServerConfig struct {
	Name                string          `toml:"name" json:"name" yaml:"name"`
	ProxyType           ProxyType       `toml:"proxy_type" json:"proxy_type" yaml:"proxy_type"`
	Listener            ListenerConfig  `toml:"listener" json:"listener" yaml:"listener"`
	UpstreamHTTPVersion HTTPVersion     `toml:"upstream_http_version" json:"upstream_http_version" yaml:"upstream_http_version"`
	TLS                 *TLSConfig      `toml:"tls" json:"tls,omitempty" yaml:"tls"`
	HTTPTimeout         *HTTPTimeout    `toml:"http_timeout" json:"http_timeout,omitempty" yaml:"http_timeout"`
	ThriftTimeout       *ThriftTimeout  `toml:"thrift_timeout" json:"thrift_timeout,omitempty" yaml:"thrift_timeout"`
	HTTPOptHandlers     HTTPOptHandlers `toml:"http_opt_handlers" json:"http_opt_handlers" yaml:"http_opt_handlers"`
	Routes              []RouteConfig   `toml:"routes" json:"routes" yaml:"routes"`
}

// ListenerConfig is the listen surface: a TCP socket address or a Unix
// socket path.
type ListenerConfig struct {
	Type  string `toml:"type" json:"type" yaml:"type"` // socket|unix
	Value string `toml:"value" json:"value" yaml:"value"`
}

// TLSConfig points at the certificate material for accept-side TLS.
type TLSConfig struct {
	Chain string `toml:"chain" json:"chain" yaml:"chain"`
	Key   string `toml:"key" json:"key" yaml:"key"`
	// Stack selects the termination profile: "std" or "strict".
	Stack string `toml:"stack" json:"stack" yaml:"stack"`
}

// HTTPTimeout carries the HTTP server and upstream deadlines, in seconds.
// Zero means the default for that bound.
type HTTPTimeout struct {
	// Idle time allowed between exchanges on a kept-alive connection.
	// Like nginx keepalive_timeout.
	ServerKeepaliveTimeoutSec uint64 `toml:"server_keepalive_timeout_sec" json:"server_keepalive_timeout_sec" yaml:"server_keepalive_timeout_sec"`
	// Time to read a full request head. Like nginx client_header_timeout.
	ServerReadHeaderTimeoutSec uint64 `toml:"server_read_header_timeout_sec" json:"server_read_header_timeout_sec" yaml:"server_read_header_timeout_sec"`
	// Time to receive the full request body. Like nginx client_body_timeout.
	ServerReadBodyTimeoutSec uint64 `toml:"server_read_body_timeout_sec" json:"server_read_body_timeout_sec" yaml:"server_read_body_timeout_sec"`
	// Time to establish an upstream connection. Like nginx proxy_connect_timeout.
	UpstreamConnectTimeoutSec uint64 `toml:"upstream_connect_timeout_sec" json:"upstream_connect_timeout_sec" yaml:"upstream_connect_timeout_sec"`
	// Time from request forwarded to first byte of the response head.
	UpstreamReadTimeoutSec uint64 `toml:"upstream_read_timeout_sec" json:"upstream_read_timeout_sec" yaml:"upstream_read_timeout_sec"`
}

// ThriftTimeout carries the Thrift server deadlines, in seconds.
type ThriftTimeout struct {
	ServerKeepaliveTimeoutSec uint64 `toml:"server_keepalive_timeout_sec" json:"server_keepalive_timeout_sec" yaml:"server_keepalive_timeout_sec"`
	ServerMessageTimeoutSec   uint64 `toml:"server_message_timeout_sec" json:"server_message_timeout_sec" yaml:"server_message_timeout_sec"`
}

// HTTPOptHandlers toggles optional members of the HTTP handler chain.
type HTTPOptHandlers struct {
	// ContentHandler enables transparent decoding of gzip request bodies
	// and gzip encoding of the matching responses. It buffers bodies up to
	// an internal cap.
	ContentHandler bool `toml:"content_handler" json:"content_handler" yaml:"content_handler"`
}

// RouteConfig is one routing rule of a server.
type RouteConfig struct {
	Path         string           `toml:"path" json:"path" yaml:"path"`
	LoadBalancer LoadBalancerKind `toml:"load_balancer" json:"load_balancer" yaml:"load_balancer"`
	Upstreams    []UpstreamConfig `toml:"upstreams" json:"upstreams" yaml:"upstreams"`
}

// UpstreamConfig is one candidate target of a route.
type UpstreamConfig struct {
	Weight   int            `toml:"weight" json:"weight" yaml:"weight"`
	Endpoint EndpointConfig `toml:"endpoint" json:"endpoint" yaml:"endpoint"`
}

// EndpointConfig addresses an upstream: a URI or a Unix socket path.
type EndpointConfig struct {
	Type  string `toml:"type" json:"type" yaml:"type"` // uri|unix
	Value string `toml:"value" json:"value" yaml:"value"`
}

// Default deadlines, in seconds.
const (
	DefaultKeepaliveTimeoutSec  = 75
	DefaultReadHeaderTimeoutSec = 15
	DefaultReadBodyTimeoutSec   = 15
	DefaultConnectTimeoutSec    = 2
	DefaultUpstreamReadSec      = 15
	DefaultMessageTimeoutSec    = 15
	DefaultPollerEntries        = 32768
)

func secs(v, def uint64) time.Duration {
	if v == 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// KeepaliveTimeout returns the keep-alive idle bound as a duration.
func (t *HTTPTimeout) KeepaliveTimeout() time.Duration {
	if t == nil {
		return secs(0, DefaultKeepaliveTimeoutSec)
	}
	return secs(t.ServerKeepaliveTimeoutSec, DefaultKeepaliveTimeoutSec)
}

// ReadHeaderTimeout returns the request-head read bound as a duration.
func (t *HTTPTimeout) ReadHeaderTimeout() time.Duration {
	if t == nil {
		return secs(0, DefaultReadHeaderTimeoutSec)
	}
	return secs(t.ServerReadHeaderTimeoutSec, DefaultReadHeaderTimeoutSec)
}

// ReadBodyTimeout returns the request-body read bound as a duration.
func (t *HTTPTimeout) ReadBodyTimeout() time.Duration {
	if t == nil {
		return secs(0, DefaultReadBodyTimeoutSec)
	}
	return secs(t.ServerReadBodyTimeoutSec, DefaultReadBodyTimeoutSec)
}

// ConnectTimeout returns the upstream connect bound as a duration.
func (t *HTTPTimeout) ConnectTimeout() time.Duration {
	if t == nil {
		return secs(0, DefaultConnectTimeoutSec)
	}
	return secs(t.UpstreamConnectTimeoutSec, DefaultConnectTimeoutSec)
}

// UpstreamReadTimeout returns the upstream first-byte bound as a duration.
func (t *HTTPTimeout) UpstreamReadTimeout() time.Duration {
	if t == nil {
		return secs(0, DefaultUpstreamReadSec)
	}
	return secs(t.UpstreamReadTimeoutSec, DefaultUpstreamReadSec)
}

// KeepaliveTimeout returns the Thrift keep-alive idle bound as a duration.
func (t *ThriftTimeout) KeepaliveTimeout() time.Duration {
	if t == nil {
		return secs(0, DefaultKeepaliveTimeoutSec)
	}
	return secs(t.ServerKeepaliveTimeoutSec, DefaultKeepaliveTimeoutSec)
}

// MessageTimeout returns the per-message read bound as a duration.
func (t *ThriftTimeout) MessageTimeout() time.Duration {
	if t == nil {
		return secs(0, DefaultMessageTimeoutSec)
	}
	return secs(t.ServerMessageTimeoutSec, DefaultMessageTimeoutSec)
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Runtime.RuntimeType == "" {
		c.Runtime.RuntimeType = RuntimeReadiness
	}
	if c.Runtime.WorkerThreads <= 0 {
		c.Runtime.WorkerThreads = runtime.GOMAXPROCS(0)
	}
	if c.Runtime.Entries <= 0 {
		c.Runtime.Entries = DefaultPollerEntries
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	for name, srv := range c.Servers {
		if srv.Name == "" {
			srv.Name = name
		}
		if srv.ProxyType == "" {
			srv.ProxyType = ProxyHTTP
		}
		if srv.UpstreamHTTPVersion == "" {
			srv.UpstreamHTTPVersion = VersionAuto
		}
		if srv.TLS != nil && srv.TLS.Stack == "" {
			srv.TLS.Stack = "std"
		}
		for i := range srv.Routes {
			if srv.Routes[i].LoadBalancer == "" {
				srv.Routes[i].LoadBalancer = LBRandom
			}
			for j := range srv.Routes[i].Upstreams {
				if srv.Routes[i].Upstreams[j].Weight <= 0 {
					srv.Routes[i].Upstreams[j].Weight = 1
				}
				if srv.Routes[i].Upstreams[j].Endpoint.Type == "" {
					srv.Routes[i].Upstreams[j].Endpoint.Type = "uri"
				}
			}
		}
		c.Servers[name] = srv
	}
}

// MaxKeepalive returns the largest keep-alive timeout across all servers;
// graceful shutdown uses it as the drain grace interval.
func (c *Config) MaxKeepalive() time.Duration {
	max := time.Duration(0)
	for _, srv := range c.Servers {
		var d time.Duration
		switch srv.ProxyType {
		case ProxyThrift:
			d = srv.ThriftTimeout.KeepaliveTimeout()
		default:
			d = srv.HTTPTimeout.KeepaliveTimeout()
		}
		if d > max {
			max = d
		}
	}
	return max
}
