// Package connector implements the client-side half of the proxy: a
// layered stack of transport dialer, optional TLS origination, protocol
// clients (HTTP/1.1, HTTP/2, framed transports), and a per-worker
// keep-alive pool that fronts them.
package connector

import (
	"strings"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Key canonically identifies an upstream transport for pooling. Two
// requests may share a pooled connection only when their keys are equal.
type Key struct {
	// Scheme is "http", "https", or "unix".
	Scheme string
	// Host is the lowercased host, or the socket path for unix.
	Host string
	// Port is the explicit port ("" for unix).
	Port string
	// ALPN is the application protocol the connection must speak:
	// "http/1.1", "h2", "thrift", or "" when any is acceptable.
	ALPN string
	// ClientCertID distinguishes client identities presented upstream.
	ClientCertID string
}

// KeyFor canonicalizes an upstream endpoint plus required ALPN into a
// pool key. Default ports are made explicit so "host" and "host:80"
// collapse to the same key.
func KeyFor(up proxyctx.Upstream, alpn string) Key {
	if up.Scheme == "unix" {
		return Key{Scheme: "unix", Host: up.Authority, ALPN: alpn}
	}
	host := up.Authority
	port := ""
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host, port = host[:i], host[i+1:]
	}
	if port == "" {
		if up.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return Key{
		Scheme: up.Scheme,
		Host:   strings.ToLower(host),
		Port:   port,
		ALPN:   alpn,
	}
}

// Addr returns the dial address for the key.
func (k Key) Addr() string {
	if k.Scheme == "unix" {
		return k.Host
	}
	return k.Host + ":" + k.Port
}

// Network returns the dial network for the key.
func (k Key) Network() string {
	if k.Scheme == "unix" {
		return "unix"
	}
	return "tcp"
}

// TLS reports whether the transport requires TLS origination.
func (k Key) TLS() bool { return k.Scheme == "https" }

func (k Key) String() string {
	return k.Scheme + "://" + k.Addr() + "|" + k.ALPN + "|" + k.ClientCertID
}
