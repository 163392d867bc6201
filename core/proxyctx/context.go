// Package proxyctx carries per-connection facts down the service pipeline.
//
// The pipeline context is additive and staged: every pipeline position has
// its own struct type, and a layer that needs a fact takes the stage that
// contains it. Inserting a fact produces the next, richer stage, so the set
// of facts available at a given position is visible in the layer's
// signature and a mis-ordered pipeline does not compile. Layers must not
// reassign a field installed by a stage above them.
package proxyctx

import (
	"crypto/x509"
	"net"
	"time"

	"github.com/google/uuid"
)

// Accepted is the context stage produced by the acceptor: the facts known
// the moment a connection leaves accept(2).
type Accepted struct {
	// ConnID uniquely identifies the connection in logs and spans.
	ConnID uuid.UUID
	// Peer is the transport-level remote address.
	Peer net.Addr
	// Local is the address the connection arrived on.
	Local net.Addr
	// Listener names the binding that accepted the connection.
	Listener string
	// AcceptedAt is the acceptance timestamp.
	AcceptedAt time.Time
	// Generation is the pipeline generation active at accept time.
	Generation uint64

	proxySource net.Addr
}

// NewAccepted builds the initial stage for a fresh connection.
func NewAccepted(listener string, generation uint64, conn net.Conn) Accepted {
	return Accepted{
		ConnID:     uuid.New(),
		Peer:       conn.RemoteAddr(),
		Local:      conn.LocalAddr(),
		Listener:   listener,
		AcceptedAt: time.Now(),
		Generation: generation,
	}
}

// SetProxySource records the original client address recovered from a
// PROXY-protocol header. It may be called at most once, before the
// pipeline runs.
func (a *Accepted) SetProxySource(addr net.Addr) { a.proxySource = addr }

// ClientAddr returns the best-known client address: the PROXY-protocol
// source when present, else the transport peer.
func (a *Accepted) ClientAddr() net.Addr {
	if a.proxySource != nil {
		return a.proxySource
	}
	return a.Peer
}

// TLSDone is the stage after the TLS layer. Cleartext listeners pass
// through Plaintext so downstream layer types stay uniform; Terminated
// records which path produced the stage.
type TLSDone struct {
	Accepted

	// Terminated is true when a TLS handshake actually ran.
	Terminated bool
	// SNI is the server name sent by the client, if any.
	SNI string
	// ALPN is the negotiated application protocol, if any.
	ALPN string
	// PeerCert is the leaf certificate of a client that authenticated.
	PeerCert *x509.Certificate
}

// Plaintext lifts an Accepted stage across a listener with no TLS.
func Plaintext(a Accepted) TLSDone {
	return TLSDone{Accepted: a}
}

// Terminated builds the post-handshake stage.
func Terminated(a Accepted, sni, alpn string, peerCert *x509.Certificate) TLSDone {
	return TLSDone{Accepted: a, Terminated: true, SNI: sni, ALPN: alpn, PeerCert: peerCert}
}

// RouteMatch is the outcome of router lookup.
type RouteMatch struct {
	// Route is the identifier of the matched route (its path pattern).
	Route string
	// Params holds {name} and {*name} captures from the pattern.
	Params map[string]string
}

// Upstream describes one selected upstream target. It mirrors the
// config-level endpoint after canonicalization.
type Upstream struct {
	// Scheme is "http" or "https" for URI endpoints, "unix" for sockets.
	Scheme string
	// Authority is host:port for URI endpoints, the socket path for unix.
	Authority string
	// PathPrefix, when set, is prepended to the full request path.
	PathPrefix string
	// Weight is the configured selection weight (>= 1).
	Weight int
}

// Routed is the stage after routing and upstream selection.
type Routed struct {
	TLSDone

	// Match is the route that claimed the request.
	Match RouteMatch
	// Selected is the upstream chosen by the load balancer.
	Selected Upstream
}

// WithRoute installs routing facts on top of a TLSDone stage.
func WithRoute(t TLSDone, match RouteMatch, selected Upstream) Routed {
	return Routed{TLSDone: t, Match: match, Selected: selected}
}
