// Package tlsterm terminates TLS on accepted connections and surfaces
// the handshake facts (SNI, ALPN, client certificate) into the pipeline
// context. Two interchangeable termination profiles are offered; both
// advertise h2 and http/1.1 so the protocol branch after termination is
// driven by ALPN.
package tlsterm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Stack selects the termination profile.
type Stack string

const (
	// StackStd uses the library's default protocol and cipher policy
	// (TLS 1.2 minimum).
	StackStd Stack = "std"
	// StackStrict restricts the handshake to TLS 1.3.
	StackStrict Stack = "strict"
)

// alpnProtocols is offered on every terminated listener, preference order.
var alpnProtocols = []string{"h2", "http/1.1"}

// Terminator performs accept-side handshakes for one listener.
type Terminator struct {
	conf    *tls.Config
	timeout time.Duration
}

// New loads the certificate material and builds a Terminator. File I/O
// happens here, at factory build time, never on the data path.
// handshakeTimeout bounds the handshake; the handshake counts against the
// listener's first-byte budget.
func New(chainFile, keyFile string, stack Stack, handshakeTimeout time.Duration) (*Terminator, error) {
	cert, err := tls.LoadX509KeyPair(chainFile, keyFile)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigBuild, "load tls material", err)
	}

	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   alpnProtocols,
		// Surface a client certificate when one is volunteered, without
		// requiring one.
		ClientAuth: tls.RequestClientCert,
	}
	switch stack {
	case StackStd, "":
		conf.MinVersion = tls.VersionTLS12
	case StackStrict:
		conf.MinVersion = tls.VersionTLS13
	default:
		return nil, errs.Newf(errs.ConfigBuild, "unknown tls stack %q", stack)
	}

	return &Terminator{conf: conf, timeout: handshakeTimeout}, nil
}

// Terminate runs the handshake and produces the TLS context stage. On
// failure the connection is closed and a TlsHandshake error returned.
func (t *Terminator) Terminate(ctx context.Context, cx proxyctx.Accepted, conn net.Conn) (net.Conn, proxyctx.TLSDone, error) {
	tc := tls.Server(conn, t.conf)

	hctx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := tc.HandshakeContext(hctx); err != nil {
		conn.Close()
		return nil, proxyctx.TLSDone{}, errs.Wrap(errs.TlsHandshake,
			fmt.Sprintf("handshake with %s", cx.Peer), err)
	}

	state := tc.ConnectionState()
	var peerCert *x509.Certificate
	if len(state.PeerCertificates) > 0 {
		peerCert = state.PeerCertificates[0]
	}
	return tc, proxyctx.Terminated(cx, state.ServerName, state.NegotiatedProtocol, peerCert), nil
}
