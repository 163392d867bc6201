package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/searchktools/fast-proxy/core/errs"
)

// Dialer is the bottom layer of the connector stack: it produces a
// connected transport for a key, performing TLS origination when the key
// requires it.
type Dialer struct {
	// Timeout bounds connect plus TLS handshake.
	Timeout time.Duration
}

// Connect dials the key's transport. tlsConf must be non-nil exactly when
// key.TLS(); its ServerName and NextProtos are the caller's choice.
func (d *Dialer) Connect(ctx context.Context, key Key, tlsConf *tls.Config) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	nd := net.Dialer{}
	conn, err := nd.DialContext(ctx, key.Network(), key.Addr())
	if err != nil {
		upstreamDials.WithLabelValues(dialOutcome(err)).Inc()
		return nil, classifyDialErr(key, err)
	}

	if tlsConf != nil {
		tc := tls.Client(conn, tlsConf)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			upstreamDials.WithLabelValues(dialOutcome(err)).Inc()
			return nil, classifyDialErr(key, err)
		}
		conn = tc
	}

	upstreamDials.WithLabelValues("ok").Inc()
	return conn, nil
}

func dialOutcome(err error) string {
	if isTimeout(err) {
		return "timeout"
	}
	return "error"
}

func classifyDialErr(key Key, err error) error {
	if isTimeout(err) {
		return errs.Wrap(errs.UpstreamTimeout, "connect "+key.Addr(), err)
	}
	return errs.Wrap(errs.UpstreamConnect, "connect "+key.Addr(), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
