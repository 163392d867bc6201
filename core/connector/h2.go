package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/searchktools/fast-proxy/config"
	"github.com/searchktools/fast-proxy/core/errs"
)

var errFirstByte = errors.New("upstream response header timeout")

// h2ClientConn returns a usable multiplexed connection for the key,
// dialing one when none exists. When negotiation on a TLS transport
// yields HTTP/1.1 instead (only possible in auto mode, which offers both
// protocols), the dialed connection is returned as raw for a per-stream
// downgrade.
func (c *Connector) h2ClientConn(ctx context.Context, key Key, tlsConf *tls.Config) (*http2.ClientConn, net.Conn, error) {
	c.h2mu.Lock()
	if cc, ok := c.h2conns[key]; ok {
		if cc.CanTakeNewRequest() {
			c.h2mu.Unlock()
			return cc, nil, nil
		}
		delete(c.h2conns, key)
		go cc.Close()
	}
	c.h2mu.Unlock()

	conn, err := c.Dialer.Connect(ctx, key, tlsConf)
	if err != nil {
		return nil, nil, err
	}
	if tc, ok := conn.(*tls.Conn); ok {
		if proto := tc.ConnectionState().NegotiatedProtocol; proto != "h2" {
			if c.version != config.VersionAuto {
				conn.Close()
				return nil, nil, errs.Newf(errs.UpstreamProto, "upstream %s did not negotiate h2 (alpn %q)", key.Addr(), proto)
			}
			return nil, conn, nil
		}
	}

	cc, err := c.h2tr.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, nil, errs.Wrap(errs.UpstreamConnect, "h2 handshake "+key.Addr(), err)
	}
	c.h2mu.Lock()
	c.h2conns[key] = cc
	c.h2mu.Unlock()
	return cc, nil, nil
}

// roundTripH2 sends one request as a stream on the key's shared
// connection. Stream-level failures surface per request; the transport
// stays up for other streams.
func (c *Connector) roundTripH2(ctx context.Context, cc *http2.ClientConn, req *http.Request) (*http.Response, error) {
	hctx, cancel := context.WithCancelCause(ctx)
	var timer *time.Timer
	if c.upstreamReadTimeout > 0 {
		timer = time.AfterFunc(c.upstreamReadTimeout, func() { cancel(errFirstByte) })
	}

	resp, err := cc.RoundTrip(req.WithContext(hctx))
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		cancel(nil)
		return nil, classifyH2Err(hctx, err)
	}

	// The stream context must stay alive while the body streams; the
	// wrapper releases it on close.
	resp.Body = &h2Body{rc: resp.Body, cancel: func() { cancel(nil) }}
	return resp, nil
}

func classifyH2Err(ctx context.Context, err error) error {
	if context.Cause(ctx) == errFirstByte {
		return errs.Wrap(errs.UpstreamTimeout, "read response head", errFirstByte)
	}
	var se http2.StreamError
	if errors.As(err, &se) {
		return errs.Wrap(errs.UpstreamIo, "stream reset", err)
	}
	if isTimeout(err) {
		return errs.Wrap(errs.UpstreamTimeout, "h2 round trip", err)
	}
	return errs.Wrap(errs.UpstreamIo, "h2 round trip", err)
}

type h2Body struct {
	rc     io.ReadCloser
	cancel func()
	done   bool
}

func (b *h2Body) Read(p []byte) (int, error) { return b.rc.Read(p) }

func (b *h2Body) Close() error {
	if b.done {
		return nil
	}
	b.done = true
	err := b.rc.Close()
	b.cancel()
	return err
}
