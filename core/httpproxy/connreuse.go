package httpproxy

import (
	"context"
	"net/http"
	"strings"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// ConnReuse judges whether the exchange supports keep-alive and settles
// the downstream Connection framing on the response. HTTP/1.0 requests
// are upgraded to 1.1 for the upstream leg and restored on the way back,
// mirroring proxies that pin their upstream protocol version.
type ConnReuse struct {
	inner Handler
}

// NewConnReuse wraps inner with keep-alive accounting.
func NewConnReuse(inner Handler) *ConnReuse {
	return &ConnReuse{inner: inner}
}

func (h *ConnReuse) Handle(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
	if req.ProtoMajor == 2 {
		// Stream lifetime is the h2 layer's business.
		return h.inner.Handle(ctx, cx, req)
	}

	keepalive := wantsKeepalive(req)

	if req.ProtoMinor == 0 {
		req.Proto = "HTTP/1.1"
		req.ProtoMinor = 1
		req.Header.Del("Connection")

		resp, err := h.inner.Handle(ctx, cx, req)
		if err != nil {
			return nil, err
		}
		resp.Proto = "HTTP/1.0"
		resp.ProtoMajor = 1
		resp.ProtoMinor = 0
		resp.Header.Del("Connection")
		if keepalive && !resp.Close {
			resp.Header.Set("Connection", "keep-alive")
		} else {
			resp.Close = true
		}
		return resp, nil
	}

	req.Header.Del("Connection")
	resp, err := h.inner.Handle(ctx, cx, req)
	if err != nil {
		return nil, err
	}
	resp.Header.Del("Connection")
	if !keepalive {
		// Response.Write emits the Connection: close line for us.
		resp.Close = true
	}
	return resp, nil
}

// wantsKeepalive interprets the downstream Connection header by version:
// 1.0 opts in with keep-alive, 1.1 opts out with close.
func wantsKeepalive(req *http.Request) bool {
	conn := req.Header.Get("Connection")
	if req.ProtoMinor == 0 {
		return strings.EqualFold(conn, "keep-alive")
	}
	return !strings.EqualFold(conn, "close")
}
