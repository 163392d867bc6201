// Package httpproxy implements the server-side HTTP data path: the
// HTTP/1.1 connection loop, the HTTP/2 stream branch, and the per-request
// handler chain (connection reuse, optional content decoding, routing,
// upstream forwarding). Wire framing is delegated to net/http and
// golang.org/x/net/http2.
package httpproxy

import (
	"net/http"
	"net/textproto"
	"strings"

	"github.com/searchktools/fast-proxy/core/errs"
)

// viaValue is appended once per hop on both directions.
const viaValue = "1.1 fast-proxy"

// hopByHopHeaders must not travel beyond one transport connection.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes hop-by-hop headers: first every token the
// Connection header names, then the fixed set, then any Proxy-* header.
func stripHopByHop(h http.Header) {
	for _, conn := range h.Values("Connection") {
		for tok := range strings.SplitSeq(conn, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				h.Del(tok)
			}
		}
	}
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
	for k := range h {
		if strings.HasPrefix(textproto.CanonicalMIMEHeaderKey(k), "Proxy-") {
			delete(h, k)
		}
	}
}

// appendVia adds this hop to the Via chain.
func appendVia(h http.Header) {
	h.Add("Via", viaValue)
}

// validateRequest enforces the head-level requirements the parser leaves
// to us: a Host for HTTP/1.1 and no contradictory framing declarations.
// http.ReadRequest already drops Content-Length from a chunked request,
// so such a request arrives here as plain chunked and is accepted; the
// Transfer-Encoding/Content-Length check fires only for requests that
// still carry both headers.
func validateRequest(req *http.Request) error {
	if req.ProtoMajor == 1 && req.ProtoMinor == 1 && req.Host == "" {
		return errs.New(errs.ClientProto, "HTTP/1.1 request without Host")
	}
	if len(req.TransferEncoding) > 0 && req.Header.Get("Content-Length") != "" {
		return errs.New(errs.ClientProto, "Transfer-Encoding with Content-Length")
	}
	if req.URL == nil || req.URL.Path == "" && req.Method != http.MethodOptions && req.Method != http.MethodConnect {
		return errs.New(errs.ClientProto, "request target missing path")
	}
	return nil
}
