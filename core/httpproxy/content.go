package httpproxy

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// DefaultContentBufferCap bounds bodies the content handler is willing to
// materialize.
const DefaultContentBufferCap = 4 << 20

// ContentHandler transparently decodes gzip request bodies before they
// reach inner handlers. The response is gzip-encoded only for a request
// whose body arrived gzip-encoded, and only when the client accepts gzip,
// the response carries no Content-Encoding, and its length is known and
// within bufferCap; requests without a gzip body pass through untouched.
// It is the one handler allowed to buffer a body, capped at bufferCap;
// everything else in the chain streams.
type ContentHandler struct {
	inner     Handler
	bufferCap int64
}

// NewContentHandler wraps inner with content decoding.
func NewContentHandler(inner Handler, bufferCap int64) *ContentHandler {
	if bufferCap <= 0 {
		bufferCap = DefaultContentBufferCap
	}
	return &ContentHandler{inner: inner, bufferCap: bufferCap}
}

func (h *ContentHandler) Handle(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
	encoding := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Encoding")))
	acceptsGzip := headerHasToken(req.Header, "Accept-Encoding", "gzip")

	if encoding != "gzip" || req.Body == nil || req.Body == http.NoBody {
		return h.inner.Handle(ctx, cx, req)
	}

	decoded, err := h.decodeBody(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(decoded))
	req.ContentLength = int64(len(decoded))
	req.TransferEncoding = nil
	req.Header.Del("Content-Encoding")
	req.Header.Set("Content-Length", strconv.Itoa(len(decoded)))

	resp, err := h.inner.Handle(ctx, cx, req)
	if err != nil {
		return nil, err
	}

	if acceptsGzip && resp.Header.Get("Content-Encoding") == "" &&
		resp.ContentLength > 0 && resp.ContentLength <= h.bufferCap {
		h.encodeResponse(resp)
	}
	return resp, nil
}

func (h *ContentHandler) decodeBody(body io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, errs.Wrap(errs.ClientProto, "gzip request body", err)
	}
	defer zr.Close()
	decoded, err := io.ReadAll(io.LimitReader(zr, h.bufferCap+1))
	if err != nil {
		return nil, errs.Wrap(errs.ClientProto, "gzip request body", err)
	}
	if int64(len(decoded)) > h.bufferCap {
		return nil, errs.Newf(errs.ClientProto, "decoded body exceeds %d bytes", h.bufferCap)
	}
	return decoded, nil
}

// encodeResponse gzips a small, fully known body. Failure leaves the
// response untouched only when nothing was consumed, so it buffers first.
func (h *ContentHandler) encodeResponse(resp *http.Response) {
	plain, err := io.ReadAll(io.LimitReader(resp.Body, h.bufferCap))
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(plain))
		resp.ContentLength = int64(len(plain))
		return
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(plain)
	zw.Close()

	resp.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))
	resp.ContentLength = int64(buf.Len())
	resp.Header.Set("Content-Encoding", "gzip")
	resp.Header.Set("Content-Length", strconv.Itoa(buf.Len()))
	resp.Header.Del("Content-Range")
}

func headerHasToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for part := range strings.SplitSeq(v, ",") {
			part = strings.TrimSpace(part)
			if i := strings.IndexByte(part, ';'); i >= 0 {
				part = part[:i]
			}
			if strings.EqualFold(part, token) {
				return true
			}
		}
	}
	return false
}
