package httpproxy

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

func gzipBody(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	io.WriteString(zw, s)
	zw.Close()
	return &buf
}

// TestContentHandlerDecodesRequest tests transparent gzip decode before
// the inner chain.
func TestContentHandlerDecodesRequest(t *testing.T) {
	var innerBody string
	inner := HandlerFunc(func(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		innerBody = string(b)
		if req.Header.Get("Content-Encoding") != "" {
			t.Error("encoding header must be gone after decode")
		}
		return &http.Response{
			StatusCode: 200, Proto: "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
			Header: http.Header{}, Body: http.NoBody, ContentLength: 0,
		}, nil
	})
	h := NewContentHandler(inner, 0)

	compressed := gzipBody(t, "plain payload")
	req, _ := http.NewRequest("POST", "http://x/", compressed)
	req.Header.Set("Content-Encoding", "gzip")
	req.ContentLength = int64(compressed.Len())

	if _, err := h.Handle(context.Background(), proxyctx.TLSDone{}, req); err != nil {
		t.Fatal(err)
	}
	if innerBody != "plain payload" {
		t.Errorf("inner saw %q", innerBody)
	}
}

// TestContentHandlerRejectsBadGzip tests the 400-class failure on
// corrupt encoded bodies.
func TestContentHandlerRejectsBadGzip(t *testing.T) {
	inner := HandlerFunc(func(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
		t.Error("inner must not run on a corrupt body")
		return nil, nil
	})
	h := NewContentHandler(inner, 0)

	req, _ := http.NewRequest("POST", "http://x/", bytes.NewReader([]byte("not gzip")))
	req.Header.Set("Content-Encoding", "gzip")
	req.ContentLength = 8

	_, err := h.Handle(context.Background(), proxyctx.TLSDone{}, req)
	if errs.KindOf(err) != errs.ClientProto {
		t.Errorf("expected ClientProto, got %v", err)
	}
}

// TestContentHandlerPassThrough tests that identity bodies are untouched.
func TestContentHandlerPassThrough(t *testing.T) {
	called := false
	inner := HandlerFunc(func(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
		called = true
		b, _ := io.ReadAll(req.Body)
		if string(b) != "as-is" {
			t.Errorf("body = %q", b)
		}
		return &http.Response{
			StatusCode: 200, Proto: "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
			Header: http.Header{}, Body: http.NoBody, ContentLength: 0,
		}, nil
	})
	h := NewContentHandler(inner, 0)

	req, _ := http.NewRequest("POST", "http://x/", bytes.NewReader([]byte("as-is")))
	if _, err := h.Handle(context.Background(), proxyctx.TLSDone{}, req); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("inner chain skipped")
	}
}
