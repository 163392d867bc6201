package httpproxy

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okChain(body string) Handler {
	return HandlerFunc(func(ctx context.Context, cx proxyctx.TLSDone, req *http.Request) (*http.Response, error) {
		resp := &http.Response{
			StatusCode:    200,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        http.Header{},
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       req,
		}
		appendVia(resp.Header)
		return resp, nil
	})
}

func pipeServer(t *testing.T, chain Handler, opts Options) net.Conn {
	t.Helper()
	if opts.Listener == "" {
		opts.Listener = "test"
	}
	srv := NewServer(opts, chain, testLogger())
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	accepted := proxyctx.NewAccepted("test", 1, server)
	go srv.Serve(context.Background(), proxyctx.Plaintext(accepted), server)
	return client
}

// TestServeH1Basic tests one exchange: request in, 200 with Via out.
func TestServeH1Basic(t *testing.T) {
	client := pipeServer(t, okChain("hello"), Options{
		ReadHeaderTimeout: 2 * time.Second,
		KeepaliveTimeout:  2 * time.Second,
	})

	io.WriteString(client, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Via"); got != viaValue {
		t.Errorf("expected Via %q, got %q", viaValue, got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("expected body hello, got %q", body)
	}
}

// TestServeH1KeepAlive tests that two exchanges ride one connection.
func TestServeH1KeepAlive(t *testing.T) {
	client := pipeServer(t, okChain("ok"), Options{
		ReadHeaderTimeout: 2 * time.Second,
		KeepaliveTimeout:  2 * time.Second,
	})
	br := bufio.NewReader(client)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))

	for i := 0; i < 2; i++ {
		io.WriteString(client, "GET /k HTTP/1.1\r\nHost: x\r\n\r\n")
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			t.Fatalf("exchange %d: %v", i, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("exchange %d: status %d", i, resp.StatusCode)
		}
		if resp.Close {
			t.Fatalf("exchange %d: connection should stay open", i)
		}
	}
}

// TestServeH1BadRequest tests that a malformed head answers 400 and the
// connection closes.
func TestServeH1BadRequest(t *testing.T) {
	client := pipeServer(t, okChain("x"), Options{
		ReadHeaderTimeout: 2 * time.Second,
		KeepaliveTimeout:  2 * time.Second,
	})

	io.WriteString(client, "NOT A REQUEST\r\n\r\n")

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Via") == "" {
		t.Error("error responses must still carry Via")
	}
}

// TestServeH1MissingHost tests the HTTP/1.1 Host requirement.
func TestServeH1MissingHost(t *testing.T) {
	client := pipeServer(t, okChain("x"), Options{
		ReadHeaderTimeout: 2 * time.Second,
		KeepaliveTimeout:  2 * time.Second,
	})

	io.WriteString(client, "GET / HTTP/1.1\r\n\r\n")

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// TestServeH1KeepaliveExpiry tests that an idle connection is closed
// after the keep-alive bound.
func TestServeH1KeepaliveExpiry(t *testing.T) {
	client := pipeServer(t, okChain("x"), Options{
		ReadHeaderTimeout: time.Second,
		KeepaliveTimeout:  200 * time.Millisecond,
	})

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err != io.EOF {
		t.Errorf("expected clean EOF after keep-alive expiry, got %v", err)
	}
}
