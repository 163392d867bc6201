package httpproxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Options carries the per-server knobs the connection loop enforces.
type Options struct {
	// Listener names the binding for logs and metrics.
	Listener string
	// ReadHeaderTimeout bounds reading a request head.
	ReadHeaderTimeout time.Duration
	// ReadBodyTimeout bounds receiving the request body.
	ReadBodyTimeout time.Duration
	// KeepaliveTimeout bounds the idle gap between exchanges.
	KeepaliveTimeout time.Duration
}

// Server owns the HTTP connection loop. One instance exists per worker
// per generation; it holds no per-connection state of its own.
//
// Connection states: idle -> reading head -> routing/upstreaming (inside
// the chain) -> writing response -> idle or closed. Fatal I/O closes from
// any state; protocol errors close after a best-effort error response.
type Server struct {
	opts  Options
	chain Handler
	log   *slog.Logger
}

// NewServer assembles a server over a handler chain.
func NewServer(opts Options, chain Handler, log *slog.Logger) *Server {
	return &Server{opts: opts, chain: chain, log: log}
}

// h2Preface is the client connection preface of HTTP/2.
const h2Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Serve runs the connection until it is done. The TLS stage decides the
// protocol branch: ALPN h2 goes straight to the stream loop; cleartext
// connections are sniffed for the h2 preface (prior knowledge) and
// otherwise served as HTTP/1.x.
func (s *Server) Serve(ctx context.Context, cx proxyctx.TLSDone, conn net.Conn) error {
	defer conn.Close()

	if cx.ALPN == "h2" {
		return s.serveH2(ctx, cx, conn)
	}

	br := bufio.NewReaderSize(conn, 8192)

	if !cx.Terminated {
		if s.opts.ReadHeaderTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.ReadHeaderTimeout))
		}
		// "PRI " cannot start an HTTP/1.x exchange we would serve.
		if first, err := br.Peek(4); err == nil && string(first) == "PRI " {
			if preface, err := br.Peek(len(h2Preface)); err == nil && string(preface) == h2Preface {
				conn.SetReadDeadline(time.Time{})
				return s.serveH2(ctx, cx, &rewoundConn{Conn: conn, r: br})
			}
		}
	}

	return s.serveH1(ctx, cx, conn, br)
}

func (s *Server) serveH1(ctx context.Context, cx proxyctx.TLSDone, conn net.Conn, br *bufio.Reader) error {
	for exchange := 0; ; exchange++ {
		// Idle phase. The keep-alive clock runs until the first byte of
		// the next head.
		if s.opts.KeepaliveTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.KeepaliveTimeout))
		}
		if _, err := br.Peek(1); err != nil {
			if exchange == 0 && !isTimeoutErr(err) && !errors.Is(err, io.EOF) {
				return errs.Wrap(errs.ClientIo, "await first request", err)
			}
			return nil // clean close: EOF or keep-alive expiry
		}

		// Head phase.
		if s.opts.ReadHeaderTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.ReadHeaderTimeout))
		}
		req, err := http.ReadRequest(br)
		if err != nil {
			return s.abortH1(conn, nil, readErrToTyped(err))
		}
		start := time.Now()

		if err := validateRequest(req); err != nil {
			return s.abortH1(conn, req, err)
		}

		// Body phase deadline covers the handler chain pulling the body
		// through while it forwards.
		if s.opts.ReadBodyTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.ReadBodyTimeout))
		} else {
			conn.SetReadDeadline(time.Time{})
		}
		body := &trackedBody{rc: req.Body}
		if req.Body != nil && req.Body != http.NoBody {
			req.Body = body
		} else {
			body.drained = true
		}

		reqCtx, span := observability.StartRequestSpan(ctx, req.Method, req.URL.Path)
		req = req.WithContext(reqCtx)

		resp, err := s.chain.Handle(reqCtx, cx, req)
		if err != nil {
			status := statusForError(err)
			s.log.Warn("request failed",
				"listener", s.opts.Listener, "conn", cx.ConnID.String(),
				"method", req.Method, "path", req.URL.Path, "error", err)
			span.SetStatus(codes.Error, err.Error())
			if status == 0 {
				span.End()
				return err
			}
			resp = errorResponse(req, status, errs.KindOf(err) == errs.ClientProto)
		}

		status := s.writeH1Response(conn, req, resp)
		span.SetAttributes(attribute.Int(observability.AttrStatus, status))
		span.End()

		observability.Requests.WithLabelValues(s.opts.Listener, observability.StatusClass(status)).Inc()
		observability.RequestDuration.WithLabelValues(s.opts.Listener).Observe(time.Since(start).Seconds())

		if resp == nil || resp.Close {
			return nil
		}
		if !s.drainRequestBody(conn, body) {
			return nil
		}
	}
}

// abortH1 answers a protocol failure best-effort and closes.
func (s *Server) abortH1(conn net.Conn, req *http.Request, err error) error {
	status := statusForError(err)
	if status != 0 {
		resp := errorResponse(req, status, true)
		s.writeH1Response(conn, req, resp)
	}
	if errs.KindOf(err) == errs.ClientTimeout || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeH1Response streams the response out and returns the status that
// actually went on the wire (0 when the write itself failed).
func (s *Server) writeH1Response(conn net.Conn, req *http.Request, resp *http.Response) int {
	if resp == nil {
		return 0
	}
	defer func() {
		if resp.Body != nil {
			resp.Body.Close()
		}
	}()

	resp.Request = req
	if resp.ProtoMinor == 0 && resp.ContentLength < 0 {
		// No framing available for 1.0: body runs to connection close.
		resp.Close = true
	}

	bw := bufio.NewWriterSize(conn, 8192)
	if err := resp.Write(bw); err != nil {
		s.log.Debug("response write failed", "listener", s.opts.Listener, "error", err)
		resp.Close = true
		return 0
	}
	if err := bw.Flush(); err != nil {
		resp.Close = true
		return 0
	}
	return resp.StatusCode
}

// drainRequestBody disposes of request bytes the chain did not consume so
// the next head starts clean; a body too large to drain cheaply forfeits
// the connection instead.
func (s *Server) drainRequestBody(conn net.Conn, body *trackedBody) bool {
	if body.drained {
		return true
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := io.Copy(io.Discard, io.LimitReader(body, 256<<10))
	if err != nil || n == 256<<10 && !body.drained {
		return false
	}
	return body.drained
}

func readErrToTyped(err error) error {
	switch {
	case isTimeoutErr(err):
		return errs.Wrap(errs.ClientTimeout, "read request head", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return errs.Wrap(errs.ClientIo, "read request head", io.EOF)
	default:
		return errs.Wrap(errs.ClientProto, "parse request head", err)
	}
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// trackedBody remembers whether the request body reached EOF, which
// decides connection reuse.
type trackedBody struct {
	rc      io.ReadCloser
	drained bool
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if errors.Is(err, io.EOF) {
		b.drained = true
	}
	return n, err
}

func (b *trackedBody) Close() error { return b.rc.Close() }

// rewoundConn replays bytes a protocol sniff buffered ahead of the
// HTTP/2 server taking over the connection.
type rewoundConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *rewoundConn) Read(p []byte) (int, error) { return c.r.Read(p) }
