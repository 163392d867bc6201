package thriftproxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Options carries the per-server knobs of the Thrift message loop.
type Options struct {
	Listener string
	// MessageTimeout bounds reading one full message once its first byte
	// arrived.
	MessageTimeout time.Duration
	// KeepaliveTimeout bounds the idle gap between messages.
	KeepaliveTimeout time.Duration
	// MaxFrameSize bounds accepted frames (0: default).
	MaxFrameSize int
}

// Server owns the framed-message loop. Messages on one connection are
// strictly FIFO; a oneway message elicits no reply but still traverses
// the chain for observability.
type Server struct {
	opts  Options
	chain Handler
	log   *slog.Logger
}

// NewServer assembles a message loop over a handler chain.
func NewServer(opts Options, chain Handler, log *slog.Logger) *Server {
	return &Server{opts: opts, chain: chain, log: log}
}

// Serve runs the connection until close, keep-alive expiry, or a fatal
// error. Protocol violations answer with an exception when a sequence id
// is known, then close.
func (s *Server) Serve(ctx context.Context, cx proxyctx.TLSDone, conn net.Conn) error {
	defer conn.Close()

	br := bufio.NewReaderSize(conn, 8192)
	bw := bufio.NewWriterSize(conn, 8192)

	for {
		// Idle phase: wait for the first byte of the next length prefix.
		if s.opts.KeepaliveTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.KeepaliveTimeout))
		}
		if _, err := br.Peek(1); err != nil {
			return nil // EOF or keep-alive expiry: clean close
		}

		// Message phase.
		if s.opts.MessageTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.MessageTimeout))
		}
		msg, err := ReadMessage(br, s.opts.MaxFrameSize)
		if err != nil {
			if isTimeout(err) || errors.Is(err, io.EOF) {
				return nil
			}
			return errs.Wrap(errs.ClientProto, "read message", err)
		}
		start := time.Now()

		reqCtx, span := observability.StartRequestSpan(ctx, msg.Name, "")
		span.SetAttributes(
			attribute.String(observability.AttrThriftMethod, msg.Name),
			attribute.Int(observability.AttrThriftSeqID, int(msg.SeqID)),
		)

		reply, err := s.chain.Handle(reqCtx, cx, msg)

		class := "ok"
		switch {
		case err != nil:
			class = "exception"
			span.SetStatus(codes.Error, err.Error())
			s.log.Warn("message failed",
				"listener", s.opts.Listener, "conn", cx.ConnID.String(),
				"method", msg.Name, "seq_id", msg.SeqID, "error", err)
			reply = &Message{
				Name:  msg.Name,
				Type:  TypeException,
				SeqID: msg.SeqID,
				Frame: EncodeException(msg.Name, msg.SeqID, excTypeFor(err), errs.KindOf(err).Code()),
			}
		case msg.Oneway():
			class = "oneway"
		}
		span.End()

		if !msg.Oneway() && reply != nil {
			if err := WriteFrame(bw, reply.Frame); err != nil {
				return errs.Wrap(errs.ClientIo, "write reply", err)
			}
			if err := bw.Flush(); err != nil {
				return errs.Wrap(errs.ClientIo, "write reply", err)
			}
		}

		observability.Requests.WithLabelValues(s.opts.Listener, class).Inc()
		observability.RequestDuration.WithLabelValues(s.opts.Listener).Observe(time.Since(start).Seconds())

		if class == "exception" && errs.KindOf(err) == errs.ClientProto {
			return nil
		}
	}
}

func excTypeFor(err error) int32 {
	switch errs.KindOf(err) {
	case errs.ClientProto:
		return ExcProtocolError
	case errs.ServerPolicy:
		return ExcUnknownMethod
	case errs.UpstreamConnect, errs.UpstreamIo, errs.UpstreamTimeout, errs.UpstreamProto:
		return ExcInternalError
	default:
		return ExcUnknown
	}
}
