package connector

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/searchktools/fast-proxy/core/errs"
)

// roundTripH1 sends one HTTP/1.1 exchange over a checked-out connection.
// Ownership of pc transfers to the returned response body: when the body
// is drained and closed the connection goes back to the pool, on any
// other exit path it is closed.
func (c *Connector) roundTripH1(ctx context.Context, pc *PooledConn, req *http.Request) (*http.Response, error) {
	// A cancelled connection task must not leave the upstream exchange
	// running; closing the conn unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { pc.Conn.Close() })

	bw := bufio.NewWriter(pc.Conn)
	err := req.Write(bw)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		stop()
		reused := pc.Reused
		pc.Close()
		wrapped := errs.Wrap(errs.UpstreamIo, "write request", err)
		if reused {
			// A pooled connection that dies on the first write was stale;
			// the caller may dial once and replay.
			wrapped = &staleConnError{wrapped}
		}
		return nil, wrapped
	}

	if c.upstreamReadTimeout > 0 {
		pc.Conn.SetReadDeadline(time.Now().Add(c.upstreamReadTimeout))
	}
	resp, err := http.ReadResponse(pc.BR, req)
	if err != nil {
		stop()
		reused := pc.Reused
		pc.Close()
		wrapped := classifyReadErr(ctx, err)
		if reused && (errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET)) {
			// EOF in place of a response head on a reused connection:
			// the upstream closed it while it sat in the pool.
			wrapped = &staleConnError{wrapped}
		}
		return nil, wrapped
	}
	pc.Conn.SetReadDeadline(time.Time{})

	resp.Body = &h1Body{
		rc:       resp.Body,
		pc:       pc,
		stop:     stop,
		reusable: !resp.Close,
		// Bodyless responses are complete as soon as the head is read.
		drained: resp.ContentLength == 0,
	}
	return resp, nil
}

// staleConnError marks a failure attributable to reusing a connection
// that had silently died in the pool.
type staleConnError struct{ error }

func (e *staleConnError) Unwrap() error { return e.error }

func isStaleConn(err error) bool {
	var se *staleConnError
	return errors.As(err, &se)
}

func classifyReadErr(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return errs.Wrap(errs.Shutdown, "request cancelled", ctx.Err())
	case isTimeout(err):
		return errs.Wrap(errs.UpstreamTimeout, "read response head", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isNetErr(err):
		return errs.Wrap(errs.UpstreamIo, "read response head", err)
	default:
		return errs.Wrap(errs.UpstreamProto, "parse response head", err)
	}
}

func isNetErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

// h1Body hands the pooled connection back when the response has been
// fully consumed. Closing early (undrained) closes the connection, since
// unread response bytes would poison the next exchange.
type h1Body struct {
	rc       io.ReadCloser
	pc       *PooledConn
	stop     func() bool
	reusable bool
	drained  bool
	done     bool
}

func (b *h1Body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err == io.EOF {
		b.drained = true
	}
	return n, err
}

func (b *h1Body) Close() error {
	if b.done {
		return nil
	}
	b.done = true
	b.stop()
	err := b.rc.Close()
	b.pc.Release(b.reusable && b.drained)
	return err
}
