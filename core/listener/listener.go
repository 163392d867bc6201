// Package listener binds the configured listen surfaces and runs the
// per-worker accept loops. Where the OS supports port sharing each worker
// owns its own clone of the TCP socket; otherwise (and for Unix sockets)
// a single socket is shared and the workers' accept loops drain it
// cooperatively. Each binding holds one generation slot per worker; a
// connection adopts the generation current at accept time.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/searchktools/fast-proxy/config"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/proxyctx"
	"github.com/searchktools/fast-proxy/core/service"
	"github.com/searchktools/fast-proxy/core/worker"
)

// acceptBackoff bounds the retry delay after a transient accept error.
const acceptBackoff = 100 * time.Millisecond

// Binding is one configured listen surface with its per-worker sockets
// and generation slots.
type Binding struct {
	name      string
	network   string
	address   string
	listeners []net.Listener // len == workers (clones) or 1 (shared)
	slots     []*service.Slot
	log       *slog.Logger
}

// Bind creates the sockets for a listener config across the fleet.
func Bind(name string, lc config.ListenerConfig, workers int, log *slog.Logger) (*Binding, error) {
	b := &Binding{
		name:  name,
		log:   log,
		slots: make([]*service.Slot, workers),
	}
	for i := range b.slots {
		b.slots[i] = &service.Slot{}
	}

	switch lc.Type {
	case "unix":
		b.network, b.address = "unix", lc.Value
		// A previous run may have left the socket file behind.
		_ = os.Remove(lc.Value)
		ln, err := net.Listen("unix", lc.Value)
		if err != nil {
			return nil, err
		}
		b.listeners = []net.Listener{ln}
	default:
		b.network, b.address = "tcp", lc.Value
		cloned, err := bindTCPClones(lc.Value, workers)
		if err != nil {
			return nil, err
		}
		b.listeners = cloned
	}
	return b, nil
}

// bindTCPClones binds one REUSEPORT socket per worker, falling back to a
// single shared socket when port sharing is unavailable.
func bindTCPClones(addr string, workers int) ([]net.Listener, error) {
	lc := net.ListenConfig{Control: reusePortControl}
	first, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil || !reusePortAvailable {
		if err != nil {
			// Retry once without the socket option; the option itself may
			// be what failed.
			plain := net.ListenConfig{}
			first, err = plain.Listen(context.Background(), "tcp", addr)
			if err != nil {
				return nil, err
			}
		}
		return []net.Listener{first}, nil
	}

	listeners := make([]net.Listener, 0, workers)
	listeners = append(listeners, first)
	for i := 1; i < workers; i++ {
		ln, err := lc.Listen(context.Background(), "tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, err
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

// Name returns the binding's configured name.
func (b *Binding) Name() string { return b.name }

// Slots returns the per-worker generation slots, indexed by worker id.
func (b *Binding) Slots() []*service.Slot { return b.slots }

// Addr returns the bound address of the first socket.
func (b *Binding) Addr() net.Addr { return b.listeners[0].Addr() }

// Run starts one accept loop per worker. It returns immediately; loops
// exit when their sockets close.
func (b *Binding) Run(ctx context.Context, fleet *worker.Fleet) {
	workers := fleet.Workers()
	for i, w := range workers {
		ln := b.listeners[0]
		if len(b.listeners) == len(workers) {
			ln = b.listeners[i]
		}
		go b.acceptLoop(ctx, w, ln, b.slots[i])
	}
}

// Close stops accepting. In-flight connections are unaffected.
func (b *Binding) Close() {
	for _, ln := range b.listeners {
		ln.Close()
	}
	if b.network == "unix" {
		_ = os.Remove(b.address)
	}
}

func (b *Binding) acceptLoop(ctx context.Context, w *worker.Worker, ln net.Listener, slot *service.Slot) {
	// The limiter bounds how fast the loop spins on transient errors.
	limiter := rate.NewLimiter(rate.Every(acceptBackoff), 1)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if isTransientAcceptErr(err) {
				observability.AcceptErrors.WithLabelValues(b.name).Inc()
				b.log.Warn("transient accept error", "listener", b.name, "error", err)
				limiter.Wait(ctx)
				continue
			}
			b.log.Error("accept failed", "listener", b.name, "error", err)
			return
		}

		gen := slot.Active()
		if gen == nil {
			// No pipeline published yet; nothing can serve this.
			conn.Close()
			continue
		}

		cx := proxyctx.NewAccepted(b.name, gen.ID, conn)
		observability.ConnsAccepted.WithLabelValues(b.name).Inc()

		handler := gen.Handler
		w.Spawn(ctx, func(tctx context.Context) {
			observability.ConnsActive.WithLabelValues(b.name).Inc()
			defer observability.ConnsActive.WithLabelValues(b.name).Dec()
			if err := handler.ServeConn(tctx, cx, conn); err != nil {
				b.log.Debug("connection ended with error",
					"listener", b.name, "conn", cx.ConnID.String(), "error", err)
			}
		})
	}
}

// isTransientAcceptErr recognizes accept failures worth retrying:
// aborted handshakes, fd exhaustion, interrupts.
func isTransientAcceptErr(err error) bool {
	if errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.EINTR) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
