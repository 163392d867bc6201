//go:build linux || darwin

package connector

import (
	"crypto/tls"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probeDead peeks at a pooled connection without consuming bytes. A
// readable EOF, a stray byte ahead of any request, or a hard socket error
// all mean the connection must not be reused. Best effort: connections we
// cannot introspect are assumed alive.
func probeDead(c net.Conn) bool {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	sc, ok := c.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}

	dead := false
	ctlErr := raw.Control(func(fd uintptr) {
		var buf [1]byte
		n, _, err := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case n > 0:
			// Unsolicited bytes before a request was sent.
			dead = true
		case n == 0 && err == nil:
			// Orderly shutdown from the peer.
			dead = true
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// Nothing pending: healthy.
		case err != nil:
			dead = true
		}
	})
	return dead || ctlErr != nil
}

// connFD extracts the raw fd for the pool's readiness watcher, or -1.
func connFD(c net.Conn) int {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}
