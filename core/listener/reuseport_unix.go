//go:build linux || darwin

package listener

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortAvailable reports whether per-worker socket clones can share
// one port.
const reusePortAvailable = true

// reusePortControl sets SO_REUSEPORT before bind so every worker can own
// an independent accept socket on the same address, which also enables
// cross-process binary handoff.
func reusePortControl(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
