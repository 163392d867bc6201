//go:build !linux && !darwin

package listener

import "syscall"

const reusePortAvailable = false

func reusePortControl(network, address string, c syscall.RawConn) error { return nil }
