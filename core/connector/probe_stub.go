//go:build !linux && !darwin

package connector

import "net"

// probeDead is best effort; without MSG_PEEK support every pooled
// connection is assumed alive and the deadline sweep is the only guard.
func probeDead(c net.Conn) bool { return false }

func connFD(c net.Conn) int { return -1 }
