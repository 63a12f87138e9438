//go:build !windows

package server

import "golang.org/x/sys/unix"

// tuneSocketBuffers enlarges the receive and send buffers on the
// forwarding server's single shared UDP socket. The server binds
// exactly one socket rather than a pool of SO_REUSEPORT listeners, so
// there is no fan-out to configure here — only headroom for bursts of
// concurrent per-query goroutines writing back through the same
// descriptor.
func tuneSocketBuffers(fd uintptr, bytes int) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}
