//go:build linux

// Package protectx implements the protect(socket) primitive of spec §6: a
// concrete, host-implementable stand-in for "exempt this socket from the
// tunnel," via SO_MARK on Linux.
package protectx

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mark exempts fd from the tunnel by tagging it with a firewall mark that
// the host's routing policy is expected to route around the TUN device.
// A zero mark is a no-op, matching the teacher's fwmark_linux.go.
func Mark(fd int, mark uint32) error {
	if mark == 0 {
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, int(mark)); err != nil {
		return fmt.Errorf("protectx: setsockopt SO_MARK=%d: %w", mark, err)
	}
	return nil
}
