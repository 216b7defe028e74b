//go:build !linux

package tunio

import (
	"errors"
	"fmt"
)

var errNoFd = errors.New("tunio: underlying handle does not expose a file descriptor")

// Open is unsupported outside Linux: the engine's owner-identity and
// readiness model are both Linux-specific (spec §6), matching the
// teacher's tun_native_other.go stub.
func Open(name string) (*Device, error) {
	return nil, fmt.Errorf("tunio: TUN mode supported only on linux")
}
