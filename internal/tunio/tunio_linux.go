//go:build linux

package tunio

import (
	"errors"
	"fmt"
	"net"

	"github.com/songgao/water"
)

var errNoFd = errors.New("tunio: underlying handle does not expose a file descriptor")

// Open attaches to an existing TUN interface named name, per spec §6: the
// host is expected to have created the interface already (e.g. via a
// start script); this only opens it. Grounded on the teacher's
// openExistingTun.
func Open(name string) (*Device, error) {
	if name == "" {
		return nil, fmt.Errorf("tunio: device name is empty")
	}
	if _, err := net.InterfaceByName(name); err != nil {
		return nil, fmt.Errorf("tunio: interface %q not found (create it in start script): %w", name, err)
	}

	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name
	ifce, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("tunio: open %q: %w", name, err)
	}

	ifi, err := net.InterfaceByName(name)
	if err != nil {
		_ = ifce.Close()
		return nil, fmt.Errorf("tunio: InterfaceByName(%q): %w", name, err)
	}
	mtu := ifi.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	return &Device{ifce: ifce, mtu: mtu}, nil
}
