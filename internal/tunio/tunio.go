// Package tunio opens and reads/writes the TUN device carrying whole IP
// packets to and from the engine. Open is implemented per-platform
// (tunio_linux.go / tunio_other.go); Device itself is a thin
// read/write/fd wrapper shared by both.
package tunio

import "github.com/songgao/water"

// Device is a TUN interface: blocking reads return one whole IP packet;
// writes accept one whole IP packet.
type Device struct {
	ifce *water.Interface
	mtu  int
}

// MTU reports the interface's maximum transmission unit.
func (d *Device) MTU() int { return d.mtu }

// Fd exposes the underlying file descriptor for readiness polling (spec
// §4.1.1). songgao/water backs its io.ReadWriteCloser with an *os.File on
// Linux, so this assertion holds on the one platform this engine targets.
func (d *Device) Fd() (uintptr, error) {
	fder, ok := d.ifce.ReadWriteCloser.(interface{ Fd() uintptr })
	if !ok {
		return 0, errNoFd
	}
	return fder.Fd(), nil
}

// Read blocks until one IP packet is available.
func (d *Device) Read(buf []byte) (int, error) {
	return d.ifce.Read(buf)
}

// Write writes one whole IP packet.
func (d *Device) Write(buf []byte) (int, error) {
	return d.ifce.Write(buf)
}

// Close tears down the TUN handle.
func (d *Device) Close() error {
	return d.ifce.Close()
}
