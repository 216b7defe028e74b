package owner

import (
	"net/netip"

	"github.com/prometheus/procfs"
)

// ProcfsResolver reads /proc/net/{tcp,tcp6,udp,udp6} via
// github.com/prometheus/procfs, matching the column layout spec §6 names.
type ProcfsResolver struct {
	fs procfs.FS
}

// NewProcfsResolver opens the default procfs mount (/proc).
func NewProcfsResolver() (*ProcfsResolver, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &ProcfsResolver{fs: fs}, nil
}

// Lookup implements Resolver.
func (p *ProcfsResolver) Lookup(addr netip.Addr, port uint16, tcp bool) (int64, bool) {
	var (
		v4, v6 bool
		lines4 procfs.NetTCP
		lines6 procfs.NetTCP
		err4   error
		err6   error
	)
	v4 = addr.Is4()
	v6 = addr.Is6()

	if tcp {
		if v4 {
			lines4, err4 = p.fs.NetTCP()
		}
		if v6 {
			lines6, err6 = p.fs.NetTCP6()
		}
	} else {
		if v4 {
			lines4, err4 = p.fs.NetUDP()
		}
		if v6 {
			lines6, err6 = p.fs.NetUDP6()
		}
	}
	if err4 != nil && err6 != nil {
		return 0, false
	}

	want := addr
	for _, l := range lines4 {
		if matches(l, want, port) {
			return int64(l.UID), true
		}
	}
	for _, l := range lines6 {
		if matches(l, want, port) {
			return int64(l.UID), true
		}
	}
	return 0, false
}

func matches(l *procfs.NetTCPLine, addr netip.Addr, port uint16) bool {
	if uint16(l.LocalPort) != port {
		return false
	}
	la, ok := netip.AddrFromSlice(l.LocalAddr)
	if !ok {
		return false
	}
	return la.Unmap() == addr.Unmap()
}
