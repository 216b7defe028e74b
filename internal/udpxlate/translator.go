// Package udpxlate implements the UDP translator of spec §4.4: locate or
// create a UDP flow, open an upstream datagram socket exempted from the
// tunnel, forward the payload, and sinkhole blocklisted DNS queries.
package udpxlate

import (
	"fmt"
	"log"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"tunshield/internal/flow"
	"tunshield/internal/hostsfile"
)

// Protector exempts a raw socket fd from the tunnel (spec §6 protect()).
type Protector interface {
	Protect(fd int) error
}

// Translator owns the UDP flow table and the sinkhole blocklist.
type Translator struct {
	Table     *flow.UDPTable
	Blocklist hostsfile.Blocklist
	Protector Protector

	Log *log.Logger

	// Loopback4/Loopback6 are the sinkhole answer addresses (spec §4.4
	// step 4). The zero value is all zeros; engine.New sets them to
	// 127.0.0.1 / ::1.
	Loopback4 [4]byte
	Loopback6 [16]byte
}

// SinkholeResult is returned when a DNS query is sinkholed instead of
// forwarded.
type SinkholeResult struct {
	Response []byte // the synthesised UDP payload to write back via §4.7
}

// Handle processes one outbound UDP packet (spec §4.4). It returns a
// non-nil SinkholeResult when the query was blocklisted and answered
// locally instead of forwarded.
func (t *Translator) Handle(key flow.FiveTuple, payload []byte, owner int64, now time.Time) (*SinkholeResult, error) {
	f := t.Table.Get(key)
	if f == nil {
		created, err := t.createFlow(key, owner, now)
		if err != nil {
			return nil, err
		}
		f = created
		t.Table.Put(f)
	}
	f.LastActivity = now

	if key.DstPort == 53 {
		if q, err := ParseDNSQuery(payload); err == nil && q.IsSinkholeCandidate() && t.Blocklist.Blocked(q.Name) {
			var loopback []byte
			if q.Type == dnsTypeA {
				loopback = t.Loopback4[:]
			} else {
				loopback = t.Loopback6[:]
			}
			resp := q.BuildSinkholeResponse(loopback)
			f.Stop = true
			if t.Log != nil {
				t.Log.Printf("[udp] sinkholed %q for owner %d", q.Name, owner)
			}
			return &SinkholeResult{Response: resp}, nil
		}
	}

	if err := unix.Sendto(f.Socket, payload, 0, toSockaddr(key.Version, key.DstIP, key.DstPort)); err != nil {
		return nil, fmt.Errorf("udpxlate: sendto: %w", err)
	}

	if key.DstPort == 53 {
		// One-shot: the reply (if any) arrives on a single readiness event
		// and the flow is disposable afterward (spec §4.4 step 5).
		f.Stop = true
	}
	return nil, nil
}

func (t *Translator) createFlow(key flow.FiveTuple, owner int64, now time.Time) (*flow.UDPFlow, error) {
	domain := unix.AF_INET
	if key.Version == 6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("udpxlate: socket: %w", err)
	}

	if t.Protector != nil {
		if err := t.Protector.Protect(fd); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("udpxlate: protect: %w", err)
		}
	}

	if key.Version == 4 && key.DstIP == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("udpxlate: SO_BROADCAST: %w", err)
		}
	}

	// Blocking mode: the event loop only reads this fd once readiness has
	// been observed (spec §4.1.1).
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udpxlate: set blocking: %w", err)
	}

	return &flow.UDPFlow{
		Key:          key,
		Owner:        owner,
		LastActivity: now,
		Socket:       fd,
	}, nil
}

func toSockaddr(version uint8, addr netip.Addr, port uint16) unix.Sockaddr {
	if version == 4 {
		return &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(port), Addr: addr.As16()}
}

// Close closes the flow's upstream socket, marking it closed (negative fd
// per spec §3 "UdpFlow").
func Close(f *flow.UDPFlow) {
	if f.Socket >= 0 {
		unix.Close(f.Socket)
		f.Socket = -1
	}
}
