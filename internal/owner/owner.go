// Package owner resolves the owner identity of a local socket endpoint
// (spec §4.3.1, §6): the integer the host OS assigns to the process that
// holds a local address:port pair, read from /proc/net/{tcp,tcp6,udp,udp6}.
//
// Lookup is isolated behind the Resolver interface (spec §9's directive) so
// tests can inject a fixed table instead of touching the real /proc
// filesystem.
package owner

import (
	"net/netip"
	"time"
)

// Resolver looks up the owner of a local endpoint at a point in time.
type Resolver interface {
	// Lookup returns the owner id for (v4-or-v6 local address, local port,
	// tcp-or-udp). ok is false if no matching row exists yet.
	Lookup(addr netip.Addr, port uint16, tcp bool) (owner int64, ok bool)
}

// Config tunes the retry/delay contract of spec §4.3.1.
type Config struct {
	// InitialDelay is waited once before the first lookup attempt, because
	// the kernel table may not yet reflect a just-created socket.
	InitialDelay time.Duration
	// RetryDelay is waited between attempts.
	RetryDelay time.Duration
	// MaxTries bounds the number of lookup attempts (UID_MAXTRY).
	MaxTries int
}

// DefaultConfig matches typical NetGuard-style tuning: a short initial
// settle delay, then up to 50 quick attempts.
var DefaultConfig = Config{
	InitialDelay: 10 * time.Millisecond,
	RetryDelay:   5 * time.Millisecond,
	MaxTries:     50,
}

// Resolve implements the lookup strategy of spec §4.3.1: for IPv4 flows,
// probe the IPv6 table first using the IPv4-mapped form, then the IPv4
// table; retry up to cfg.MaxTries times with cfg.RetryDelay between
// attempts, after an initial cfg.InitialDelay.
func Resolve(r Resolver, cfg Config, version uint8, addr netip.Addr, port uint16, tcp bool) (int64, bool) {
	if cfg.InitialDelay > 0 {
		time.Sleep(cfg.InitialDelay)
	}

	tries := cfg.MaxTries
	if tries <= 0 {
		tries = 1
	}

	for attempt := 0; attempt < tries; attempt++ {
		if owner, ok := probe(r, version, addr, port, tcp); ok {
			return owner, true
		}
		if attempt < tries-1 && cfg.RetryDelay > 0 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	return 0, false
}

func probe(r Resolver, version uint8, addr netip.Addr, port uint16, tcp bool) (int64, bool) {
	if version == 4 {
		mapped := netip.AddrFrom16(addr.As16()) // ::ffff:a.b.c.d form
		if owner, ok := r.Lookup(mapped, port, tcp); ok {
			return owner, true
		}
		return r.Lookup(addr, port, tcp)
	}
	return r.Lookup(addr, port, tcp)
}
