package owner

import (
	"net/netip"
	"testing"
	"time"
)

// fakeResolver implements Resolver over a fixed, injectable table, as
// directed by spec §9: owner-identity lookup is isolated behind a
// trait-like interface so tests never touch the real /proc filesystem.
type fakeResolver struct {
	v4, v6 map[uint16]int64 // port -> owner
	calls  int
}

func (f *fakeResolver) Lookup(addr netip.Addr, port uint16, tcp bool) (int64, bool) {
	f.calls++
	if addr.Is4() {
		if owner, ok := f.v4[port]; ok {
			return owner, true
		}
		return 0, false
	}
	if owner, ok := f.v6[port]; ok {
		return owner, true
	}
	return 0, false
}

func TestResolveIPv4PrefersMappedIPv6Table(t *testing.T) {
	r := &fakeResolver{
		v6: map[uint16]int64{40000: 1001}, // only the mapped v6 table has the row
	}
	owner, ok := Resolve(r, Config{MaxTries: 1}, 4, netip.MustParseAddr("10.0.0.2"), 40000, true)
	if !ok || owner != 1001 {
		t.Fatalf("Resolve = %d, %v; want 1001, true", owner, ok)
	}
}

func TestResolveIPv4FallsBackToV4Table(t *testing.T) {
	r := &fakeResolver{
		v4: map[uint16]int64{40000: 2002},
	}
	owner, ok := Resolve(r, Config{MaxTries: 1}, 4, netip.MustParseAddr("10.0.0.2"), 40000, true)
	if !ok || owner != 2002 {
		t.Fatalf("Resolve = %d, %v; want 2002, true", owner, ok)
	}
}

func TestResolveRetriesThenFails(t *testing.T) {
	r := &fakeResolver{}
	start := time.Now()
	_, ok := Resolve(r, Config{MaxTries: 3, RetryDelay: time.Millisecond}, 4, netip.MustParseAddr("10.0.0.2"), 1, true)
	if ok {
		t.Fatalf("expected lookup to fail when no row exists")
	}
	// 3 tries x 2 table probes (v6-mapped, v4) each = 6 calls
	if r.calls != 6 {
		t.Fatalf("expected 6 probe calls (3 tries x 2 tables), got %d", r.calls)
	}
	if time.Since(start) < 2*time.Millisecond {
		t.Fatalf("expected retry delay to have elapsed between attempts")
	}
}
