package flow

import (
	"net/netip"
	"testing"
)

func tuple(port uint16) FiveTuple {
	return FiveTuple{
		Version: 4,
		SrcIP:   netip.MustParseAddr("10.0.0.2"),
		DstIP:   netip.MustParseAddr("93.184.216.34"),
		SrcPort: port,
		DstPort: 80,
	}
}

func TestUDPTableInsertionOrder(t *testing.T) {
	tbl := NewUDPTable()
	var keys []FiveTuple
	for i := uint16(1); i <= 5; i++ {
		k := tuple(40000 + i)
		keys = append(keys, k)
		tbl.Put(&UDPFlow{Key: k})
	}

	var seen []FiveTuple
	tbl.Each(func(f *UDPFlow) { seen = append(seen, f.Key) })

	if len(seen) != len(keys) {
		t.Fatalf("got %d flows, want %d", len(seen), len(keys))
	}
	for i := range keys {
		if seen[i] != keys[i] {
			t.Fatalf("order mismatch at %d: got %v, want %v", i, seen[i], keys[i])
		}
	}
}

func TestUDPTableRemove(t *testing.T) {
	tbl := NewUDPTable()
	k1, k2 := tuple(1), tuple(2)
	tbl.Put(&UDPFlow{Key: k1})
	tbl.Put(&UDPFlow{Key: k2})

	tbl.Remove(k1)
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 flow after remove, got %d", tbl.Len())
	}
	if tbl.Get(k1) != nil {
		t.Fatalf("expected removed flow to be gone")
	}
	if tbl.Get(k2) == nil {
		t.Fatalf("expected remaining flow to still be present")
	}
}

func TestTCPTableNoDuplicateKey(t *testing.T) {
	tbl := NewTCPTable()
	k := tuple(1)
	tbl.Put(&TCPFlow{Key: k, State: StateListen})
	tbl.Put(&TCPFlow{Key: k, State: StateEstablished})

	if tbl.Len() != 1 {
		t.Fatalf("expected re-Put with same key to replace, not duplicate: len=%d", tbl.Len())
	}
	if tbl.Get(k).State != StateEstablished {
		t.Fatalf("expected latest Put to win")
	}
}

func TestSeqWrapAware(t *testing.T) {
	max := ^uint32(0)
	if !SeqLess(max, 0) {
		t.Fatalf("expected max uint32 to be seq-less-than 0 (wraparound)")
	}
	if !SeqLE(max, max) {
		t.Fatalf("expected equal sequence numbers to be seq-less-or-equal")
	}
	if SeqLess(5, 3) {
		t.Fatalf("5 should not be seq-less-than 3 in the unwrapped case")
	}
}
