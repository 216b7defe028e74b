package ingress

import (
	"encoding/binary"
	"testing"
)

func buildIPv4TCP(flags uint8) []byte {
	tcp := make([]byte, 20)
	binary.BigEndian.PutUint16(tcp[0:2], 40000)
	binary.BigEndian.PutUint16(tcp[2:4], 80)
	binary.BigEndian.PutUint32(tcp[4:8], 1000)
	binary.BigEndian.PutUint32(tcp[8:12], 0)
	tcp[12] = 5 << 4
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], 65535)

	ip := make([]byte, 20+len(tcp))
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(ip)))
	ip[8] = 64
	ip[9] = ProtoTCP
	copy(ip[12:16], []byte{10, 0, 0, 2})
	copy(ip[16:20], []byte{93, 184, 216, 34})
	copy(ip[20:], tcp)
	return ip
}

func TestParseIPv4TCPSyn(t *testing.T) {
	raw := buildIPv4TCP(FlagSYN)
	p, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Version != 4 || p.Protocol != ProtoTCP {
		t.Fatalf("unexpected version/protocol: %d/%d", p.Version, p.Protocol)
	}
	if p.SrcPort != 40000 || p.DstPort != 80 {
		t.Fatalf("unexpected ports: %d -> %d", p.SrcPort, p.DstPort)
	}
	if p.TCPFlags&FlagSYN == 0 {
		t.Fatalf("expected SYN flag set")
	}
	if p.SeqNum != 1000 {
		t.Fatalf("expected seq 1000, got %d", p.SeqNum)
	}
}

func TestParseIPv4TotalLengthMismatch(t *testing.T) {
	raw := buildIPv4TCP(FlagSYN)
	raw = append(raw, 0xff) // stray trailing byte: total length no longer matches
	if _, err := Parse(raw, false); err == nil {
		t.Fatalf("expected error for IPv4 total-length mismatch")
	}
}

func TestParseIPv6TCPWalksExtensionHeaders(t *testing.T) {
	tcp := make([]byte, 20)
	binary.BigEndian.PutUint16(tcp[0:2], 1234)
	binary.BigEndian.PutUint16(tcp[2:4], 443)
	tcp[12] = 5 << 4
	tcp[13] = FlagACK

	hopByHop := make([]byte, 8) // 8-byte HBH ext header, len field = 0 -> (0+1)*8 = 8
	hopByHop[0] = ProtoTCP      // next header = TCP

	ip6 := make([]byte, 40+len(hopByHop)+len(tcp))
	ip6[0] = 0x60
	binary.BigEndian.PutUint16(ip6[4:6], uint16(len(hopByHop)+len(tcp)))
	ip6[6] = hdrHopByHop // next header
	ip6[7] = 64          // hop limit
	copy(ip6[8:24], []byte{0x20, 0x01, 0x0d, 0xb8})
	copy(ip6[24:40], []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})
	copy(ip6[40:], hopByHop)
	copy(ip6[40+len(hopByHop):], tcp)

	p, err := Parse(ip6, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Protocol != ProtoTCP {
		t.Fatalf("expected TCP upper layer, got %d", p.Protocol)
	}
	if p.DstPort != 443 {
		t.Fatalf("expected dst port 443, got %d", p.DstPort)
	}
}

func TestParseIPv6NoUpperLayerDropped(t *testing.T) {
	ip6 := make([]byte, 48)
	ip6[0] = 0x60
	binary.BigEndian.PutUint16(ip6[4:6], 8)
	ip6[6] = hdrESP
	if _, err := Parse(ip6, false); err == nil {
		t.Fatalf("expected error when no upper-layer protocol is reachable")
	}
}
