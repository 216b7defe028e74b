package synth

import (
	"net"
	"testing"
)

func verifyIPv4HeaderChecksum(t *testing.T, buf []byte) {
	t.Helper()
	ihl := int(buf[0]&0x0f) * 4
	if got := Calc(buf[:ihl], 0); got != 0 {
		t.Fatalf("IPv4 header checksum invalid, recomputed sum = %#04x (want 0)", got)
	}
}

func TestBuildTCPSynAckChecksums(t *testing.T) {
	pkt := BuildTCP(TCPParams{
		SrcIP:   net.ParseIP("93.184.216.34"),
		DstIP:   net.ParseIP("10.0.0.2"),
		SrcPort: 80,
		DstPort: 40000,
		Seq:     123456,
		Ack:     1001,
		SYN:     true,
		ACK:     true,
		Window:  65535,
	})

	verifyIPv4HeaderChecksum(t, pkt)

	ihl := int(pkt[0]&0x0f) * 4
	totalLen := int(pkt[2])<<8 | int(pkt[3])
	if totalLen != len(pkt) {
		t.Fatalf("IPv4 total length = %d, actual packet length %d", totalLen, len(pkt))
	}

	transport := pkt[ihl:]
	pseudo := pseudoHeaderV4([4]byte{93, 184, 216, 34}, [4]byte{10, 0, 0, 2}, 6, len(transport))
	sum := CalcPartial(pseudo, 0)
	sum = CalcPartial(transport, sum)
	if Fold(sum) != 0 {
		t.Fatalf("TCP transport checksum invalid, recomputed sum = %#04x (want 0)", Fold(sum))
	}

	flags := transport[13]
	if flags&0x02 == 0 || flags&0x10 == 0 {
		t.Fatalf("expected SYN|ACK flags, got %#02x", flags)
	}
}

func TestBuildUDPChecksum(t *testing.T) {
	payload := []byte("hello dns")
	pkt := BuildUDP(UDPParams{
		SrcIP:   net.ParseIP("1.2.3.4"),
		DstIP:   net.ParseIP("5.6.7.8"),
		SrcPort: 53,
		DstPort: 5353,
		Payload: payload,
	})

	verifyIPv4HeaderChecksum(t, pkt)

	ihl := int(pkt[0]&0x0f) * 4
	transport := pkt[ihl:]
	if len(transport) != 8+len(payload) {
		t.Fatalf("UDP length = %d, want %d", len(transport), 8+len(payload))
	}

	pseudo := pseudoHeaderV4([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 17, len(transport))
	sum := CalcPartial(pseudo, 0)
	sum = CalcPartial(transport, sum)
	if Fold(sum) != 0 {
		t.Fatalf("UDP checksum invalid, recomputed sum = %#04x (want 0)", Fold(sum))
	}
}

func TestBuildTCPIPv6(t *testing.T) {
	pkt := BuildTCP(TCPParams{
		SrcIP:   net.ParseIP("2001:db8::1"),
		DstIP:   net.ParseIP("2001:db8::2"),
		SrcPort: 443,
		DstPort: 50000,
		Seq:     1,
		Ack:     1,
		RST:     true,
	})
	if pkt[0]>>4 != 6 {
		t.Fatalf("expected IPv6 version nibble, got %d", pkt[0]>>4)
	}
	transport := pkt[40:]
	pseudo := pseudoHeaderV6([16]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, [16]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}, 6, len(transport))
	sum := CalcPartial(pseudo, 0)
	sum = CalcPartial(transport, sum)
	if Fold(sum) != 0 {
		t.Fatalf("IPv6 TCP checksum invalid, recomputed sum = %#04x (want 0)", Fold(sum))
	}
}
