// Package ingress parses a raw IP packet read from the TUN device (spec
// §4.3): IP version dispatch, IPv4 validation, IPv6 extension-header
// walking, and TCP/UDP port/flag extraction.
package ingress

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Protocol numbers this parser understands past the IP layer.
const (
	ProtoTCP  = 6
	ProtoUDP  = 17
	ProtoICMP = 1
	ProtoICMP6 = 58
)

// IPv6 extension header numbers walked per spec §4.3.
const (
	hdrHopByHop    = 0
	hdrRouting     = 43
	hdrFragment    = 44
	hdrAH          = 51
	hdrESP         = 50
	hdrDstOptions  = 60
	hdrMobility    = 135
)

// TCP flag bits, as laid out in the TCP header's 13th byte.
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
)

// Packet is the result of parsing one raw IP datagram from the tunnel.
type Packet struct {
	Version    uint8
	SrcIP      netip.Addr
	DstIP      netip.Addr
	Protocol   uint8
	Fragmented bool

	// TransportOffset is the byte offset of the transport header (TCP/UDP)
	// within Raw.
	TransportOffset int

	// Populated only for TCP/UDP.
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8
	SeqNum   uint32
	AckNum   uint32
	Window   uint16

	Raw []byte
}

// Payload returns the bytes after the transport header (TCP: after data
// offset; UDP: after the 8-byte header).
func (p *Packet) Payload() []byte {
	switch p.Protocol {
	case ProtoTCP:
		off := p.TransportOffset + tcpDataOffset(p.Raw[p.TransportOffset:])
		if off > len(p.Raw) {
			return nil
		}
		return p.Raw[off:]
	case ProtoUDP:
		off := p.TransportOffset + 8
		if off > len(p.Raw) {
			return nil
		}
		return p.Raw[off:]
	default:
		return nil
	}
}

func tcpDataOffset(tcp []byte) int {
	if len(tcp) < 13 {
		return len(tcp)
	}
	return int(tcp[12]>>4) * 4
}

// Parse parses a raw IP packet. verifyIPv4Checksum controls whether the
// IPv4 header checksum is validated (spec §4.3: only when verbose logging
// is enabled, since it costs a full-header scan per packet).
func Parse(raw []byte, verifyIPv4Checksum bool) (*Packet, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("ingress: empty packet")
	}
	switch raw[0] >> 4 {
	case 4:
		return parseIPv4(raw, verifyIPv4Checksum)
	case 6:
		return parseIPv6(raw)
	default:
		return nil, fmt.Errorf("ingress: unrecognised IP version nibble %#x", raw[0]>>4)
	}
}

func parseIPv4(raw []byte, verifyChecksum bool) (*Packet, error) {
	if len(raw) < 20 {
		return nil, fmt.Errorf("ingress: IPv4 packet too short (%d bytes)", len(raw))
	}
	ihl := int(raw[0]&0x0f) * 4
	if ihl < 20 || ihl > len(raw) {
		return nil, fmt.Errorf("ingress: invalid IPv4 IHL %d", ihl)
	}
	totalLen := int(binary.BigEndian.Uint16(raw[2:4]))
	if totalLen != len(raw) {
		return nil, fmt.Errorf("ingress: IPv4 total length %d != actual %d", totalLen, len(raw))
	}

	if verifyChecksum {
		if sum := ipv4HeaderChecksum(raw[:ihl]); sum != 0 {
			return nil, fmt.Errorf("ingress: IPv4 header checksum invalid (sum=%#04x)", sum)
		}
	}

	flagsFrag := binary.BigEndian.Uint16(raw[6:8])
	fragmented := flagsFrag&0x1fff != 0 || flagsFrag&0x2000 != 0 // MF set or nonzero offset

	proto := raw[9]
	srcIP, _ := netip.AddrFromSlice(raw[12:16])
	dstIP, _ := netip.AddrFromSlice(raw[16:20])

	p := &Packet{
		Version:         4,
		SrcIP:           srcIP,
		DstIP:           dstIP,
		Protocol:        proto,
		Fragmented:      fragmented,
		TransportOffset: ihl,
		Raw:             raw,
	}
	if err := parseTransport(p); err != nil {
		return nil, err
	}
	return p, nil
}

func ipv4HeaderChecksum(hdr []byte) uint32 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return sum ^ 0xffff
}

func parseIPv6(raw []byte) (*Packet, error) {
	if len(raw) < 40 {
		return nil, fmt.Errorf("ingress: IPv6 packet too short (%d bytes)", len(raw))
	}
	payloadLen := int(binary.BigEndian.Uint16(raw[4:6]))
	if 40+payloadLen > len(raw) {
		return nil, fmt.Errorf("ingress: IPv6 payload length %d exceeds packet", payloadLen)
	}

	srcIP, _ := netip.AddrFromSlice(raw[8:24])
	dstIP, _ := netip.AddrFromSlice(raw[24:40])

	nextHeader := raw[6]
	offset := 40
	fragmented := false

	for {
		switch nextHeader {
		case hdrHopByHop, hdrRouting, hdrDstOptions, hdrMobility:
			if offset+2 > len(raw) {
				return nil, fmt.Errorf("ingress: truncated IPv6 extension header")
			}
			nextHeader = raw[offset]
			extLen := (int(raw[offset+1]) + 1) * 8
			offset += extLen
		case hdrFragment:
			if offset+8 > len(raw) {
				return nil, fmt.Errorf("ingress: truncated IPv6 fragment header")
			}
			fragmented = true
			nextHeader = raw[offset]
			offset += 8
		case hdrAH:
			if offset+2 > len(raw) {
				return nil, fmt.Errorf("ingress: truncated IPv6 AH header")
			}
			nextHeader = raw[offset]
			extLen := (int(raw[offset+1]) + 2) * 4
			offset += extLen
		case hdrESP:
			return nil, fmt.Errorf("ingress: ESP-encapsulated IPv6 payload not inspectable")
		case ProtoTCP, ProtoUDP, ProtoICMP, ProtoICMP6:
			p := &Packet{
				Version:         6,
				SrcIP:           srcIP,
				DstIP:           dstIP,
				Protocol:        nextHeader,
				Fragmented:      fragmented,
				TransportOffset: offset,
				Raw:             raw,
			}
			if err := parseTransport(p); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return nil, fmt.Errorf("ingress: no upper-layer protocol found (stopped at next-header %d)", nextHeader)
		}
		if offset > len(raw) {
			return nil, fmt.Errorf("ingress: IPv6 extension header chain overruns packet")
		}
	}
}

func parseTransport(p *Packet) error {
	raw := p.Raw[p.TransportOffset:]
	switch p.Protocol {
	case ProtoTCP:
		if len(raw) < 20 {
			return fmt.Errorf("ingress: TCP header too short (%d bytes)", len(raw))
		}
		p.SrcPort = binary.BigEndian.Uint16(raw[0:2])
		p.DstPort = binary.BigEndian.Uint16(raw[2:4])
		p.SeqNum = binary.BigEndian.Uint32(raw[4:8])
		p.AckNum = binary.BigEndian.Uint32(raw[8:12])
		p.TCPFlags = raw[13]
		p.Window = binary.BigEndian.Uint16(raw[14:16])
	case ProtoUDP:
		if len(raw) < 8 {
			return fmt.Errorf("ingress: UDP header too short (%d bytes)", len(raw))
		}
		p.SrcPort = binary.BigEndian.Uint16(raw[0:2])
		p.DstPort = binary.BigEndian.Uint16(raw[2:4])
	}
	return nil
}
