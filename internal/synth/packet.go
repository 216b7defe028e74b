// Package synth builds the synthesised IPv4/IPv6/TCP/UDP segments the
// engine writes back toward the tunnel (spec §4.6): SYN+ACK, ACK, FIN+ACK,
// RST, and DNS-bearing UDP datagrams, all with correct
// sequence/acknowledgement numbers and checksums.
//
// Header field layout and encoding is delegated to
// gvisor.dev/gvisor/pkg/tcpip/header, the same library the teacher project
// imports for its TUN packet path; only the header-encoding leaf package is
// used here; the checksum itself is computed with this package's own
// associative Calc (see checksum.go) to keep the pseudo-header sum under
// our control rather than trusting a gvisor route object.
package synth

import (
	"encoding/binary"
	"net"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

func tcpipAddrFrom4(b [4]byte) tcpip.Address  { return tcpip.AddrFrom4(b) }
func tcpipAddrFrom16(b [16]byte) tcpip.Address { return tcpip.AddrFrom16(b) }

const (
	ipTTL   = 64
	ipv4IHL = 5 // no IP options
)

// TCPParams describes a synthesised TCP segment.
type TCPParams struct {
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	SYN, ACK, FIN    bool
	RST, PSH         bool
	Window           uint16
	Payload          []byte
}

// BuildTCP renders a complete IPv4 or IPv6 packet carrying a synthesised
// TCP segment. IP version is inferred from len(SrcIP)/len(DstIP) after
// normalisation via To4().
func BuildTCP(p TCPParams) []byte {
	isV4, src4, dst4, src16, dst16 := normalizeAddrs(p.SrcIP, p.DstIP)

	tcpLen := header.TCPMinimumSize + len(p.Payload)
	tcpBuf := make([]byte, tcpLen)
	tcpHdr := header.TCP(tcpBuf)

	var flags header.TCPFlags
	if p.SYN {
		flags |= header.TCPFlagSyn
	}
	if p.ACK {
		flags |= header.TCPFlagAck
	}
	if p.FIN {
		flags |= header.TCPFlagFin
	}
	if p.RST {
		flags |= header.TCPFlagRst
	}
	if p.PSH {
		flags |= header.TCPFlagPsh
	}

	ackSeq := p.Ack
	if !p.ACK {
		ackSeq = 0
	}

	tcpHdr.Encode(&header.TCPFields{
		SrcPort:    p.SrcPort,
		DstPort:    p.DstPort,
		SeqNum:     p.Seq,
		AckNum:     ackSeq,
		DataOffset: header.TCPMinimumSize, // = 5 words, no options
		Flags:      flags,
		WindowSize: p.Window,
	})
	copy(tcpBuf[header.TCPMinimumSize:], p.Payload)

	if isV4 {
		return wrapIPv4(src4, dst4, header.TCPProtocolNumber, tcpBuf, tcpHdr)
	}
	return wrapIPv6(src16, dst16, header.TCPProtocolNumber, tcpBuf, tcpHdr)
}

// UDPParams describes a synthesised UDP datagram.
type UDPParams struct {
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16
	Payload          []byte
}

// BuildUDP renders a complete IPv4 or IPv6 packet carrying a synthesised
// UDP datagram. Length = payload + 8, per spec §4.6.
func BuildUDP(p UDPParams) []byte {
	isV4, src4, dst4, src16, dst16 := normalizeAddrs(p.SrcIP, p.DstIP)

	udpLen := header.UDPMinimumSize + len(p.Payload)
	udpBuf := make([]byte, udpLen)
	udpHdr := header.UDP(udpBuf)
	udpHdr.Encode(&header.UDPFields{
		SrcPort: p.SrcPort,
		DstPort: p.DstPort,
		Length:  uint16(udpLen),
	})
	copy(udpBuf[header.UDPMinimumSize:], p.Payload)

	if isV4 {
		return wrapIPv4(src4, dst4, header.UDPProtocolNumber, udpBuf, udpHdr)
	}
	return wrapIPv6(src16, dst16, header.UDPProtocolNumber, udpBuf, udpHdr)
}

func normalizeAddrs(src, dst net.IP) (isV4 bool, src4, dst4 [4]byte, src16, dst16 [16]byte) {
	if s4 := src.To4(); s4 != nil {
		if d4 := dst.To4(); d4 != nil {
			copy(src4[:], s4)
			copy(dst4[:], d4)
			return true, src4, dst4, src16, dst16
		}
	}
	copy(src16[:], src.To16())
	copy(dst16[:], dst.To16())
	return false, src4, dst4, src16, dst16
}

// checksummableTransport is satisfied by header.TCP and header.UDP.
type checksummableTransport interface {
	SetChecksum(uint16)
}

func wrapIPv4(src, dst [4]byte, proto header.TransportProtocolNumber, transport []byte, hdr checksummableTransport) []byte {
	totalLen := header.IPv4MinimumSize + len(transport)
	buf := make([]byte, totalLen)
	ipHdr := header.IPv4(buf)
	ipHdr.Encode(&header.IPv4Fields{
		TotalLength: uint16(totalLen),
		TTL:         ipTTL,
		Protocol:    uint8(proto),
		SrcAddr:     tcpipAddrFrom4(src),
		DstAddr:     tcpipAddrFrom4(dst),
	})
	ipHdr.SetChecksum(^ipHdr.CalculateChecksum())

	pseudo := pseudoHeaderV4(src, dst, uint8(proto), len(transport))
	hdr.SetChecksum(0)
	sum := CalcPartial(pseudo, 0)
	sum = CalcPartial(transport, sum)
	hdr.SetChecksum(Fold(sum))

	copy(buf[header.IPv4MinimumSize:], transport)
	return buf
}

func wrapIPv6(src, dst [16]byte, proto header.TransportProtocolNumber, transport []byte, hdr checksummableTransport) []byte {
	totalLen := header.IPv6MinimumSize + len(transport)
	buf := make([]byte, totalLen)
	ipHdr := header.IPv6(buf)
	ipHdr.Encode(&header.IPv6Fields{
		PayloadLength:     uint16(len(transport)),
		TransportProtocol: proto,
		HopLimit:          ipTTL,
		SrcAddr:           tcpipAddrFrom16(src),
		DstAddr:           tcpipAddrFrom16(dst),
	})

	pseudo := pseudoHeaderV6(src, dst, uint8(proto), len(transport))
	hdr.SetChecksum(0)
	sum := CalcPartial(pseudo, 0)
	sum = CalcPartial(transport, sum)
	hdr.SetChecksum(Fold(sum))

	copy(buf[header.IPv6MinimumSize:], transport)
	return buf
}

func pseudoHeaderV4(src, dst [4]byte, proto uint8, transportLen int) []byte {
	b := make([]byte, 12)
	copy(b[0:4], src[:])
	copy(b[4:8], dst[:])
	b[8] = 0
	b[9] = proto
	binary.BigEndian.PutUint16(b[10:12], uint16(transportLen))
	return b
}

func pseudoHeaderV6(src, dst [16]byte, proto uint8, transportLen int) []byte {
	b := make([]byte, 40)
	copy(b[0:16], src[:])
	copy(b[16:32], dst[:])
	binary.BigEndian.PutUint32(b[32:36], uint32(transportLen))
	b[39] = proto
	return b
}
