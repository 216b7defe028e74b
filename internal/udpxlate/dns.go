// DNS query parsing and sinkhole response synthesis, per spec §4.4.1/§4.4.2.
// Hand-rolled per the standard library discipline documented in
// DESIGN.md: neither the teacher nor the pack's own DNS repo
// (jroosing/HydraDNS) reach for a third-party DNS codec for a single
// fixed-shape sinkhole answer.
package udpxlate

import (
	"encoding/binary"
	"fmt"
)

const (
	// DNSQNameMax bounds the total encoded length of a query name.
	DNSQNameMax = 255
	dnsMaxLabels = 10

	dnsTypeA    = 1
	dnsTypeAAAA = 28
	dnsClassIN  = 1

	// DNSTTL is the TTL placed on synthesised sinkhole answers.
	DNSTTL = 10
)

// DNSQuery is a parsed standard DNS query (RFC 1035, compression omitted in
// the query path per spec §4.4.1).
type DNSQuery struct {
	ID       uint16
	QDCount  uint16
	Name     string
	Type     uint16
	Class    uint16
	nameEnd  int // offset just past the first question (QNAME, QTYPE, QCLASS) in the original buffer
	raw      []byte
}

// ParseDNSQuery parses the 12-byte header and first question of a standard
// DNS query.
func ParseDNSQuery(buf []byte) (*DNSQuery, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("udpxlate: DNS message too short (%d bytes)", len(buf))
	}
	flags := binary.BigEndian.Uint16(buf[2:4])
	qr := flags >> 15
	opcode := (flags >> 11) & 0x0f
	qdcount := binary.BigEndian.Uint16(buf[4:6])
	if qr != 0 || opcode != 0 || qdcount == 0 {
		return nil, fmt.Errorf("udpxlate: not a standard query (qr=%d opcode=%d qdcount=%d)", qr, opcode, qdcount)
	}

	name, offset, err := readQName(buf, 12)
	if err != nil {
		return nil, err
	}
	if offset+4 > len(buf) {
		return nil, fmt.Errorf("udpxlate: DNS question truncated")
	}
	qtype := binary.BigEndian.Uint16(buf[offset : offset+2])
	qclass := binary.BigEndian.Uint16(buf[offset+2 : offset+4])

	return &DNSQuery{
		ID:      binary.BigEndian.Uint16(buf[0:2]),
		QDCount: qdcount,
		Name:    name,
		Type:    qtype,
		Class:   qclass,
		nameEnd: offset + 4,
		raw:     buf,
	}, nil
}

func readQName(buf []byte, start int) (string, int, error) {
	offset := start
	var labels []string
	total := 0
	for {
		if offset >= len(buf) {
			return "", 0, fmt.Errorf("udpxlate: DNS name runs past end of message")
		}
		l := buf[offset]
		if l&0xc0 != 0 {
			return "", 0, fmt.Errorf("udpxlate: compression pointer invalid in a query name")
		}
		if l == 0 {
			offset++
			break
		}
		if len(labels) >= dnsMaxLabels {
			return "", 0, fmt.Errorf("udpxlate: DNS name has too many labels (max %d)", dnsMaxLabels)
		}
		offset++
		if offset+int(l) > len(buf) {
			return "", 0, fmt.Errorf("udpxlate: DNS label runs past end of message")
		}
		total += int(l) + 1
		if total > DNSQNameMax {
			return "", 0, fmt.Errorf("udpxlate: DNS name exceeds %d bytes", DNSQNameMax)
		}
		labels = append(labels, string(buf[offset:offset+int(l)]))
		offset += int(l)
	}
	name := ""
	for i, l := range labels {
		if i > 0 {
			name += "."
		}
		name += l
	}
	return name, offset, nil
}

// IsSinkholeCandidate reports whether the query is an IN-class A or AAAA
// lookup, the only record types spec §4.4 sinkholes.
func (q *DNSQuery) IsSinkholeCandidate() bool {
	return q.Class == dnsClassIN && (q.Type == dnsTypeA || q.Type == dnsTypeAAAA)
}

// BuildSinkholeResponse synthesises the response described in spec §4.4.2:
// a verbatim copy of the query header+question with QR/ANCOUNT set, plus
// one answer RR pointing at loopbackIP (must be 4 bytes for an A record
// response, 16 for AAAA).
func (q *DNSQuery) BuildSinkholeResponse(loopbackIP []byte) []byte {
	header := make([]byte, q.nameEnd)
	copy(header, q.raw[:q.nameEnd])

	binary.BigEndian.PutUint16(header[2:4], 0x8000) // QR=1, opcode 0, AA/TC/RA/RD/Z/AD/CD/rcode all clear
	binary.BigEndian.PutUint16(header[6:8], 1)       // ANCOUNT=1

	rdlength := len(loopbackIP)
	answer := make([]byte, 2+2+2+4+2+rdlength)
	binary.BigEndian.PutUint16(answer[0:2], 0xc00c) // compressed pointer to offset 12 (question QNAME)
	binary.BigEndian.PutUint16(answer[2:4], q.Type)
	binary.BigEndian.PutUint16(answer[4:6], q.Class)
	binary.BigEndian.PutUint32(answer[6:10], DNSTTL)
	binary.BigEndian.PutUint16(answer[10:12], uint16(rdlength))
	copy(answer[12:], loopbackIP)

	return append(header, answer...)
}
