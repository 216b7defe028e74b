package udpxlate

import (
	"encoding/binary"
	"testing"
)

func buildQuery(id uint16, name string, qtype, qclass uint16) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[4:6], 1) // QDCOUNT=1

	for _, label := range splitLabels(name) {
		buf = append(buf, byte(len(label)))
		buf = append(buf, []byte(label)...)
	}
	buf = append(buf, 0)

	q := make([]byte, 4)
	binary.BigEndian.PutUint16(q[0:2], qtype)
	binary.BigEndian.PutUint16(q[2:4], qclass)
	return append(buf, q...)
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

func TestParseDNSQuery(t *testing.T) {
	raw := buildQuery(0x1234, "example.com", dnsTypeA, dnsClassIN)
	q, err := ParseDNSQuery(raw)
	if err != nil {
		t.Fatalf("ParseDNSQuery: %v", err)
	}
	if q.ID != 0x1234 || q.Name != "example.com" || q.Type != dnsTypeA || q.Class != dnsClassIN {
		t.Fatalf("unexpected parse result: %+v", q)
	}
	if !q.IsSinkholeCandidate() {
		t.Fatalf("expected A/IN query to be a sinkhole candidate")
	}
}

func TestParseDNSQueryRejectsCompressionPointer(t *testing.T) {
	raw := buildQuery(1, "x", dnsTypeA, dnsClassIN)
	raw[12] = 0xc0 // top two bits set: invalid in a query name
	if _, err := ParseDNSQuery(raw); err == nil {
		t.Fatalf("expected error for compression pointer in query name")
	}
}

func TestParseDNSQueryRejectsResponses(t *testing.T) {
	raw := buildQuery(1, "x", dnsTypeA, dnsClassIN)
	binary.BigEndian.PutUint16(raw[2:4], 0x8000) // QR=1
	if _, err := ParseDNSQuery(raw); err == nil {
		t.Fatalf("expected error for a non-query message")
	}
}

func TestSinkholeResponseRoundTrip(t *testing.T) {
	raw := buildQuery(0x1234, "example.com", dnsTypeA, dnsClassIN)
	q, err := ParseDNSQuery(raw)
	if err != nil {
		t.Fatalf("ParseDNSQuery: %v", err)
	}

	resp := q.BuildSinkholeResponse([]byte{127, 0, 0, 1})

	if got := binary.BigEndian.Uint16(resp[0:2]); got != 0x1234 {
		t.Fatalf("response id = %#04x, want 0x1234", got)
	}
	flags := binary.BigEndian.Uint16(resp[2:4])
	if flags>>15 != 1 {
		t.Fatalf("expected QR=1 in response")
	}
	if ancount := binary.BigEndian.Uint16(resp[6:8]); ancount != 1 {
		t.Fatalf("ANCOUNT = %d, want 1", ancount)
	}

	nameEnd := q.nameEnd
	ptr := binary.BigEndian.Uint16(resp[nameEnd : nameEnd+2])
	if ptr != 0xc00c {
		t.Fatalf("answer name pointer = %#04x, want 0xc00c", ptr)
	}
	atype := binary.BigEndian.Uint16(resp[nameEnd+2 : nameEnd+4])
	if atype != dnsTypeA {
		t.Fatalf("answer type = %d, want A", atype)
	}
	ttl := binary.BigEndian.Uint32(resp[nameEnd+6 : nameEnd+10])
	if ttl != DNSTTL {
		t.Fatalf("answer TTL = %d, want %d", ttl, DNSTTL)
	}
	rdlength := binary.BigEndian.Uint16(resp[nameEnd+10 : nameEnd+12])
	if rdlength != 4 {
		t.Fatalf("RDLENGTH = %d, want 4", rdlength)
	}
	rdata := resp[nameEnd+12 : nameEnd+12+4]
	if rdata[0] != 127 || rdata[1] != 0 || rdata[2] != 0 || rdata[3] != 1 {
		t.Fatalf("RDATA = %v, want 127.0.0.1", rdata)
	}
}
