// Package flow implements the session tables of spec §3: UDP and TCP flows
// keyed by the 5-tuple, with insertion-order preserved for deterministic
// sweeps. Mutation discipline (spec §3 invariants, §5) is the caller's
// responsibility — these tables are plain maps, not internally
// synchronised, because every access (the engine's worker, and
// Engine.ApplyAllowlist from the host side) happens under the engine's one
// global mutex.
package flow

import (
	"net/netip"
	"time"
)

// FiveTuple uniquely identifies a flow in either table.
type FiveTuple struct {
	Version uint8 // 4 or 6
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// UDPFlow is a single UDP session (spec §3 "UdpFlow").
type UDPFlow struct {
	Key FiveTuple

	Owner        int64
	LastActivity time.Time

	// Socket is negative once closed.
	Socket int

	// Stop, once set, removes the flow from read-readiness; it is reaped
	// on the next sweep.
	Stop bool
}

// TCPState is one of the states named in spec §3.
type TCPState int

const (
	StateListen TCPState = iota
	StateSynRecv
	StateEstablished
	StateCloseWait
	StateLastAck
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateClose
)

func (s TCPState) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynRecv:
		return "SYN_RECV"
	case StateEstablished:
		return "ESTABLISHED"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateFinWait1:
		return "FIN_WAIT1"
	case StateFinWait2:
		return "FIN_WAIT2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME_WAIT"
	case StateClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// TCPFlow is a single TCP session (spec §3 "TcpFlow").
//
// local_seq counts bytes (plus one per SYN/FIN) this engine has
// synthesised toward the originator; remote_seq mirrors bytes already
// consumed from the originator. There is no retransmission queue: the
// design assumes in-order, loss-free delivery over the tunnel (spec §9
// open question, kept as an explicit assumption rather than silently
// contradicted).
type TCPFlow struct {
	Key FiveTuple

	State TCPState

	LocalISN   uint32
	LocalSeq   uint32
	RemoteISN  uint32
	RemoteSeq  uint32
	SendWindow uint16

	Socket int

	LastActivity time.Time
	Owner        int64

	// ClosedAt is set when the flow enters CLOSE, to drive TCP_KEEP_TIMEOUT
	// reaping.
	ClosedAt time.Time

	// Connecting is true while the non-blocking connect() to the true
	// destination has not yet completed (LISTEN state, waiting for
	// writability).
	Connecting bool
}

// SeqLE reports whether a <= b using wrap-aware (modular) comparison, per
// spec §9's open question on sequence-number wraparound.
func SeqLE(a, b uint32) bool {
	return int32(a-b) <= 0
}

// SeqLess reports whether a < b using wrap-aware comparison.
func SeqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
