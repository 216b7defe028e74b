// Package tcpstack implements the hand-rolled TCP half-stack of spec §4.5:
// a flow is created only on an inbound SYN, its segments are processed in
// a strict payload/RST/control/out-of-order order, and the upstream
// socket's own readiness drives SYN+ACK, data, and FIN synthesis back
// toward the tunnel. There is deliberately no retransmission queue or
// reassembly buffer — the design assumes in-order, loss-free delivery
// over the tunnel (see DESIGN.md's open-question notes).
package tcpstack

import (
	"fmt"
	"log"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"tunshield/internal/flow"
	"tunshield/internal/ingress"
	"tunshield/internal/randx"
	"tunshield/internal/synth"
)

// TCPSendWindowMax bounds a single upstream read, regardless of the
// peer-advertised window (spec §4.5 "min(send_window, TCP_SEND_WINDOW)").
const TCPSendWindowMax = 16384

// Protector exempts a raw socket fd from the tunnel (spec §6 protect()).
type Protector interface {
	Protect(fd int) error
}

// Stack owns the TCP flow table and writes synthesised segments back
// toward the tunnel via Emit.
type Stack struct {
	Table     *flow.TCPTable
	Protector Protector
	Emit      func(raw []byte) error
	Log       *log.Logger
}

// HandleSegment processes one inbound TCP segment per spec §4.5.
func (s *Stack) HandleSegment(pkt *ingress.Packet, owner int64, now time.Time) error {
	key := flow.FiveTuple{
		Version: pkt.Version,
		SrcIP:   pkt.SrcIP,
		DstIP:   pkt.DstIP,
		SrcPort: pkt.SrcPort,
		DstPort: pkt.DstPort,
	}

	f := s.Table.Get(key)
	if f == nil {
		if pkt.TCPFlags&ingress.FlagSYN == 0 {
			if pkt.Version == 4 {
				return s.emitUnsolicitedReset(key, pkt.SeqNum)
			}
			return nil
		}
		return s.openFlow(key, pkt, owner, now)
	}

	if f.State == flow.StateClose {
		return s.emitReset(f)
	}
	return s.handleExisting(f, pkt, now)
}

func (s *Stack) openFlow(key flow.FiveTuple, pkt *ingress.Packet, owner int64, now time.Time) error {
	domain := unix.AF_INET
	if key.Version == 6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("tcpstack: socket: %w", err)
	}
	if s.Protector != nil {
		if err := s.Protector.Protect(fd); err != nil {
			unix.Close(fd)
			return fmt.Errorf("tcpstack: protect: %w", err)
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("tcpstack: set nonblocking: %w", err)
	}
	if err := unix.Connect(fd, toSockaddr(key.Version, key.DstIP, key.DstPort)); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return fmt.Errorf("tcpstack: connect: %w", err)
	}

	isn := randx.Uint32()
	f := &flow.TCPFlow{
		Key:          key,
		State:        flow.StateListen,
		LocalISN:     isn,
		LocalSeq:     isn,
		RemoteISN:    pkt.SeqNum,
		RemoteSeq:    pkt.SeqNum,
		SendWindow:   pkt.Window,
		Socket:       fd,
		LastActivity: now,
		Owner:        owner,
		Connecting:   true,
	}
	s.Table.Put(f)
	return nil
}

func (s *Stack) handleExisting(f *flow.TCPFlow, pkt *ingress.Packet, now time.Time) error {
	f.LastActivity = now
	f.SendWindow = pkt.Window

	inOrder := pkt.SeqNum == f.RemoteSeq
	payload := pkt.Payload()

	// 1. Payload delivery.
	if inOrder && len(payload) > 0 {
		sendFlags := unix.MSG_MORE
		if pkt.TCPFlags&ingress.FlagPSH != 0 {
			sendFlags = 0
		}
		if _, err := unix.Send(f.Socket, payload, sendFlags); err != nil {
			return s.resetAndClose(f, now)
		}
		f.RemoteSeq += uint32(len(payload))

		carriesFIN := pkt.TCPFlags&ingress.FlagFIN != 0
		deferACK := carriesFIN || f.State == flow.StateFinWait1 || f.State == flow.StateFinWait2 || f.State == flow.StateClosing
		if !deferACK {
			if err := s.sendACK(f); err != nil {
				return err
			}
		}
	}

	// 2. RST.
	if pkt.TCPFlags&ingress.FlagRST != 0 {
		f.State = flow.StateTimeWait
		return nil
	}

	// 3. In-order control segment.
	if pkt.AckNum == f.LocalSeq && inOrder {
		if pkt.TCPFlags&ingress.FlagFIN != 0 {
			unix.Shutdown(f.Socket, unix.SHUT_WR)
			f.RemoteSeq++
			if err := s.sendACK(f); err != nil {
				return err
			}
			switch f.State {
			case flow.StateEstablished, flow.StateSynRecv:
				f.State = flow.StateCloseWait
			case flow.StateFinWait1:
				if pkt.TCPFlags&ingress.FlagACK != 0 {
					f.State = flow.StateTimeWait
				} else {
					f.State = flow.StateClosing
				}
			case flow.StateFinWait2:
				f.State = flow.StateTimeWait
			}
			return nil
		}
		if pkt.TCPFlags&ingress.FlagSYN != 0 {
			return nil // duplicate SYN: ignore
		}
		switch f.State {
		case flow.StateSynRecv:
			f.State = flow.StateEstablished
		case flow.StateLastAck:
			f.State = flow.StateTimeWait
		case flow.StateFinWait1:
			f.State = flow.StateFinWait2
		case flow.StateClosing:
			f.State = flow.StateTimeWait
		case flow.StateEstablished:
			// no-op
		}
		return nil
	}

	// 4. Out-of-order segment.
	if !classifyOutOfOrder(f, pkt) {
		return fmt.Errorf("tcpstack: disallowed out-of-order segment for %v (seq=%d ack=%d remote_seq=%d local_seq=%d)",
			f.Key, pkt.SeqNum, pkt.AckNum, f.RemoteSeq, f.LocalSeq)
	}
	return nil
}

// classifyOutOfOrder reports whether an out-of-order segment is one of
// the tolerated shapes named in spec §4.5 step 4 (keep-alive, stale, or
// repeated); false means "invalid"/disallowed.
func classifyOutOfOrder(f *flow.TCPFlow, pkt *ingress.Packet) bool {
	switch {
	case pkt.TCPFlags&ingress.FlagACK != 0 && pkt.SeqNum+1 == f.RemoteSeq:
		return true // keep-alive
	case pkt.SeqNum == f.RemoteSeq && flow.SeqLess(pkt.AckNum, f.LocalSeq):
		return true // stale/previous: same seq, ack hasn't caught up yet
	case flow.SeqLess(pkt.SeqNum, f.RemoteSeq) && pkt.AckNum == f.LocalSeq:
		return true // repeated: already-consumed seq, current ack
	default:
		return false
	}
}

// HandleException processes a socket exception event (spec §4.5
// socket-side events).
func (s *Stack) HandleException(f *flow.TCPFlow, now time.Time) error {
	err := s.emitReset(f)
	f.State = flow.StateTimeWait
	f.LastActivity = now
	return err
}

// HandleWritable processes a writable event on a LISTEN-state flow: the
// non-blocking connect() to the true destination has completed.
func (s *Stack) HandleWritable(f *flow.TCPFlow, now time.Time) error {
	if f.State != flow.StateListen {
		return nil
	}
	if err := unix.SetNonblock(f.Socket, false); err != nil {
		return fmt.Errorf("tcpstack: set blocking: %w", err)
	}
	f.Connecting = false

	synSeq := f.LocalSeq
	f.LocalSeq++
	f.RemoteSeq++
	if err := s.emit(f, synth.TCPParams{Seq: synSeq, Ack: f.RemoteSeq, SYN: true, ACK: true}); err != nil {
		return err
	}
	f.State = flow.StateSynRecv
	f.LastActivity = now
	return nil
}

// HandleReadable processes a readable event on the upstream socket.
func (s *Stack) HandleReadable(f *flow.TCPFlow, now time.Time) error {
	switch f.State {
	case flow.StateSynRecv, flow.StateEstablished, flow.StateCloseWait:
	default:
		return nil
	}
	if f.SendWindow == 0 {
		return nil
	}

	n := int(f.SendWindow)
	if n > TCPSendWindowMax {
		n = TCPSendWindowMax
	}
	buf := make([]byte, n)
	read, err := unix.Read(f.Socket, buf)
	if err != nil {
		return s.resetAndClose(f, now)
	}

	if read == 0 {
		seq := f.LocalSeq
		f.LocalSeq++
		if err := s.emit(f, synth.TCPParams{Seq: seq, Ack: f.RemoteSeq, FIN: true, ACK: true}); err != nil {
			return err
		}
		switch f.State {
		case flow.StateEstablished, flow.StateSynRecv:
			f.State = flow.StateFinWait1
		case flow.StateCloseWait:
			f.State = flow.StateLastAck
		}
		f.LastActivity = now
		return nil
	}

	seq := f.LocalSeq
	f.LocalSeq += uint32(read)
	f.LastActivity = now
	return s.emit(f, synth.TCPParams{Seq: seq, Ack: f.RemoteSeq, ACK: true, PSH: true, Payload: buf[:read]})
}

// Close closes the flow's upstream socket and transitions it to CLOSE
// (spec §3: "to CLOSE only after the socket has been closed").
func Close(f *flow.TCPFlow, now time.Time) {
	closeSocket(f)
	f.State = flow.StateClose
	f.ClosedAt = now
}

func (s *Stack) resetAndClose(f *flow.TCPFlow, now time.Time) error {
	err := s.emitReset(f)
	closeSocket(f)
	f.State = flow.StateTimeWait
	f.LastActivity = now
	return err
}

func closeSocket(f *flow.TCPFlow) {
	if f.Socket >= 0 {
		unix.Close(f.Socket)
		f.Socket = -1
	}
}

func (s *Stack) sendACK(f *flow.TCPFlow) error {
	return s.emit(f, synth.TCPParams{Seq: f.LocalSeq, Ack: f.RemoteSeq, ACK: true})
}

func (s *Stack) emitReset(f *flow.TCPFlow) error {
	return s.emit(f, synth.TCPParams{Seq: f.LocalSeq, Ack: f.RemoteSeq, RST: true})
}

func (s *Stack) emitUnsolicitedReset(key flow.FiveTuple, peerSeq uint32) error {
	if s.Emit == nil {
		return nil
	}
	raw := synth.BuildTCP(synth.TCPParams{
		SrcIP:   addrToIP(key.DstIP),
		DstIP:   addrToIP(key.SrcIP),
		SrcPort: key.DstPort,
		DstPort: key.SrcPort,
		Seq:     0,
		Ack:     peerSeq,
		RST:     true,
	})
	return s.Emit(raw)
}

func (s *Stack) emit(f *flow.TCPFlow, p synth.TCPParams) error {
	if s.Emit == nil {
		return nil
	}
	p.SrcIP = addrToIP(f.Key.DstIP)
	p.DstIP = addrToIP(f.Key.SrcIP)
	p.SrcPort = f.Key.DstPort
	p.DstPort = f.Key.SrcPort
	if p.Window == 0 && !p.RST {
		p.Window = TCPSendWindowMax
	}
	return s.Emit(synth.BuildTCP(p))
}

func addrToIP(a netip.Addr) net.IP {
	return net.IP(a.AsSlice())
}

func toSockaddr(version uint8, addr netip.Addr, port uint16) unix.Sockaddr {
	if version == 4 {
		return &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(port), Addr: addr.As16()}
}
