package engine

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"tunshield/internal/flow"
	"tunshield/internal/ingress"
	"tunshield/internal/owner"
	"tunshield/internal/synth"
)

// pollTimeoutMS is the fixed readiness-wait timeout of spec §4.1 step 3.
const pollTimeoutMS = 10000

type targetKind int

const (
	targetTUN targetKind = iota
	targetWake
	targetUDP
	targetTCP
)

type pollTarget struct {
	kind targetKind
	key  flow.FiveTuple
}

// runLoop is the single worker of spec §4.1/§5. It owns the TUN
// descriptor and every flow socket exclusively once started.
func (e *Engine) runLoop() {
	defer close(e.doneCh)

	var exitReason string
	defer func() {
		e.teardownAll()
		if e.NativeExit != nil {
			e.NativeExit(exitReason)
		}
	}()

	for {
		now := time.Now()

		e.mu.Lock()
		e.sweep(now)
		e.mu.Unlock()

		pollFds, targets := e.buildPollSet()
		n, err := unix.Poll(pollFds, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			exitReason = fmt.Sprintf("poll: %v", err)
			return
		}
		if n == 0 {
			continue
		}

		woken := false
		var tunRevents int16
		var udpEvents, tcpEvents []pollTarget
		var udpRevents, tcpRevents []int16

		for i, pfd := range pollFds {
			if pfd.Revents == 0 {
				continue
			}
			switch targets[i].kind {
			case targetWake:
				woken = true
			case targetTUN:
				tunRevents = pfd.Revents
			case targetUDP:
				udpEvents = append(udpEvents, targets[i])
				udpRevents = append(udpRevents, pfd.Revents)
			case targetTCP:
				tcpEvents = append(tcpEvents, targets[i])
				tcpRevents = append(tcpRevents, pfd.Revents)
			}
		}

		if woken {
			drainPipe(e.wakeR)
			if e.stopping.Load() {
				exitReason = ""
				return
			}
			continue
		}

		e.mu.Lock()
		if tunRevents&(unix.POLLIN|unix.POLLERR) != 0 {
			if err := e.handleTUNReadable(now); err != nil {
				e.mu.Unlock()
				exitReason = err.Error()
				return
			}
		}
		for i, t := range udpEvents {
			e.handleUDPEvent(t.key, udpRevents[i], now)
		}
		for i, t := range tcpEvents {
			e.handleTCPEvent(t.key, tcpRevents[i], now)
		}
		e.mu.Unlock()
	}
}

func drainPipe(fd int) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

// buildPollSet assembles the descriptor sets of spec §4.1.1. Caller does
// not hold e.mu; the flow tables are only read here and the readiness
// rules are pure functions of flow state.
func (e *Engine) buildPollSet() ([]unix.PollFd, []pollTarget) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fds []unix.PollFd
	var targets []pollTarget

	fds = append(fds, unix.PollFd{Fd: int32(e.wakeR), Events: unix.POLLIN})
	targets = append(targets, pollTarget{kind: targetWake})

	if tunFd, err := e.tun.Fd(); err == nil {
		fds = append(fds, unix.PollFd{Fd: int32(tunFd), Events: unix.POLLIN | unix.POLLERR})
		targets = append(targets, pollTarget{kind: targetTUN})
	}

	e.udpTable.Each(func(f *flow.UDPFlow) {
		if f.Stop || f.Socket < 0 {
			return
		}
		fds = append(fds, unix.PollFd{Fd: int32(f.Socket), Events: unix.POLLIN | unix.POLLERR})
		targets = append(targets, pollTarget{kind: targetUDP, key: f.Key})
	})

	e.tcpTable.Each(func(f *flow.TCPFlow) {
		if f.Socket < 0 {
			return
		}
		switch f.State {
		case flow.StateListen:
			fds = append(fds, unix.PollFd{Fd: int32(f.Socket), Events: unix.POLLOUT | unix.POLLERR})
			targets = append(targets, pollTarget{kind: targetTCP, key: f.Key})
		case flow.StateSynRecv, flow.StateEstablished, flow.StateCloseWait:
			events := int16(unix.POLLERR)
			if f.SendWindow > 0 {
				events |= unix.POLLIN
			}
			fds = append(fds, unix.PollFd{Fd: int32(f.Socket), Events: events})
			targets = append(targets, pollTarget{kind: targetTCP, key: f.Key})
		}
	})

	return fds, targets
}

func (e *Engine) handleUDPEvent(key flow.FiveTuple, revents int16, now time.Time) {
	f := e.udpTable.Get(key)
	if f == nil || f.Socket < 0 {
		return
	}
	if revents&unix.POLLERR != 0 {
		f.Stop = true
		return
	}
	buf := make([]byte, 65536)
	n, _, err := unix.Recvfrom(f.Socket, buf, 0)
	if err != nil {
		f.Stop = true
		return
	}
	f.LastActivity = now

	raw := synth.BuildUDP(synth.UDPParams{
		SrcIP:   addrToIP(key.DstIP),
		SrcPort: key.DstPort,
		DstIP:   addrToIP(key.SrcIP),
		DstPort: key.SrcPort,
		Payload: buf[:n],
	})
	_ = e.writeToTun(raw)
}

func (e *Engine) handleTCPEvent(key flow.FiveTuple, revents int16, now time.Time) {
	f := e.tcpTable.Get(key)
	if f == nil {
		return
	}
	if revents&unix.POLLERR != 0 {
		e.tcpStack.HandleException(f, now)
		return
	}
	if revents&unix.POLLOUT != 0 {
		e.tcpStack.HandleWritable(f, now)
		return
	}
	if revents&unix.POLLIN != 0 {
		e.tcpStack.HandleReadable(f, now)
	}
}

// handleTUNReadable reads exactly one IP packet (spec §5: blocking reads
// used only on ready descriptors) and dispatches it. A non-nil error here
// is fatal to the worker (spec §7).
func (e *Engine) handleTUNReadable(now time.Time) error {
	buf := make([]byte, 65536)
	n, err := e.tun.Read(buf)
	if err != nil {
		return fmt.Errorf("tun read: %w", err)
	}
	raw := append([]byte(nil), buf[:n]...)

	if e.pcap != nil {
		_ = e.pcap.Write(raw, now)
	}
	e.metrics.PacketsIn.Inc()

	pkt, err := ingress.Parse(raw, e.verbose)
	if err != nil {
		e.metrics.SegmentsDropped.Inc()
		return nil
	}

	switch pkt.Protocol {
	case ingress.ProtoTCP:
		e.handleIngressTCP(pkt, now)
	case ingress.ProtoUDP:
		e.handleIngressUDP(pkt, now)
	}
	return nil
}

func (e *Engine) handleIngressTCP(pkt *ingress.Packet, now time.Time) {
	key := flow.FiveTuple{
		Version: pkt.Version,
		SrcIP:   pkt.SrcIP,
		DstIP:   pkt.DstIP,
		SrcPort: pkt.SrcPort,
		DstPort: pkt.DstPort,
	}

	// spec §4.3.1: the owner is resolved "for every TCP SYN" — not every
	// segment. An existing flow already carries its owner from creation
	// time; re-resolving per-segment would re-run the retry/delay probe
	// (up to MaxTries sleeps) on every ACK while holding the engine mutex.
	var ownerID int64
	if existing := e.tcpTable.Get(key); existing != nil {
		ownerID = existing.Owner
	} else if pkt.TCPFlags&ingress.FlagSYN != 0 {
		resolved, ok := owner.Resolve(e.ownerResolver, e.ownerCfg, pkt.Version, pkt.SrcIP, pkt.SrcPort, true)
		if !ok {
			resolved = -1
		}
		ownerID = resolved
	} else {
		ownerID = -1
	}
	allowed := e.ownerAllowed(ownerID)

	// spec §4.3.2: a SYN for an unseen 5-tuple whose owner is not
	// allow-listed is dropped without creating a flow. Subsequent
	// segments of an already-created flow are implicitly allowed, so
	// the gate only applies when no flow exists yet.
	if !allowed && pkt.TCPFlags&ingress.FlagSYN != 0 && e.tcpTable.Get(key) == nil {
		e.logPacket(recordFrom(pkt, now, ownerID, allowed))
		return
	}

	if err := e.tcpStack.HandleSegment(pkt, ownerID, now); err != nil {
		e.metrics.SegmentsDropped.Inc()
	}
	e.metrics.TCPFlowsActive.Set(float64(e.tcpTable.Len()))
	e.logPacket(recordFrom(pkt, now, ownerID, allowed))
}

func (e *Engine) handleIngressUDP(pkt *ingress.Packet, now time.Time) {
	key := flow.FiveTuple{
		Version: pkt.Version,
		SrcIP:   pkt.SrcIP,
		DstIP:   pkt.DstIP,
		SrcPort: pkt.SrcPort,
		DstPort: pkt.DstPort,
	}
	ownerID, ok := owner.Resolve(e.ownerResolver, e.ownerCfg, pkt.Version, pkt.SrcIP, pkt.SrcPort, false)
	if !ok {
		ownerID = -1
	}
	allowed := e.ownerAllowed(ownerID)

	// spec §4.3.2: any UDP packet from a disallowed owner is dropped
	// without creating a flow.
	if !allowed && e.udpTable.Get(key) == nil {
		e.logPacket(recordFrom(pkt, now, ownerID, allowed))
		return
	}

	result, err := e.udpXlate.Handle(key, pkt.Payload(), ownerID, now)
	if err != nil {
		e.metrics.SegmentsDropped.Inc()
		e.logPacket(recordFrom(pkt, now, ownerID, allowed))
		return
	}
	if result != nil {
		e.metrics.DNSSinkholed.Inc()
		raw := synth.BuildUDP(synth.UDPParams{
			SrcIP:   addrToIP(key.DstIP),
			SrcPort: key.DstPort,
			DstIP:   addrToIP(key.SrcIP),
			DstPort: key.SrcPort,
			Payload: result.Response,
		})
		_ = e.writeToTun(raw)
	}
	e.metrics.UDPFlowsActive.Set(float64(e.udpTable.Len()))
	e.logPacket(recordFrom(pkt, now, ownerID, allowed))
}

// writeToTun is the sole path every synthesised packet leaves by,
// duplicated into the PCAP tap when enabled (spec §4.7).
func (e *Engine) writeToTun(raw []byte) error {
	if _, err := e.tun.Write(raw); err != nil {
		return fmt.Errorf("tun write: %w", err)
	}
	if e.pcap != nil {
		_ = e.pcap.Write(raw, time.Now())
	}
	e.metrics.PacketsOut.Inc()
	return nil
}

// teardownAll closes every live flow socket on exit (spec §6).
func (e *Engine) teardownAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tcpTable.Each(func(f *flow.TCPFlow) {
		if f.Socket >= 0 {
			unix.Close(f.Socket)
			f.Socket = -1
		}
	})
	e.udpTable.Each(func(f *flow.UDPFlow) {
		if f.Socket >= 0 {
			unix.Close(f.Socket)
			f.Socket = -1
		}
	})
	if e.pcap != nil {
		_ = e.pcap.Close()
	}
}

func addrToIP(a netip.Addr) net.IP {
	return net.IP(a.AsSlice())
}

func recordFrom(pkt *ingress.Packet, now time.Time, ownerID int64, allowed bool) PacketRecord {
	return PacketRecord{
		TimeMS:   now.UnixMilli(),
		Version:  pkt.Version,
		Protocol: pkt.Protocol,
		Flags:    tcpFlagsString(pkt),
		SrcIP:    pkt.SrcIP.String(),
		SrcPort:  pkt.SrcPort,
		DstIP:    pkt.DstIP.String(),
		DstPort:  pkt.DstPort,
		Owner:    ownerID,
		Allowed:  allowed,
	}
}

func tcpFlagsString(pkt *ingress.Packet) string {
	if pkt.Protocol != ingress.ProtoTCP {
		return ""
	}
	var flags []string
	if pkt.TCPFlags&ingress.FlagSYN != 0 {
		flags = append(flags, "SYN")
	}
	if pkt.TCPFlags&ingress.FlagACK != 0 {
		flags = append(flags, "ACK")
	}
	if pkt.TCPFlags&ingress.FlagFIN != 0 {
		flags = append(flags, "FIN")
	}
	if pkt.TCPFlags&ingress.FlagRST != 0 {
		flags = append(flags, "RST")
	}
	if pkt.TCPFlags&ingress.FlagPSH != 0 {
		flags = append(flags, "PSH")
	}
	if pkt.TCPFlags&ingress.FlagURG != 0 {
		flags = append(flags, "URG")
	}
	return strings.Join(flags, ",")
}
