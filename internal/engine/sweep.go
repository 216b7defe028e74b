package engine

import (
	"time"

	"tunshield/internal/flow"
	"tunshield/internal/tcpstack"
	"tunshield/internal/udpxlate"
)

// sweep reaps idle and lingering flows per spec §4.2. Called once per
// loop iteration, before building the poll set, under e.mu. Running it
// twice in immediate succession is a no-op the second time: every branch
// below only acts on a flow once its deadline has actually passed, and
// acting on it moves it past the condition that triggered the action.
func (e *Engine) sweep(now time.Time) {
	var deadUDP []flow.FiveTuple
	e.udpTable.Each(func(f *flow.UDPFlow) {
		if f.Stop {
			deadUDP = append(deadUDP, f.Key)
			return
		}
		idle := e.cfg.Timeouts.UDPIdle
		if f.Key.DstPort == 53 {
			idle = e.cfg.Timeouts.UDPIdleDNS
		}
		if now.Sub(f.LastActivity) >= idle {
			udpxlate.Close(f)
			deadUDP = append(deadUDP, f.Key)
		}
	})
	for _, k := range deadUDP {
		e.udpTable.Remove(k)
		e.metrics.SweepEvictions.Inc()
	}
	e.metrics.UDPFlowsActive.Set(float64(e.udpTable.Len()))

	var deadTCP []flow.FiveTuple
	e.tcpTable.Each(func(f *flow.TCPFlow) {
		switch f.State {
		case flow.StateClose:
			if now.Sub(f.ClosedAt) >= e.cfg.Timeouts.TCPKeep {
				deadTCP = append(deadTCP, f.Key)
			}
			return
		case flow.StateTimeWait:
			// No distinct TIME_WAIT retention threshold is named; reused
			// TCPClosing, the other short-lived teardown window. The flow
			// moves to CLOSE and is unlinked by the CLOSE branch once
			// TCPKeep has elapsed.
			if now.Sub(f.LastActivity) >= e.cfg.Timeouts.TCPClosing {
				tcpstack.Close(f, now)
			}
			return
		case flow.StateListen, flow.StateSynRecv:
			if now.Sub(f.LastActivity) >= e.cfg.Timeouts.TCPHandshake {
				e.tcpStack.HandleException(f, now)
			}
			return
		case flow.StateClosing, flow.StateFinWait1, flow.StateFinWait2, flow.StateLastAck, flow.StateCloseWait:
			if now.Sub(f.LastActivity) >= e.cfg.Timeouts.TCPClosing {
				e.tcpStack.HandleException(f, now)
			}
			return
		case flow.StateEstablished:
			if now.Sub(f.LastActivity) >= e.cfg.Timeouts.TCPEstab {
				e.tcpStack.HandleException(f, now)
			}
			return
		}
	})
	for _, k := range deadTCP {
		e.tcpTable.Remove(k)
		e.metrics.SweepEvictions.Inc()
	}
	e.metrics.TCPFlowsActive.Set(float64(e.tcpTable.Len()))
}
