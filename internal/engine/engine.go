// Package engine ties the session tables, TCP/UDP stacks, owner
// resolution, PCAP tap, and readiness-driven event loop into the single
// worker described by spec §5: one engine value owned by the worker, no
// module-level singletons (spec §9).
package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"tunshield/internal/config"
	"tunshield/internal/flow"
	"tunshield/internal/hostsfile"
	"tunshield/internal/owner"
	"tunshield/internal/pcapwriter"
	"tunshield/internal/tcpstack"
	"tunshield/internal/tunio"
	"tunshield/internal/udpxlate"
)

// ProtectFunc exempts a raw socket fd from the tunnel (spec §6
// protect(socket) → bool), supplied by the host application.
type ProtectFunc func(fd int) bool

// Engine is the single worker's state: session tables, PCAP handle, and
// the callback surface the host wires in before Start.
type Engine struct {
	mu sync.Mutex

	cfg *config.Config

	tun      *tunio.Device
	udpTable *flow.UDPTable
	tcpTable *flow.TCPTable

	udpXlate *udpxlate.Translator
	tcpStack *tcpstack.Stack

	pcap *pcapwriter.Writer

	ownerResolver owner.Resolver
	ownerCfg      owner.Config

	filterEnabled bool
	allowedOwners map[int64]struct{}

	metrics *Metrics
	logger  *log.Logger
	verbose bool

	stopping atomic.Bool
	wakeR    int
	wakeW    int
	doneCh   chan struct{}

	// Protect, LogPacket, and NativeExit are the host-supplied callbacks
	// of spec §6.
	Protect    ProtectFunc
	LogPacket  func(PacketRecord)
	NativeExit func(reason string)
}

type protectAdapter struct{ e *Engine }

func (p protectAdapter) Protect(fd int) error {
	if p.e.Protect == nil {
		return nil
	}
	if !p.e.Protect(fd) {
		return fmt.Errorf("engine: protect refused fd %d", fd)
	}
	return nil
}

// New builds an Engine around an already-opened TUN device and an
// owner-identity resolver. Config drives timeouts, the allow-list, the
// hosts blocklist, and PCAP.
func New(cfg *config.Config, tun *tunio.Device, resolver owner.Resolver) (*Engine, error) {
	e := &Engine{
		cfg:           cfg,
		tun:           tun,
		udpTable:      flow.NewUDPTable(),
		tcpTable:      flow.NewTCPTable(),
		ownerResolver: resolver,
		ownerCfg:      owner.DefaultConfig,
		metrics:       NewMetrics(),
		logger:        log.Default(),
		verbose:       cfg.Log.Debug,
	}

	e.udpXlate = &udpxlate.Translator{
		Table:     e.udpTable,
		Protector: protectAdapter{e},
		Log:       e.logger,
		Loopback4: [4]byte{127, 0, 0, 1},
		Loopback6: [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
	}
	e.tcpStack = &tcpstack.Stack{
		Table:     e.tcpTable,
		Protector: protectAdapter{e},
		Emit:      e.writeToTun,
		Log:       e.logger,
	}

	if cfg.Filter.Enable {
		e.filterEnabled = true
		e.allowedOwners = toOwnerSet(cfg.Filter.AllowedOwners)
	}
	if cfg.Filter.HostsFile != "" {
		bl, err := hostsfile.Load(cfg.Filter.HostsFile)
		if err != nil {
			return nil, fmt.Errorf("engine: load hosts file: %w", err)
		}
		e.udpXlate.Blocklist = bl
	}
	if cfg.PCAP.Enable {
		w, err := pcapwriter.Open(cfg.PCAP.Path, cfg.PCAP.MaxFile)
		if err != nil {
			return nil, fmt.Errorf("engine: open pcap: %w", err)
		}
		e.pcap = w
	}

	return e, nil
}

// Metrics exposes the engine's Prometheus registry, e.g. for ServeHTTP.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Start launches the worker goroutine. Stop joins it.
func (e *Engine) Start() error {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("engine: wake pipe: %w", err)
	}
	e.wakeR, e.wakeW = fds[0], fds[1]
	e.doneCh = make(chan struct{})
	go e.runLoop()
	return nil
}

// Stop requests a clean shutdown and blocks until the worker exits,
// tearing down all flows (spec §6 "on exit the worker tears down all
// flows").
func (e *Engine) Stop() {
	e.stopping.Store(true)
	unix.Write(e.wakeW, []byte{0})
	if e.doneCh != nil {
		<-e.doneCh
	}
}

func toOwnerSet(owners []int64) map[int64]struct{} {
	s := make(map[int64]struct{}, len(owners))
	for _, o := range owners {
		s[o] = struct{}{}
	}
	return s
}

func (e *Engine) ownerAllowed(ownerID int64) bool {
	if !e.filterEnabled {
		return true
	}
	_, ok := e.allowedOwners[ownerID]
	return ok
}

// ApplyAllowlist re-evaluates every live flow's owner against a new
// allow-list (spec §8 scenario 5): flows for now-disallowed owners are
// driven toward teardown immediately instead of waiting for the next
// sweep.
func (e *Engine) ApplyAllowlist(owners []int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.filterEnabled = true
	e.allowedOwners = toOwnerSet(owners)
	now := time.Now()

	e.tcpTable.Each(func(f *flow.TCPFlow) {
		if f.State == flow.StateClose || f.State == flow.StateTimeWait {
			return
		}
		if !e.ownerAllowed(f.Owner) {
			f.State = flow.StateTimeWait
			f.LastActivity = now
		}
	})
	e.udpTable.Each(func(f *flow.UDPFlow) {
		if !e.ownerAllowed(f.Owner) {
			f.Stop = true
		}
	})
}
