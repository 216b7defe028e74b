package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tunshield/internal/config"
	"tunshield/internal/engine"
	"tunshield/internal/owner"
	"tunshield/internal/protectx"
	"tunshield/internal/tunio"
)

func main() {
	var cfgPath, metricsAddr, device string
	flag.StringVar(&cfgPath, "c", "config.yaml", "config path")
	flag.StringVar(&metricsAddr, "metrics", "", "prometheus metrics listen address, e.g. :9100")
	flag.StringVar(&device, "dev", "tun0", "existing TUN interface name")
	flag.Parse()

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	tun, err := tunio.Open(device)
	if err != nil {
		log.Fatalf("tun open %q: %v", device, err)
	}

	resolver, err := owner.NewProcfsResolver()
	if err != nil {
		log.Fatalf("owner resolver: %v", err)
	}

	e, err := engine.New(cfg, tun, resolver)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	e.Protect = func(fd int) bool {
		return protectx.Mark(fd, 0) == nil
	}
	e.LogPacket = func(rec engine.PacketRecord) {
		if cfg.Log.Debug {
			log.Printf("pkt v%d proto=%d %s:%d -> %s:%d flags=%s owner=%d allowed=%t",
				rec.Version, rec.Protocol, rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort,
				rec.Flags, rec.Owner, rec.Allowed)
		}
	}
	e.NativeExit = func(reason string) {
		if reason != "" {
			log.Printf("engine stopped: %s", reason)
		} else {
			log.Printf("engine stopped")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		go func() {
			if err := e.Metrics().ServeHTTP(ctx, metricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		log.Printf("Prometheus metrics listening on %s", metricsAddr)
	}

	if err := e.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	log.Printf("tunshield running on %q", device)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	log.Printf("shutting down...")
	cancel()
	e.Stop()
}
