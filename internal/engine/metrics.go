package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the engine's Prometheus surface, replacing the teacher's
// hand-rolled exposition text with the real client library.
type Metrics struct {
	registry *prometheus.Registry

	PacketsIn      prometheus.Counter
	PacketsOut     prometheus.Counter
	TCPFlowsActive prometheus.Gauge
	UDPFlowsActive prometheus.Gauge
	DNSSinkholed   prometheus.Counter
	SegmentsDropped prometheus.Counter
	SweepEvictions prometheus.Counter
}

// NewMetrics registers a fresh set of engine counters/gauges.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		PacketsIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tunshield_packets_in_total",
			Help: "IP packets read from the TUN device.",
		}),
		PacketsOut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tunshield_packets_out_total",
			Help: "Synthesised IP packets written to the TUN device.",
		}),
		TCPFlowsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tunshield_tcp_flows_active",
			Help: "TCP flows currently tracked in the session table.",
		}),
		UDPFlowsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tunshield_udp_flows_active",
			Help: "UDP flows currently tracked in the session table.",
		}),
		DNSSinkholed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tunshield_dns_sinkholed_total",
			Help: "DNS queries answered locally instead of forwarded.",
		}),
		SegmentsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tunshield_segments_dropped_total",
			Help: "Segments dropped as malformed, stray, or disallowed out-of-order.",
		}),
		SweepEvictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tunshield_sweep_evictions_total",
			Help: "Flows evicted by the timeout sweeper.",
		}),
	}
}

// ServeHTTP exposes the metrics on addr until ctx is cancelled, mirroring
// the teacher's StartMetricsServer shape in internal/metrics.go.
func (m *Metrics) ServeHTTP(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("engine: empty metrics address")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("engine: metrics server: %w", err)
	}
	return nil
}
