// Package metrics exposes a Prometheus collector over the monitor's
// operating counters: ARP cache occupancy, DHCP lease state, TFTP bytes
// moved, retransmission give-ups, and console scroll count. Grounded on
// runZeroInc-conniver/pkg/exporter.TCPInfoCollector's Describe/Collect
// shape and runZeroInc-sockstats/cmd/exporter_example1's promhttp wiring.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Snapshot is the set of counters the collector reports. Callers replace
// it with Collector.Update; the collector itself does no polling.
type Snapshot struct {
	ARPCacheEntries     int
	DHCPBound           bool
	TFTPBytesSent       uint64
	TFTPBytesReceived   uint64
	RetransGiveups      uint64
	ConsoleScrollEvents uint64
}

// Collector implements prometheus.Collector over a Snapshot guarded by a
// mutex, matching TCPInfoCollector's Collect-under-lock pattern.
type Collector struct {
	mu       sync.Mutex
	snapshot Snapshot

	descARPCache   *prometheus.Desc
	descDHCPBound  *prometheus.Desc
	descTFTPSent   *prometheus.Desc
	descTFTPRecv   *prometheus.Desc
	descRetrans    *prometheus.Desc
	descScroll     *prometheus.Desc
}

// New builds a Collector. constLabels is attached to every exported
// series, mirroring NewTCPInfoCollector's constLabels parameter.
func New(constLabels prometheus.Labels) *Collector {
	return &Collector{
		descARPCache:  prometheus.NewDesc("umon_arp_cache_entries", "Number of entries currently held in the ARP cache.", nil, constLabels),
		descDHCPBound: prometheus.NewDesc("umon_dhcp_bound", "1 if the DHCP client currently holds a bound lease, 0 otherwise.", nil, constLabels),
		descTFTPSent:  prometheus.NewDesc("umon_tftp_bytes_sent_total", "Total bytes sent over TFTP data packets.", nil, constLabels),
		descTFTPRecv:  prometheus.NewDesc("umon_tftp_bytes_received_total", "Total bytes received over TFTP data packets.", nil, constLabels),
		descRetrans:   prometheus.NewDesc("umon_retransmission_giveups_total", "Number of retransmission policies that exhausted their give-up count.", nil, constLabels),
		descScroll:    prometheus.NewDesc("umon_console_scroll_events_total", "Number of times the frame-buffer console scrolled.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descARPCache
	ch <- c.descDHCPBound
	ch <- c.descTFTPSent
	ch <- c.descTFTPRecv
	ch <- c.descRetrans
	ch <- c.descScroll
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	s := c.snapshot
	c.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.descARPCache, prometheus.GaugeValue, float64(s.ARPCacheEntries))
	dhcpBound := 0.0
	if s.DHCPBound {
		dhcpBound = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.descDHCPBound, prometheus.GaugeValue, dhcpBound)
	ch <- prometheus.MustNewConstMetric(c.descTFTPSent, prometheus.CounterValue, float64(s.TFTPBytesSent))
	ch <- prometheus.MustNewConstMetric(c.descTFTPRecv, prometheus.CounterValue, float64(s.TFTPBytesReceived))
	ch <- prometheus.MustNewConstMetric(c.descRetrans, prometheus.CounterValue, float64(s.RetransGiveups))
	ch <- prometheus.MustNewConstMetric(c.descScroll, prometheus.CounterValue, float64(s.ConsoleScrollEvents))
}

// Update replaces the reported snapshot. The caller is responsible for
// computing the new values from its own component state before calling.
func (c *Collector) Update(s Snapshot) {
	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()
}

// Server serves the collector's registry over HTTP, matching
// exporter_example1's http.Handle("/metrics", promhttp.Handler())
// wiring, but held behind a *http.Server so the monitor can shut it
// down cleanly alongside the rest of the process.
type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
}

// NewServer registers collector against a fresh registry and binds addr.
func NewServer(addr string, collector *Collector, logger logrus.FieldLogger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		logger:     logger,
	}
}

// Start runs the metrics HTTP server in the background, on its own
// goroutine: serving /metrics reads only the collector's snapshot and
// does not touch the polled protocol stack.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server stopped")
		}
	}()
}

// Stop shuts the server down within the given timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
