// Package metrics defines the Prometheus collectors for feed harvests and
// exposes an HTTP handler for scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
	"github.com/lolpro11-org/gtfs-schema/internal/harvester"
)

// Metrics holds the harvest collectors. It implements harvester.Observer.
type Metrics struct {
	FetchTotal      *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	FetchBytes      prometheus.Counter
	FetchesInFlight prometheus.Gauge
	RoundTotal      prometheus.Counter
	MissingFeeds    prometheus.Gauge
}

var _ harvester.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gtfsfetch_fetch_total",
				Help: "Total fetch attempts by outcome (success, transport_failure, sink_write_failure).",
			},
			[]string{"outcome"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gtfsfetch_fetch_duration_seconds",
				Help:    "Fetch attempt latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		FetchBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gtfsfetch_fetch_bytes_total",
				Help: "Total archive bytes written to the sink.",
			},
		),
		FetchesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gtfsfetch_fetches_in_flight",
				Help: "Number of fetches currently running.",
			},
		),
		RoundTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gtfsfetch_round_total",
				Help: "Total harvest rounds started.",
			},
		),
		MissingFeeds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gtfsfetch_missing_feeds",
				Help: "Requested feeds not yet in the sink.",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.FetchTotal,
		m.FetchDuration,
		m.FetchBytes,
		m.FetchesInFlight,
		m.RoundTotal,
		m.MissingFeeds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

// RoundStarted counts the round and records the feeds it will attempt.
func (m *Metrics) RoundStarted(ctx context.Context, round int, feeds []feed.Descriptor) error {
	m.RoundTotal.Inc()
	if round == 1 {
		m.MissingFeeds.Set(float64(len(feeds)))
	}
	return nil
}

func (m *Metrics) FetchStarted(ctx context.Context, round int, d feed.Descriptor) error {
	m.FetchesInFlight.Inc()
	return nil
}

func (m *Metrics) FetchFinished(ctx context.Context, round int, o fetcher.Outcome) error {
	m.FetchesInFlight.Dec()
	outcome := o.Status.String()
	m.FetchTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.WithLabelValues(outcome).Observe(o.Duration.Seconds())
	if o.OK() {
		m.FetchBytes.Add(float64(o.Bytes))
		m.MissingFeeds.Dec()
	}
	return nil
}

// Converged sets the missing gauge to the final count.
func (m *Metrics) Converged(ctx context.Context, r *harvester.Report) error {
	m.MissingFeeds.Set(float64(len(r.Missing)))
	return nil
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Server serves /metrics until Shutdown.
type Server struct {
	srv  *http.Server
	addr string
}

// StartServer listens on addr and serves g at /metrics in the background.
func StartServer(addr string, g prometheus.Gatherer, logger logrus.FieldLogger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")

	return &Server{srv: srv, addr: ln.Addr().String()}, nil
}

// Addr is the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
