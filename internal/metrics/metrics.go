// Package metrics instruments the ingest pipeline with Prometheus and
// serves the /metrics and /healthz endpoints.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfort/candle-ingest/internal/resilience"
)

// Recorder holds the pipeline's Prometheus instruments. Each Recorder owns
// its registry so tests can create them freely.
type Recorder struct {
	registry *prometheus.Registry

	candlesWritten *prometheus.CounterVec
	candlesFetched *prometheus.CounterVec
	candlesPurged  *prometheus.CounterVec
	unitsTotal     *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
	circuitState   *prometheus.GaugeVec
	coverageRatio  *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with a fresh registry, including the
// standard Go runtime collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		candlesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_candles_written_total",
				Help: "Candles persisted to storage",
			},
			[]string{"symbol", "interval"},
		),
		candlesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_candles_fetched_total",
				Help: "Candles retrieved from the upstream source",
			},
			[]string{"symbol", "interval"},
		),
		candlesPurged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_candles_purged_total",
				Help: "Candles removed by corrupted-range repair",
			},
			[]string{"symbol", "interval", "reason"},
		),
		unitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_units_total",
				Help: "Ingestion units finished, by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_cycle_duration_seconds",
				Help:    "Duration of one ingestion cycle per (symbol, interval)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol", "interval"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_circuit_state",
				Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
			},
			[]string{"breaker"},
		),
		coverageRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_coverage_ratio",
				Help: "Observed/expected candle ratio from the last validation",
			},
			[]string{"symbol", "interval"},
		),
	}
}

// RecordWritten counts candles persisted for a series.
func (r *Recorder) RecordWritten(symbol, interval string, n int) {
	r.candlesWritten.WithLabelValues(symbol, interval).Add(float64(n))
}

// RecordFetched counts candles retrieved for a series.
func (r *Recorder) RecordFetched(symbol, interval string, n int) {
	r.candlesFetched.WithLabelValues(symbol, interval).Add(float64(n))
}

// RecordPurged counts candles removed during a corrupted-range repair.
func (r *Recorder) RecordPurged(symbol, interval, reason string, n int) {
	r.candlesPurged.WithLabelValues(symbol, interval, reason).Add(float64(n))
}

// RecordUnitOutcome counts a finished ingestion unit.
func (r *Recorder) RecordUnitOutcome(outcome string) {
	r.unitsTotal.WithLabelValues(outcome).Inc()
}

// RecordCycleDuration observes how long one unit's cycle took.
func (r *Recorder) RecordCycleDuration(symbol, interval string, d time.Duration) {
	r.cycleDuration.WithLabelValues(symbol, interval).Observe(d.Seconds())
}

// RecordCoverage publishes the last validated coverage ratio for a series.
func (r *Recorder) RecordCoverage(symbol, interval string, ratio float64) {
	r.coverageRatio.WithLabelValues(symbol, interval).Set(ratio)
}

// ObserveBreaker registers a transition hook on the breaker so its state is
// reflected in the circuit gauge.
func (r *Recorder) ObserveBreaker(name string, breaker *resilience.CircuitBreaker) {
	gauge := r.circuitState.WithLabelValues(name)
	gauge.Set(stateValue(breaker.State()))
	breaker.OnTransition(func(_, to resilience.BreakerState) {
		gauge.Set(stateValue(to))
	})
}

func stateValue(s resilience.BreakerState) float64 {
	switch s {
	case resilience.BreakerOpen:
		return 1
	case resilience.BreakerHalfOpen:
		return 2
	default:
		return 0
	}
}

// Gatherer exposes the recorder's registry for the HTTP handler and tests.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// HealthFunc reports component health for the /healthz endpoint.
type HealthFunc func(ctx context.Context) error

// Server serves /metrics and /healthz.
type Server struct {
	srv    *http.Server
	health HealthFunc
	log    *slog.Logger
}

// NewServer builds the HTTP listener for the recorder. health is consulted
// on every /healthz request; nil means always healthy.
func NewServer(addr string, rec *Recorder, health HealthFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{health: health, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rec.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn("health check failed", "error", err)
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped", "error", err)
		}
	}()
	s.log.Info("metrics server listening", "addr", s.srv.Addr)
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
