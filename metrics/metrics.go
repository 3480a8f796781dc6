// Package metrics exposes Prometheus counters for DID lookups and ServiceX
// reporting. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

const (
	namespace = "servicex"
	subsystem = "did_finder"
)

// Metrics holds the collectors for one finder process.
type Metrics struct {
	Registry *prometheus.Registry

	requests       *prometheus.CounterVec
	lookups        *prometheus.HistogramVec
	filesReported  prometheus.Counter
	filesSkipped   prometheus.Counter
	reportAttempts *prometheus.CounterVec
	reportFailures *prometheus.CounterVec
}

// New registers collectors on a fresh registry, labelled with the finder
// name.
func New(finder string) *Metrics {
	labels := prometheus.Labels{"finder": finder}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "requests_total",
			Help:        "DID requests handled, by task and outcome.",
			ConstLabels: labels,
		}, []string{"task", "outcome"}),
		lookups: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "lookup_duration_seconds",
			Help:        "Time spent resolving a DID, by final state.",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"state"}),
		filesReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "files_reported_total",
			Help:        "Files sent to ServiceX.",
			ConstLabels: labels,
		}),
		filesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "files_skipped_total",
			Help:        "Files dropped before reporting.",
			ConstLabels: labels,
		}),
		reportAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "report_attempts_total",
			Help:        "HTTP attempts against the ServiceX app, by operation.",
			ConstLabels: labels,
		}, []string{"op"}),
		reportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "report_failures_total",
			Help:        "ServiceX reports dropped after retries or rejected, by operation.",
			ConstLabels: labels,
		}, []string{"op"}),
	}

	m.Registry.MustRegister(
		m.requests,
		m.lookups,
		m.filesReported,
		m.filesSkipped,
		m.reportAttempts,
		m.reportFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RequestFinished counts a handled queue message.
func (m *Metrics) RequestFinished(task, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(task, outcome).Inc()
}

// LookupObserved records a finished lookup.
func (m *Metrics) LookupObserved(state string, elapsed time.Duration, files, skipped int) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(state).Observe(elapsed.Seconds())
	m.filesReported.Add(float64(files))
	m.filesSkipped.Add(float64(skipped))
}

// ReportAttempt counts one HTTP attempt for op.
func (m *Metrics) ReportAttempt(op string) {
	if m == nil {
		return
	}
	m.reportAttempts.WithLabelValues(op).Inc()
}

// ReportFailed counts a report that did not reach ServiceX.
func (m *Metrics) ReportFailed(op string) {
	if m == nil {
		return
	}
	m.reportFailures.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	log = logger.ComponentLogger(log, "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	log.Infow("Serving metrics", logger.FieldEndpoint, ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "metrics server shutdown")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server failed")
	}
}
