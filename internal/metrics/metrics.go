package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/finverify/internal/model"
)

const namespace = "finverify"

// Metrics holds the prometheus collectors for refresh and verification.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Refreshes        *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	SnapshotsWritten prometheus.Counter
	Claims           *prometheus.CounterVec
	Confidence       prometheus.Histogram
	CacheLookups     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Entity refreshes by outcome (written, skipped, error).",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent deriving and writing one entity's snapshots.",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_written_total",
			Help:      "Metric snapshots written by refreshes.",
		}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Verified claims by status.",
		}, []string{"status"}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Confidence scores assigned to responses.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Snapshot cache lookups by result (hit, miss).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.RefreshDuration, m.SnapshotsWritten, m.Claims, m.Confidence, m.CacheLookups)
	}
	return m
}

// ObserveRefresh records one entity refresh
func (m *Metrics) ObserveRefresh(result string, elapsed time.Duration, written int) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(elapsed.Seconds())
	m.SnapshotsWritten.Add(float64(written))
}

// ObserveClaim records one verification result
func (m *Metrics) ObserveClaim(status model.VerificationStatus) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(string(status)).Inc()
}

// ObserveScore records one confidence score
func (m *Metrics) ObserveScore(score float64) {
	if m == nil {
		return
	}
	m.Confidence.Observe(score)
}

// CacheLookup records a snapshot cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// Serve exposes /metrics for gatherer on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
