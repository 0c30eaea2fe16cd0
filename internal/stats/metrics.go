package stats

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics exposes extraction counters to Prometheus. Counters here are
// cumulative across the process lifetime and, unlike Aggregator columns,
// never decrease: a recovered retry increments the retry-success counter
// rather than unwinding the earlier failure.
type Metrics struct {
	extractions    *prometheus.CounterVec
	retries        *prometheus.CounterVec
	scheduleDepth  prometheus.Gauge
	poolInUse      prometheus.Gauge
	extractLatency prometheus.Histogram
}

// NewMetrics registers the extraction metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealhound_extractions_total",
			Help: "Total number of first-pass extraction attempts by outcome",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealhound_retries_total",
			Help: "Total number of retry-pass attempts by outcome",
		}, []string{"outcome"}),
		scheduleDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dealhound_schedule_depth",
			Help: "Number of tasks currently held by the schedule queue",
		}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dealhound_browser_sessions_in_use",
			Help: "Browser sessions currently checked out of the pool",
		}),
		extractLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealhound_extract_duration_seconds",
			Help:    "Wall-clock duration of a single page extraction",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.extractions, m.retries, m.scheduleDepth, m.poolInUse, m.extractLatency)
	return m
}

// SetScheduleDepth publishes the current schedule queue length.
func (m *Metrics) SetScheduleDepth(n int) {
	m.scheduleDepth.Set(float64(n))
}

// SetPoolInUse publishes how many browser sessions are checked out.
func (m *Metrics) SetPoolInUse(n int) {
	m.poolInUse.Set(float64(n))
}

// ObserveExtractDuration records the wall-clock time of one extraction.
func (m *Metrics) ObserveExtractDuration(seconds float64) {
	m.extractLatency.Observe(seconds)
}

func (m *Metrics) observeResult(success bool) {
	m.extractions.WithLabelValues(outcome(success)).Inc()
}

func (m *Metrics) observeRetry(success bool) {
	m.retries.WithLabelValues(outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Serve exposes /metrics on the given port until ctx ends, then shuts
// the listener down gracefully. It blocks; run it in its own goroutine.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics shutdown failed")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
