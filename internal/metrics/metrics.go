// Package metrics exposes Prometheus instrumentation for polling cycles.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsb_cycles_total",
			Help: "Total number of polling cycles by result",
		},
		[]string{"result"}, // "ok", "failed"
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adsb_cycle_duration_seconds",
			Help:    "Duration of polling cycles in seconds",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120},
		},
	)

	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsb_observations_total",
			Help: "Total number of observations by stage",
		},
		[]string{"stage"}, // "fetched", "duplicate", "anonymous", "stored"
	)

	CircleFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adsb_circle_fetch_failures_total",
			Help: "Total number of circles skipped after failed fetches",
		},
	)

	ColumnsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adsb_columns_added_total",
			Help: "Total number of columns added to the observation table",
		},
	)

	LastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "adsb_last_cycle_timestamp_seconds",
			Help: "Unix time the last polling cycle finished",
		},
	)
)

// RecordCycle records one cycle report
func RecordCycle(r types.CycleReport) {
	result := "ok"
	if r.Failed() {
		result = "failed"
	}
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(r.Duration.Seconds())

	ObservationsTotal.WithLabelValues("fetched").Add(float64(r.Fetched))
	ObservationsTotal.WithLabelValues("duplicate").Add(float64(r.Duplicates))
	ObservationsTotal.WithLabelValues("anonymous").Add(float64(r.Anonymous))
	ObservationsTotal.WithLabelValues("stored").Add(float64(r.Stored))
	CircleFetchFailures.Add(float64(r.FailedCircles))
	ColumnsAdded.Add(float64(r.ColumnsAdded))
	LastCycleTimestamp.SetToCurrentTime()
}

// Reporter feeds cycle reports into the package metrics
type Reporter struct{}

// RecordCycle implements the scheduler's reporter
func (Reporter) RecordCycle(r types.CycleReport) {
	RecordCycle(r)
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
