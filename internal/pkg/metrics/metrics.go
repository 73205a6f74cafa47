package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counts whole harvest runs by outcome (ok, rejected, failed, timeout).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_runs_total",
			Help: "Total number of harvest runs by outcome.",
		},
		[]string{"outcome"},
	)

	// Counts per-product pipeline units by outcome and failing stage.
	ProductsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_products_total",
			Help: "Per-product harvest outcomes (ok, or the stage that failed).",
		},
		[]string{"brand", "outcome"},
	)

	// Measures source fetch durations.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Duration of source fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"brand"},
	)

	RateRowsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rate_rows_opened_total",
		Help: "Number of rate rows opened by reconciliation.",
	})

	RateRowsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rate_rows_closed_total",
		Help: "Number of rate rows closed by reconciliation.",
	})
)

// StartServer exposes /metrics on its own listener.
func StartServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(addr, mux) //nolint:errcheck
	}()
}
