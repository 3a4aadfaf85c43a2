// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: requests, files, tests, api calls.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDurationHistogram tracks how long one full poll tick takes,
	// including both enumeration phases, stale eviction and rendering.
	TickDurationHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "estats_tick_duration_histogram",
			Help:    "polling tick duration distribution (seconds)",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	// ConnectionCountHistogram tracks the number of rows the OS connection
	// table enumeration returns, per address family.
	ConnectionCountHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "estats_connection_count_histogram",
			Help: "connection count histogram",
			Buckets: []float64{
				1, 2, 3, 4, 5, 6, 8,
				10, 12.5, 16, 20, 25, 32, 40, 50, 63, 79,
				100, 125, 160, 200, 250, 320, 400, 500, 630, 790,
				1000, 1250, 1600, 2000, 2500, 3200, 4000, 5000, 6300, 7900,
				10000,
			},
		},
		[]string{"af"})

	// TrackedConnectionGauge tracks the number of live Connection Records per
	// family, after each tick's stale-eviction phase.
	TrackedConnectionGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "estats_tracked_connection_count",
			Help: "tracked connections by family, after stale eviction",
		}, []string{"family"})

	// TransientErrorCount measures per-reading failures classified as
	// transient (spec §4.H): logged and dropped, polling continues.
	// Provides metrics:
	//    estats_transient_error_total
	// Example usage:
	//    metrics.TransientErrorCount.With(prometheus.Labels{"family": "Path"}).Inc()
	TransientErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estats_transient_error_total",
			Help: "The total number of transient ESTATS failures encountered.",
		}, []string{"family"})

	// FatalErrorCount counts "access denied" observations that stop the
	// polling loop (spec §4.H).
	FatalErrorCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estats_fatal_error_total",
			Help: "Number of fatal (access denied) ESTATS failures.",
		},
	)

	// LongFormRowCount counts long-form CSV rows written, per file.
	//
	// Provides metrics:
	//   estats_longform_row_total
	// Example usage:
	//   metrics.LongFormRowCount.With(prometheus.Labels{"file": "Path"}).Inc()
	LongFormRowCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estats_longform_row_total",
			Help: "Number of long-form CSV rows written.",
		}, []string{"file"})

	// LiveRotationCount counts rotations of the live summary CSVs.
	LiveRotationCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estats_live_rotation_total",
			Help: "Number of times the live summary CSVs have rotated.",
		},
	)
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in estats-collector.metrics are registered.")
}
