// Package metrics holds the Prometheus collectors shared by the pool services.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenant_pool"

type collectors struct {
	allocations           *prometheus.CounterVec
	mismatches            *prometheus.CounterVec
	credentialResolutions *prometheus.CounterVec
	credentialCache       *prometheus.CounterVec
	deployments           *prometheus.CounterVec
	deploymentDuration    *prometheus.HistogramVec
	teardownSteps         *prometheus.CounterVec
	workersBusy           prometheus.Gauge
}

var collectorsSingleton = sync.OnceValue(func() *collectors {
	return &collectors{
		allocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "allocations_total",
			Help:      "Slot allocation attempts by result (allocated, exhausted, race_lost, error).",
		}, []string{"result"}),
		mismatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reconciliation_mismatches_total",
			Help:      "Slots whose central record and in-project flag disagree, by kind.",
		}, []string{"kind"}),
		credentialResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credentials",
			Name:      "resolutions_total",
			Help:      "Credential strategy outcomes by strategy and result.",
		}, []string{"strategy", "result"}),
		credentialCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credentials",
			Name:      "cache_lookups_total",
			Help:      "Credential cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		deployments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deployments",
			Name:      "total",
			Help:      "Finished deployments by terminal state and URL cleanliness.",
		}, []string{"state", "clean"}),
		deploymentDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deployments",
			Name:      "duration_seconds",
			Help:      "Wall time from submission to a terminal state.",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800},
		}, []string{"state"}),
		teardownSteps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "teardown",
			Name:      "steps_total",
			Help:      "Teardown step outcomes by step and outcome.",
		}, []string{"step", "outcome"}),
		workersBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workpool",
			Name:      "busy",
			Help:      "Workflows currently holding a worker slot.",
		}),
	}
})

func get() *collectors {
	return collectorsSingleton()
}

func RecordAllocation(result string) {
	get().allocations.WithLabelValues(result).Inc()
}

func RecordMismatch(kind string) {
	get().mismatches.WithLabelValues(kind).Inc()
}

func RecordCredentialStrategy(strategy, result string) {
	get().credentialResolutions.WithLabelValues(strategy, result).Inc()
}

func RecordCredentialCache(result string) {
	get().credentialCache.WithLabelValues(result).Inc()
}

func RecordDeployment(state string, clean bool, took time.Duration) {
	cleanLabel := "false"
	if clean {
		cleanLabel = "true"
	}
	get().deployments.WithLabelValues(state, cleanLabel).Inc()
	get().deploymentDuration.WithLabelValues(state).Observe(took.Seconds())
}

func RecordTeardownStep(step, outcome string) {
	get().teardownSteps.WithLabelValues(step, outcome).Inc()
}

func WorkerAcquired() { get().workersBusy.Inc() }
func WorkerReleased() { get().workersBusy.Dec() }

// Handler exposes the default registry.
func Handler() http.Handler {
	get()
	return promhttp.Handler()
}
