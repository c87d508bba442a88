package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinegate",
			Name:      "http_requests_total",
			Help:      "Total number of intercepted requests by category, response source and status code",
		},
		[]string{"category", "source", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "offlinegate",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of intercepted requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinegate",
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"category"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinegate",
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"category"},
	)

	fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinegate",
			Name:      "fallbacks_total",
			Help:      "Responses produced by an offline fallback after a network failure",
		},
		[]string{"category"},
	)

	backgroundFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinegate",
			Name:      "background_task_failures_total",
			Help:      "Detached background tasks that failed",
		},
		[]string{"task"},
	)

	staleStoresDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinegate",
			Name:      "stale_stores_deleted_total",
			Help:      "Stale cache generations processed during activation",
		},
		[]string{"result"},
	)

	originCircuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "offlinegate",
			Name:      "origin_circuit_open",
			Help:      "1 while origin fetches are short-circuited after consecutive network failures",
		},
	)

	lifecycleState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "offlinegate",
			Name:      "lifecycle_state",
			Help:      "Current agent lifecycle state (0 uninstalled .. 4 active)",
		},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			requestTotal,
			requestDuration,
			cacheHits,
			cacheMisses,
			fallbacks,
			backgroundFailures,
			staleStoresDeleted,
			originCircuitOpen,
			lifecycleState,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(category, source, code string, d time.Duration) {
	requestTotal.WithLabelValues(category, source, code).Inc()
	requestDuration.WithLabelValues(category).Observe(d.Seconds())
}

func IncCacheHit(category string) {
	cacheHits.WithLabelValues(category).Inc()
}

func IncCacheMiss(category string) {
	cacheMisses.WithLabelValues(category).Inc()
}

func IncFallback(category string) {
	fallbacks.WithLabelValues(category).Inc()
}

func IncBackgroundFailure(task string) {
	backgroundFailures.WithLabelValues(task).Inc()
}

func IncStaleStore(result string) {
	staleStoresDeleted.WithLabelValues(result).Inc()
}

func SetLifecycleState(value float64) {
	lifecycleState.Set(value)
}

func SetOriginCircuitOpen(open bool) {
	v := 0.0
	if open {
		v = 1
	}
	originCircuitOpen.Set(v)
}
