package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var scenarioLabel atomic.Value

func init() {
	scenarioLabel.Store("cache")
	for _, c := range collectors() {
		prometheus.MustRegister(c)
	}
}

func SetScenario(s string) {
	if s == "" {
		s = "cache"
	}
	scenarioLabel.Store(s)
}

func getScenario() string {
	if v := scenarioLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "cache"
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "scenario"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "scenario"},
	)

	gatewayQuerySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_query_seconds",
			Help:    "Latency of database queries (connect, execute, scan) in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"kind", "result"},
	)

	gatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Failed database queries by payload kind.",
		},
		[]string{"kind"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Result cache lookups by outcome (hit, miss, shared).",
		},
		[]string{"outcome", "scenario"},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Entries currently held by the result cache.",
		},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries removed from the result cache by reason.",
		},
		[]string{"reason"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events by driver and result.",
		},
		[]string{"driver", "result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tileserver_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		gatewayQuerySeconds, gatewayErrorsTotal,
		cacheResults, cacheEntries, cacheEvictions,
		invalidationEvents, buildInfo,
	}
}

// Init additionally registers the service metrics on reg (e.g. a dedicated
// metrics.Provider registry). Collectors already present are skipped.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := getScenario()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

// ObserveGatewayQuery records one database round trip for kind (text|binary).
func ObserveGatewayQuery(kind string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
		gatewayErrorsTotal.WithLabelValues(kind).Inc()
	}
	gatewayQuerySeconds.WithLabelValues(kind, result).Observe(durationSeconds)
}

func IncCacheHit()    { cacheResults.WithLabelValues("hit", getScenario()).Inc() }
func IncCacheMiss()   { cacheResults.WithLabelValues("miss", getScenario()).Inc() }
func IncCacheShared() { cacheResults.WithLabelValues("shared", getScenario()).Inc() }

func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }

func AddCacheEvictions(reason string, n int) {
	if n <= 0 {
		return
	}
	cacheEvictions.WithLabelValues(reason).Add(float64(n))
}

func IncInvalidation(driver, result string) {
	invalidationEvents.WithLabelValues(driver, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
