package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adventureadjacent/mapcase-weather/internal/health"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// NWS API call rate by resource and status class. Watch for: error vs success ratio.
	NWSCallsTotal *prometheus.CounterVec

	// NWS API latency per request. Watch for: p95 > 2s (upstream degradation), p99 near timeout.
	NWSCallDuration *prometheus.HistogramVec

	// Point-cache resolution outcomes. Hit rate = hits/(hits+misses).
	PointCacheHitsTotal   prometheus.Counter
	PointCacheMissesTotal prometheus.Counter

	// Grid resolutions answered by an in-flight duplicate instead of a new upstream call.
	ResolutionCoalescedTotal prometheus.Counter

	// Forecast product cache outcomes per type.
	ForecastCacheHitsTotal   *prometheus.CounterVec
	ForecastRevalidatedTotal *prometheus.CounterVec // 304 responses that extended an entry
	ForecastRefreshedTotal   *prometheus.CounterVec // 200 responses that replaced a payload

	// Stale payloads served because upstream failed on revalidation.
	StaleServesTotal *prometheus.CounterVec

	// Product slots filled with an in-band error marker (no stale payload available).
	ProductErrorsTotal *prometheus.CounterVec

	// Assembled-bundle cache layer.
	BundleCacheHitsTotal   prometheus.Counter
	BundleCacheErrorsTotal *prometheus.CounterVec

	// Bundle outcomes: ok, resolution_failed.
	BundlesTotal *prometheus.CounterVec

	// Stations linked during best-effort refreshes.
	StationsLinkedTotal prometheus.Counter

	// Station refreshes that degraded to zero links.
	StationRefreshFailuresTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Bundle-cache warming runs and latency.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	NWSCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwsCallsTotal",
			Help: "Total number of NWS API calls by resource and status class",
		},
		[]string{"resource", "status"},
	)
	NWSCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nwsCallDurationSeconds",
			Help:    "NWS API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"resource"},
	)
	PointCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pointCacheHitsTotal",
			Help: "Coordinate queries resolved from the geospatial point cache",
		},
	)
	PointCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pointCacheMissesTotal",
			Help: "Coordinate queries that required an upstream /points call",
		},
	)
	ResolutionCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolutionCoalescedTotal",
			Help: "Grid resolutions served by waiting on an identical in-flight resolution",
		},
	)
	ForecastCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastCacheHitsTotal",
			Help: "Forecast products served from a fresh cache entry",
		},
		[]string{"forecastType"},
	)
	ForecastRevalidatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastRevalidatedTotal",
			Help: "Forecast cache entries extended by an upstream 304",
		},
		[]string{"forecastType"},
	)
	ForecastRefreshedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastRefreshedTotal",
			Help: "Forecast cache entries replaced by an upstream 200",
		},
		[]string{"forecastType"},
	)
	StaleServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleServesTotal",
			Help: "Stale forecast payloads served because revalidation failed",
		},
		[]string{"forecastType"},
	)
	ProductErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productErrorsTotal",
			Help: "Forecast product slots filled with an in-band error marker",
		},
		[]string{"forecastType"},
	)
	BundleCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bundleCacheHitsTotal",
			Help: "Assembled bundles served from the bundle cache layer",
		},
	)
	BundleCacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundleCacheErrorsTotal",
			Help: "Bundle cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	BundlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlesTotal",
			Help: "Forecast bundle requests by outcome",
		},
		[]string{"outcome"},
	)
	StationsLinkedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stationsLinkedTotal",
			Help: "Observation stations linked to grid cells",
		},
	)
	StationRefreshFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stationRefreshFailuresTotal",
			Help: "Station refreshes that degraded to zero links",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Bundle cache warming runs",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Bundle cache warming duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		NWSCallsTotal, NWSCallDuration,
		PointCacheHitsTotal, PointCacheMissesTotal, ResolutionCoalescedTotal,
		ForecastCacheHitsTotal, ForecastRevalidatedTotal, ForecastRefreshedTotal,
		StaleServesTotal, ProductErrorsTotal,
		BundleCacheHitsTotal, BundleCacheErrorsTotal, BundlesTotal,
		StationsLinkedTotal, StationRefreshFailuresTotal,
		RateLimitDeniedTotal,
		CacheWarmingTotal, CacheWarmingDurationSeconds,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load; uses the same window as the health lifecycle.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(health.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(health.DenialCount(window)) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
