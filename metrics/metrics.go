// Package metrics provides Prometheus metrics for the asset cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Read sources
const (
	SourceCache        = "cache"
	SourceBase         = "base"
	SourceMaterialized = "materialized"
	SourceMissing      = "missing"
)

// Fetch results
const (
	FetchUpdated      = "updated"
	FetchNotModified  = "not_modified"
	FetchNotFound     = "not_found"
	FetchError        = "error"
	FetchSkippedLocal = "skipped_local"
	FetchSkippedRetry = "skipped_backoff"
)

var (
	openFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcache_open_files",
			Help: "Number of open asset file handles",
		},
	)

	readsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcache_reads_total",
			Help: "Asset opens for read by the location that served them",
		},
		[]string{"source"},
	)

	writesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcache_writes_total",
			Help: "Asset writes into the cache directory",
		},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcache_fetches_total",
			Help: "Mirror fetch attempts by result",
		},
		[]string{"result"},
	)

	fetchBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcache_fetch_bytes_total",
			Help: "Bytes downloaded from mirrors",
		},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netcache_fetch_duration_seconds",
			Help:    "Duration of a single mirror GET",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcache_fetch_queue_length",
			Help: "Pending refetch requests",
		},
	)

	manifestEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcache_manifest_entries",
			Help: "Files tracked by the cache manifest",
		},
	)

	cacheUpdated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcache_cache_updated",
			Help: "1 once a background fetch replaced cached content",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcache_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "status"},
	)
)

func FileOpened() { openFiles.Inc() }
func FileClosed() { openFiles.Dec() }

func RecordRead(source string) {
	readsTotal.WithLabelValues(source).Inc()
}

func RecordWrite() {
	writesTotal.Inc()
}

func RecordFetch(result string, bytes int, d time.Duration) {
	fetchesTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		fetchBytes.Add(float64(bytes))
	}
	if d > 0 {
		fetchDuration.Observe(d.Seconds())
	}
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

func SetManifestEntries(n int) {
	manifestEntries.Set(float64(n))
}

func SetCacheUpdated(v bool) {
	if v {
		cacheUpdated.Set(1)
		return
	}
	cacheUpdated.Set(0)
}

func RecordHTTPRequest(method string, status int) {
	httpRequestsTotal.WithLabelValues(method, http.StatusText(status)).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
