package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cache and knowledge base Prometheus metrics. The cache label is
// "fingerprint", "semantic" or "rag".
var (
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fwcache",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by outcome",
		},
		[]string{"cache", "result"}, // "hit" / "miss" / "expired"
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fwcache",
			Name:      "cache_evictions_total",
			Help:      "Entries removed by capacity eviction",
		},
		[]string{"cache"},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fwcache",
			Name:      "cache_entries",
			Help:      "Current number of entries (chunks for rag)",
		},
		[]string{"cache"},
	)

	IndexRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fwcache",
			Name:      "index_rebuilds_total",
			Help:      "Vector index rebuilds by reason",
		},
		[]string{"cache", "reason"}, // "evict" / "delete" / "repair" / "load"
	)
)

var cacheMetricsRegistered bool

// RegisterCacheMetrics registers cache metrics. Must be called once from main.
func RegisterCacheMetrics() {
	if cacheMetricsRegistered {
		return
	}
	prometheus.MustRegister(CacheRequestsTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(IndexRebuildsTotal)
	cacheMetricsRegistered = true
}
