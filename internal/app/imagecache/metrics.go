package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "gallery"
	metricsSubsystem = "image_cache"
)

const (
	evictExpired     = "expired"
	evictCapacity    = "capacity"
	evictInvalidated = "invalidated"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "hits_total",
		Help:      "Image list reads served from the cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "misses_total",
		Help:      "Image list reads that went to the backing store.",
	})
	cacheFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "fetch_errors_total",
		Help:      "Backing store fetches that failed.",
	})
	cacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "evictions_total",
			Help:      "Entries removed from the cache, by reason.",
		},
		[]string{"reason"},
	)
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "entries",
		Help:      "Entries currently held by the cache.",
	})
)
