package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildsTotal counts session builds by result (ok, error).
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocluster_builds_total",
		Help: "Total number of clustering session builds",
	}, []string{"result"})

	// BuildDuration records the wall time of a complete session build.
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geocluster_build_duration_seconds",
		Help:    "Duration of clustering session builds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// PointsSkipped counts input points rejected for invalid coordinates.
	PointsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geocluster_points_skipped_total",
		Help: "Total number of input points skipped for invalid coordinates",
	})

	// IconCacheRequests counts icon cache lookups by result (hit, build, error).
	IconCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocluster_icon_cache_requests_total",
		Help: "Icon cache lookups by result",
	}, []string{"result"})

	// TapsRouted counts tap events by the kind of object hit (cluster, noise, none).
	TapsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocluster_taps_total",
		Help: "Tap events routed by target kind",
	}, []string{"kind"})

	// Sessions is the number of live clustering sessions.
	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geocluster_sessions",
		Help: "Number of live clustering sessions",
	})

	// NMEASentences counts GPS sentences read by result (ok, checksum, malformed, ignored).
	NMEASentences = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocluster_nmea_sentences_total",
		Help: "NMEA sentences read from the GPS receiver by result",
	}, []string{"result"})
)
