package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kvadrere"

type metrics struct {
	slices   prometheus.Counter
	failures *prometheus.CounterVec
	shared   prometheus.Counter
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		slices: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slices_emitted_total",
			Help:      "Number of tile slices returned to clients.",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiling_failures_total",
			Help:      "Number of tiling requests that failed, by reason.",
		}, []string{"reason"}),
		shared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiling_shared_total",
			Help:      "Number of tiling requests answered by an identical in-flight request.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tiling_duration_seconds",
			Help:      "Time spent tiling a request body.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
}
