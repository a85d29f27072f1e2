package update

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updateAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updater",
		Name:      "update_attempts_total",
		Help:      "Update attempts by final outcome.",
	}, []string{"outcome"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "updater",
		Name:      "update_step_duration_seconds",
		Help:      "Duration of each update pipeline step.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"step", "outcome"})

	rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updater",
		Name:      "rollbacks_total",
		Help:      "Rollback attempts by outcome.",
	}, []string{"outcome"})

	releaseCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "updater",
		Name:      "release_cache_hits_total",
		Help:      "Release lookups answered from cache.",
	})
)

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
