package inbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	insertsApplied      prometheus.Counter
	duplicateInserts    prometheus.Counter
	fetchFailures       prometheus.Counter
	feedsLost           prometheus.Counter
	readMutationsFailed *prometheus.CounterVec
	activeStores        prometheus.Gauge
	presentations       *prometheus.CounterVec
}

var (
	metricsInstance *metrics
	metricsOnce     sync.Once
	defaultRegistry = prometheus.DefaultRegisterer
)

func getMetrics() *metrics {
	metricsOnce.Do(func() {
		metricsInstance = &metrics{
			insertsApplied: promauto.With(defaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "inbox_inserts_applied_total",
				Help: "Realtime notifications added to an inbox",
			}),
			duplicateInserts: promauto.With(defaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "inbox_duplicate_inserts_total",
				Help: "Realtime notifications dropped because the id was already present",
			}),
			fetchFailures: promauto.With(defaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "inbox_fetch_failures_total",
				Help: "Failed notification fetches",
			}),
			feedsLost: promauto.With(defaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "inbox_feeds_lost_total",
				Help: "Insert subscriptions ended by the transport",
			}),
			readMutationsFailed: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "inbox_read_mutations_failed_total",
				Help: "Read-state updates the persistence backend rejected",
			}, []string{"scope"}),
			activeStores: promauto.With(defaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "inbox_active_stores",
				Help: "Inbox stores currently running",
			}),
			presentations: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "inbox_push_presentations_total",
				Help: "Delivery gate decisions by outcome",
			}, []string{"outcome"}),
		}
	})
	return metricsInstance
}

// resetMetricsForTesting swaps in a fresh registry.
func resetMetricsForTesting() {
	defaultRegistry = prometheus.NewRegistry()
	metricsInstance = nil
	metricsOnce = sync.Once{}
}
