// pkg/bitmap/metrics.go

package bitmap

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	allocatedClusters = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterfs_bitmap_allocated_clusters_total",
		Help: "Clusters handed out by the allocator.",
	})
	freedClusters = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterfs_bitmap_freed_clusters_total",
		Help: "Clusters returned to the allocator.",
	})
	allocationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterfs_bitmap_allocation_failures_total",
		Help: "Allocations rolled back for lack of space or I/O errors.",
	})
	fragmentedMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clusterfs_bitmap_fragmented_mode",
		Help: "1 while the last used allocator skips contiguous searches.",
	})
)

// InitMetrics registers the allocator collectors; calling it twice is harmless.
func InitMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{allocatedClusters, freedClusters, allocationFailures, fragmentedMode} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.Warnf("register metric: %s", err)
			}
		}
	}
}
