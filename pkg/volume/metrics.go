// pkg/volume/metrics.go

package volume

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	opDurations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clusterfs_volume_op_duration_seconds",
		Help:    "Latency of volume operations.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"op"})
	flushedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterfs_volume_flushed_records_total",
		Help: "Dirty records written to the meta engine.",
	})
)

// InitMetrics registers the volume collectors.
func InitMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{opDurations, flushedRecords} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.Warnf("register metric: %s", err)
			}
		}
	}
}
