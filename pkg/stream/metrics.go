// pkg/stream/metrics.go

package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

var unitWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "clusterfs_stream_unit_writes_total",
	Help: "Compression units written, by outcome.",
}, []string{"outcome"})

func InitMetrics(reg prometheus.Registerer) {
	if err := reg.Register(unitWrites); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			logger.Warnf("register metric: %s", err)
		}
	}
}
