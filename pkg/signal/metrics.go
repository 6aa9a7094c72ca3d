package signal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "signal",
		Name:      "published_total",
		Help:      "Signaling events published to the relay.",
	}, []string{"type"})
	metricReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "signal",
		Name:      "received_total",
		Help:      "Signaling events received from the relay.",
	}, []string{"type"})
	metricDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "signal",
		Name:      "duplicates_total",
		Help:      "Redelivered events absorbed by the dedup window.",
	})
	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "signal",
		Name:      "dropped_total",
		Help:      "Events dropped as malformed or of unknown type.",
	})
)
