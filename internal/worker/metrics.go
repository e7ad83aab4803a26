package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindexer_worker_events_total",
		Help: "The total number of events handled by workers, by final state",
	}, []string{"state"})

	HandleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "searchindexer_worker_handle_duration_seconds",
		Help: "The time spent applying one event to the index",
	})
)

func init() {
	prometheus.MustRegister(EventsHandled)
	prometheus.MustRegister(HandleDuration)
}
