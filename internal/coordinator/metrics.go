package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Queue
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "searchindexer_queue_size",
		Help: "The number of events held in the in-memory queue",
	})

	// Cycles
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchindexer_cycles_total",
		Help: "The total number of coordinator cycles, counting immediate repeats",
	})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "searchindexer_cycle_duration_seconds",
		Help: "The duration of a scheduled coordinator run",
	})

	// Events
	EventsLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchindexer_events_loaded_total",
		Help: "The total number of UNPROC events loaded into the queue",
	})

	EventsReady = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchindexer_events_ready_total",
		Help: "The total number of events moved from UNPROC to READY",
	})

	EventsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindexer_events_completed_total",
		Help: "The total number of events removed from the queue after processing",
	}, []string{"state"})

	EventsAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchindexer_events_abandoned_total",
		Help: "The total number of queued events missing from the event store",
	})

	// Errors
	Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchindexer_retries_total",
		Help: "The total number of retried event store calls",
	})

	Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindexer_errors_total",
		Help: "The total number of coordinator errors",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(QueueSize)
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(EventsLoaded)
	prometheus.MustRegister(EventsReady)
	prometheus.MustRegister(EventsCompleted)
	prometheus.MustRegister(EventsAbandoned)
	prometheus.MustRegister(Retries)
	prometheus.MustRegister(Errors)
}
