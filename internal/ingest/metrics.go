package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindexer_ingest_messages_total",
		Help: "The total number of status messages received, by source and result",
	}, []string{"source", "result"})
)

func init() {
	prometheus.MustRegister(MessagesTotal)
}
