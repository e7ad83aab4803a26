package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindexer_http_requests_total",
		Help: "The total number of HTTP requests, by method and status",
	}, []string{"method", "status"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "searchindexer_http_request_duration_seconds",
		Help: "The time spent serving HTTP requests",
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
}
