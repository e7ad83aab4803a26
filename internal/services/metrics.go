package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindexer_notifications_published_total",
		Help: "The total number of ready notifications published, by result",
	}, []string{"result"})

	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchindexer_notification_publish_seconds",
		Help:    "The latency of ready notification publishes",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(NotificationsPublished, PublishLatency)
}

func observePublish(_ string, err error, latency time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	NotificationsPublished.WithLabelValues(result).Inc()
	PublishLatency.Observe(latency.Seconds())
}
