package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstox_requests_total",
		Help: "Upstox API responses by method and status class",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstox_request_duration_seconds",
		Help:    "Latency of single Upstox API attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstox_retries_total",
		Help: "Retried Upstox API attempts by reason",
	}, []string{"reason"})

	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstox_orders_total",
		Help: "Order placements by outcome",
	}, []string{"outcome"})

	streamMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstox_order_stream_messages_total",
		Help: "Order updates received from the portfolio stream",
	})
)

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code == 429:
		return "429"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200 && code < 300:
		return "2xx"
	}
	return "other"
}
