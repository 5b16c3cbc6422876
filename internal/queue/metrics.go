package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_enqueued_total",
		Help: "Total message references enqueued",
	}, []string{"backend"})
	receivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_received_total",
		Help: "Total envelopes handed to receivers",
	}, []string{"backend"})
	ackedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_acked_total",
		Help: "Total envelopes acknowledged",
	}, []string{"backend"})
	malformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_malformed_total",
		Help: "Total undecodable queue bodies dropped",
	}, []string{"backend"})
)
