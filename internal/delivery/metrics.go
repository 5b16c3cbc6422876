package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_outcomes_total",
		Help: "Envelope outcomes handled by the delivery worker",
	}, []string{"outcome"})
	sendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delivery_send_duration_seconds",
		Help:    "Provider send latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel", "result"})
	tickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_tick_errors_total",
		Help: "Ticks abandoned because of queue or store errors",
	}, []string{"loop"})
	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delivery_tick_duration_seconds",
		Help:    "Duration of scheduler ticks",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})
	reconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_reconciled_total",
		Help: "Stranded messages re-enqueued by the reconciler",
	})
)
