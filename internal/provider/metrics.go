package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "provider_fallback_sends_total",
	Help: "Send attempts made through the fallback chain, by provider and outcome",
}, []string{"provider", "outcome"})
