package main

import (
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	manifestsAcceptedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suitd_manifests_accepted_total",
		Help: "Number of SUIT envelopes that were unwrapped, parsed, and passed the anti-rollback check.",
	})
	manifestsRejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suitd_manifests_rejected_total",
		Help: "Number of SUIT envelopes rejected, by reason.",
	}, []string{"reason"})
	manifestProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "suitd_manifest_processing_seconds",
		Help: "Time to unwrap, verify, and evaluate a submitted SUIT envelope.",
	})
)

// initPromMetrics registers the service's collectors with reg and wires
// the /metrics endpoint into router.
func initPromMetrics(router *chi.Mux, reg *prometheus.Registry) {
	reg.MustRegister(manifestsAcceptedCounter, manifestsRejectedCounter, manifestProcessingDuration)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
