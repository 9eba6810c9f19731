// Package metrics exposes the verification engine's prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "carbonverify"

var (
	// VerificationAttempts counts verification requests by outcome.
	VerificationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "verification_attempt_total",
			Help:      "Number of project verification attempts by result",
		},
		[]string{"result"}, // "verified", "rejected", "error"
	)

	// VerificationDuration measures end-to-end verification latency.
	VerificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "verification_duration_seconds",
			Help:      "End-to-end latency of project verifications",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// InferenceDuration measures model inference latency per model.
	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "inference_duration_seconds",
			Help:      "Latency of model inference calls",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"model"}, // "carbon_predictor", "vegetation_classifier"
	)

	// ImagesAnalyzed counts satellite images classified.
	ImagesAnalyzed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "images_analyzed_total",
			Help:      "Number of satellite images classified",
		},
	)

	// CO2EstimatedTonnes observes the distribution of annual CO2 estimates.
	CO2EstimatedTonnes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "co2_estimate_tonnes",
			Help:      "Distribution of annual CO2 capture estimates",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// StoreOperations counts persistence operations by kind and outcome.
	StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "store_operation_total",
			Help:      "Number of store operations by operation and result",
		},
		[]string{"operation", "result"}, // result: "success", "error"
	)
)

func init() {
	prometheus.MustRegister(
		VerificationAttempts,
		VerificationDuration,
		InferenceDuration,
		ImagesAnalyzed,
		CO2EstimatedTonnes,
		StoreOperations,
	)
}
