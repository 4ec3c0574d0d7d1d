// Package metrics holds the Prometheus collectors exported by the studio.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OperationAnalyze  = "analyze"
	OperationEstimate = "estimate"

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	VideosProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_videos_processed_total",
			Help: "Videos processed, by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	FramesAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_frames_analyzed_total",
			Help: "Frames sent to an inference engine, by outcome",
		},
		[]string{"status"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_batch_duration_seconds",
			Help:    "Wall-clock duration of analysis and estimation batches",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)

	VideosInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_videos_in_flight",
			Help: "Videos currently being processed",
		},
	)

	FramesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_frames_in_flight",
			Help: "Frames currently awaiting an inference response",
		},
	)

	EstimatedTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_estimated_tokens_total",
			Help: "Tokens projected by estimation batches, by model",
		},
		[]string{"model"},
	)
)
