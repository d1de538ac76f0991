package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "generation",
			Name:      "generations_total",
			Help:      "Total number of generation requests by outcome",
		},
		[]string{"outcome"},
	)

	generationTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Total number of tokens generated",
		},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Duration of generation requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, generationTokensTotal, generationDuration)
}
