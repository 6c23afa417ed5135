package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_llm_requests_total",
			Help: "Language-model analysis requests by outcome",
		},
		[]string{"status"},
	)

	llmRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_llm_request_duration_seconds",
		Help:    "Duration of language-model analysis requests",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})

	llmTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_llm_tokens_total",
		Help: "Tokens consumed by language-model requests",
	})

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_document_extractions_total",
			Help: "Document text extractions by outcome",
		},
		[]string{"status"},
	)

	cellEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_cell_evaluations_total",
			Help: "Grid cell evaluations by resulting status",
		},
		[]string{"status"},
	)

	contentCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_content_cache_hits_total",
		Help: "Extracted-text cache hits",
	})

	contentCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_content_cache_misses_total",
		Help: "Extracted-text cache misses",
	})
)
