package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_agent_chat_turns_total",
			Help: "Total chat turns processed, by classified intent",
		},
		[]string{"intent"},
	)

	ChatTurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoice_agent_chat_turn_duration_seconds",
			Help:    "Chat turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	ModelInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_agent_model_invocations_total",
			Help: "Total model invocations, by model and outcome",
		},
		[]string{"model", "status"},
	)

	ModelFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_agent_model_fallbacks_total",
			Help: "Total times a failed model was replaced by another in the pool",
		},
	)

	PoolExhaustions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_agent_pool_exhaustions_total",
			Help: "Total invocations where every model in the pool failed",
		},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_agent_retrieved_chunks",
			Help:    "Number of chunks retrieved per document query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_agent_documents_ingested_total",
			Help: "Total documents uploaded and indexed",
		},
	)

	ValidationsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_agent_validations_total",
			Help: "Total validations run, by outcome",
		},
		[]string{"result"},
	)

	ExportsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_agent_exports_total",
			Help: "Total export files generated, by format",
		},
		[]string{"format"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(ChatTurns)
	prometheus.MustRegister(ChatTurnDuration)
	prometheus.MustRegister(ModelInvocations)
	prometheus.MustRegister(ModelFallbacks)
	prometheus.MustRegister(PoolExhaustions)
	prometheus.MustRegister(RetrievedChunks)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(ValidationsRun)
	prometheus.MustRegister(ExportsGenerated)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
