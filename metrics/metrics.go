// Package metrics holds the prometheus collectors of the chatbot.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics groups all collectors
type Metrics struct {
	ChatRequests      *prometheus.CounterVec
	ChatDuration      prometheus.Histogram
	SubQuestions      prometheus.Histogram
	RetrievalDuration prometheus.Histogram
	Fallbacks         *prometheus.CounterVec

	LLMCalls    *prometheus.CounterVec
	LLMDuration *prometheus.HistogramVec
	LLMRetries  *prometheus.CounterVec

	EmbeddingCache  *prometheus.CounterVec
	DetailsEmbedded prometheus.Counter
	KnowledgeBase   prometheus.Gauge
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide collectors, registering them on first use
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ChatRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_requests_total",
					Help: "Total number of chat requests",
				},
				[]string{"status"},
			),
			ChatDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_request_duration_seconds",
					Help:    "End-to-end chat answer duration in seconds",
					Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
				},
			),
			SubQuestions: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_sub_questions",
					Help:    "Number of sub-questions per chat request",
					Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
				},
			),
			RetrievalDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "retrieval_duration_seconds",
					Help:    "Similarity retrieval duration in seconds, including query embedding",
					Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
				},
			),
			Fallbacks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_fallbacks_total",
					Help: "Total number of degraded answers by stage",
				},
				[]string{"stage"},
			),
			LLMCalls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_calls_total",
					Help: "Total number of calls to the model provider",
				},
				[]string{"operation", "status"},
			),
			LLMDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "llm_call_duration_seconds",
					Help:    "Model provider call duration in seconds",
					Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
				},
				[]string{"operation"},
			),
			LLMRetries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_retries_total",
					Help: "Total number of retried model provider calls",
				},
				[]string{"operation"},
			),
			EmbeddingCache: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedding_cache_lookups_total",
					Help: "Embedding cache lookups by result",
				},
				[]string{"result"},
			),
			DetailsEmbedded: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ingest_details_embedded_total",
					Help: "Total number of detail lines embedded during ingestion",
				},
			),
			KnowledgeBase: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "knowledge_base_entries",
					Help: "Number of entries in the loaded knowledge base",
				},
			),
		}
	})

	return metricsInstance
}

// RecordChat records a finished chat request
func RecordChat(status string, duration time.Duration, subQuestions int) {
	m := GetMetrics()
	m.ChatRequests.WithLabelValues(status).Inc()
	m.ChatDuration.Observe(duration.Seconds())
	if subQuestions > 0 {
		m.SubQuestions.Observe(float64(subQuestions))
	}
}

// RecordRetrieval records one similarity search
func RecordRetrieval(duration time.Duration) {
	GetMetrics().RetrievalDuration.Observe(duration.Seconds())
}

// RecordFallback counts a degraded stage ("decompose", "retrieve", "synthesize")
func RecordFallback(stage string) {
	GetMetrics().Fallbacks.WithLabelValues(stage).Inc()
}

// RecordLLMCall records one provider call attempt
func RecordLLMCall(operation, status string, duration time.Duration) {
	m := GetMetrics()
	m.LLMCalls.WithLabelValues(operation, status).Inc()
	m.LLMDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLLMRetry counts a retry of a provider call
func RecordLLMRetry(operation string) {
	GetMetrics().LLMRetries.WithLabelValues(operation).Inc()
}

// RecordCacheLookup counts an embedding cache lookup ("hit", "miss", "error")
func RecordCacheLookup(result string) {
	GetMetrics().EmbeddingCache.WithLabelValues(result).Inc()
}

// AddDetailsEmbedded adds to the ingestion detail counter
func AddDetailsEmbedded(n int) {
	GetMetrics().DetailsEmbedded.Add(float64(n))
}

// SetKnowledgeBaseSize sets the loaded knowledge base size
func SetKnowledgeBaseSize(n int) {
	GetMetrics().KnowledgeBase.Set(float64(n))
}
