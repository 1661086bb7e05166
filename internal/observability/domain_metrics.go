package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generateRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlmentor_generate_requests_total",
			Help: "Total number of SQL generation requests.",
		},
	)
	generateFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlmentor_generate_failures_total",
			Help: "Total number of failed SQL generation requests.",
		},
	)
	generateLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlmentor_generate_latency_ms",
			Help:    "SQL generation latency in milliseconds, including retrieval and drafting.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	retrievalCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlmentor_retrieval_examples",
			Help:    "Number of examples selected as generation context per request.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 10},
		},
	)
	executedStatementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlmentor_executed_statements_total",
			Help: "Total number of SQL statements executed through the gateway.",
		},
	)
	serializationDegradationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlmentor_result_serialization_degradations_total",
			Help: "Total number of cached result sets that failed to decode and were substituted with empty results.",
		},
	)
	archivedTurnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlmentor_archived_turns_total",
			Help: "Total number of chat turns exported to history archives.",
		},
	)
	archiveUploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlmentor_archive_upload_bytes_total",
			Help: "Total bytes of archive objects uploaded to the object store.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		generateRequestsTotal,
		generateFailuresTotal,
		generateLatencyMs,
		retrievalCandidates,
		executedStatementsTotal,
		serializationDegradationsTotal,
		archivedTurnsTotal,
		archiveUploadBytesTotal,
	)
}

func ObserveGeneration(elapsed time.Duration, failed bool) {
	generateRequestsTotal.Inc()
	if failed {
		generateFailuresTotal.Inc()
	}
	generateLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveRetrieval(selected int) {
	retrievalCandidates.Observe(float64(selected))
}

func IncrementExecutedStatements() {
	executedStatementsTotal.Inc()
}

func IncrementSerializationDegradation() {
	serializationDegradationsTotal.Inc()
}

func ObserveArchivedTurns(count int64) {
	if count > 0 {
		archivedTurnsTotal.Add(float64(count))
	}
}

func ObserveArchiveUpload(sizeBytes int64) {
	if sizeBytes > 0 {
		archiveUploadBytesTotal.Add(float64(sizeBytes))
	}
}
