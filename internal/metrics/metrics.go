package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analysis metrics
	AnalysesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_analyses_total",
			Help: "Total number of wallet analyses run",
		},
		[]string{"kind", "status"}, // humanity/cluster/sybil, success/error/empty
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletsignal_analysis_duration_seconds",
			Help:    "Duration of wallet analyses",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	// Scores are on the 0-100 scale for every analysis kind
	Scores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletsignal_scores",
			Help:    "Distribution of analysis scores",
			Buckets: []float64{0, 10, 20, 25, 30, 40, 50, 60, 70, 75, 80, 90, 100},
		},
		[]string{"kind"},
	)

	SybilPatterns = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsignal_sybil_patterns",
			Help:    "Number of Sybil patterns found per analysis",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	SybilWindowFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsignal_sybil_window_failures_total",
			Help: "Total number of Sybil window lookups skipped after an error",
		},
	)

	ClusterDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsignal_cluster_degradations_total",
			Help: "Total number of cluster size computations that fell back to zero",
		},
	)

	// Alert metrics
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_alerts_triggered_total",
			Help: "Total number of alerts triggered",
		},
		[]string{"severity"}, // critical, high, medium, low
	)

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_alerts_sent_total",
			Help: "Total number of alerts sent",
		},
		[]string{"status", "type"}, // success/error, discord/smtp/log
	)

	// Ledger API metrics
	LedgerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_ledger_requests_total",
			Help: "Total number of ledger indexer requests",
		},
		[]string{"action", "status"}, // txlist/tokentx/..., success/error
	)

	LedgerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletsignal_ledger_request_duration_seconds",
			Help:    "Duration of ledger indexer requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)

	LedgerRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_ledger_retries_total",
			Help: "Total number of ledger requests retried after a transient failure",
		},
		[]string{"action"},
	)

	PacingWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsignal_ledger_pacing_wait_seconds",
			Help:    "Time spent waiting on the ledger pacing gate",
			Buckets: []float64{0, .01, .05, .1, .15, .2, .25},
		},
	)

	// Result cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_result_cache_lookups_total",
			Help: "Total number of result cache lookups",
		},
		[]string{"result"}, // hit/miss/error
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"}, // get/insert, success/error
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletsignal_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsignal_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// RecordAnalysis records one finished analysis
func RecordAnalysis(kind string, duration time.Duration, err error) {
	AnalysesProcessed.WithLabelValues(kind, statusOf(err)).Inc()
	AnalysisDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordEmptyAnalysis records an analysis answered with the canned empty result
func RecordEmptyAnalysis(kind string) {
	AnalysesProcessed.WithLabelValues(kind, "empty").Inc()
}

// RecordScore records a final 0-100 score
func RecordScore(kind string, score float64) {
	Scores.WithLabelValues(kind).Observe(score)
}

// RecordSybilPatterns records how many patterns a Sybil scan produced
func RecordSybilPatterns(n int) {
	SybilPatterns.Observe(float64(n))
}

// RecordSybilWindowFailure records a skipped pattern window
func RecordSybilWindowFailure() {
	SybilWindowFailures.Inc()
}

// RecordClusterDegradation records a cluster size fallback
func RecordClusterDegradation() {
	ClusterDegradations.Inc()
}

// RecordAlert records alert metrics
func RecordAlert(severity, sendStatus, alertType string) {
	AlertsTriggered.WithLabelValues(severity).Inc()
	AlertsSent.WithLabelValues(sendStatus, alertType).Inc()
}

// RecordLedgerRequest records one upstream attempt
func RecordLedgerRequest(action string, duration time.Duration, err error) {
	LedgerRequests.WithLabelValues(action, statusOf(err)).Inc()
	LedgerRequestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordLedgerRetry records a retried ledger request
func RecordLedgerRetry(action string) {
	LedgerRetries.WithLabelValues(action).Inc()
}

// RecordPacingWait records time spent on the pacing gate
func RecordPacingWait(d time.Duration) {
	PacingWait.Observe(d.Seconds())
}

// RecordCacheLookup records a result cache hit, miss or error
func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	DatabaseQueries.WithLabelValues(operation, statusOf(err)).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
