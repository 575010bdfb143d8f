package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records report cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records report cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached report.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached report was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the report cache entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for evaluation activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec

	ruleExecutions *prometheus.CounterVec
	ruleDuration   *prometheus.HistogramVec

	anomalies *prometheus.CounterVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackwatch",
		Name:      "evaluations_total",
		Help:      "Snapshot evaluations completed by the engine.",
	}, []string{"outcome", "from_cache"})

	evaluationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rackwatch",
		Name:      "evaluation_duration_seconds",
		Help:      "Latency distribution for completed snapshot evaluations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	ruleExecutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackwatch",
		Subsystem: "rule",
		Name:      "executions_total",
		Help:      "Per-rule evaluator executions by result.",
	}, []string{"rule_type", "result"})

	ruleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rackwatch",
		Subsystem: "rule",
		Name:      "duration_seconds",
		Help:      "Latency distribution for individual rule evaluators.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"rule_type"})

	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackwatch",
		Name:      "anomalies_total",
		Help:      "Anomalies emitted by rule type and severity.",
	}, []string{"rule_type", "severity"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackwatch",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Report cache operations executed by the engine.",
	}, []string{"cache", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rackwatch",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for report cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"cache", "operation", "result"})

	reg.MustRegister(evaluations, evaluationDuration, ruleExecutions, ruleDuration, anomalies, cacheOperations, cacheLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:           reg,
		handler:            handler,
		evaluations:        evaluations,
		evaluationDuration: evaluationDuration,
		ruleExecutions:     ruleExecutions,
		ruleDuration:       ruleDuration,
		anomalies:          anomalies,
		cacheOperations:    cacheOperations,
		cacheLatency:       cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveEvaluation records the outcome and latency of one completed snapshot
// evaluation.
func (r *Recorder) ObserveEvaluation(outcome string, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcomeLabel := normalizeLabel(outcome)
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.evaluations.WithLabelValues(outcomeLabel, cacheLabel).Inc()
	r.evaluationDuration.WithLabelValues(outcomeLabel).Observe(duration.Seconds())
}

// ObserveRule records one rule evaluator run.
func (r *Recorder) ObserveRule(ruleType, result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.ruleExecutions.WithLabelValues(normalizeLabel(ruleType), normalizeLabel(result)).Inc()
	r.ruleDuration.WithLabelValues(normalizeLabel(ruleType)).Observe(duration.Seconds())
}

// ObserveAnomalies bumps the anomaly counter for one rule type and severity.
func (r *Recorder) ObserveAnomalies(ruleType, severity string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.anomalies.WithLabelValues(normalizeLabel(ruleType), normalizeLabel(severity)).Add(float64(count))
}

// ObserveCacheLookup records the result of a report cache lookup.
func (r *Recorder) ObserveCacheLookup(cache string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(cache), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a report cache store attempt.
func (r *Recorder) ObserveCacheStore(cache string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(cache), CacheOperationStore, resultLabel, duration)
}

func (r *Recorder) observeCache(cache string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(cache, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(cache, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
