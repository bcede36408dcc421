package metrics

import (
	"net/http"
	"time"
)

const (
	KeyCacheStatus       = "cache.status.%s"
	KeyStoreFailure      = "store.failure.%s"
	KeyRevalidation      = "revalidation.%s"
	KeyPhase             = "phase.%s"
	KeyServe             = "serve.%s.%d"
	KeyQueueDepth        = "queue.depth"
	KeyUnavailableErrors = "upstream.unavailable"
)

// Metrics is the interface of the metrics backends.
type Metrics interface {
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
	UpdateGauge(key string, value float64)

	// IncCacheStatus counts the classification of a cache lookup.
	IncCacheStatus(status string)

	// IncStoreFailure counts the failed calls to an external store,
	// including the ones rejected by an open circuit breaker.
	IncStoreFailure(store string)

	// IncRevalidation counts the revalidation jobs by outcome:
	// enqueued, deduplicated, done, failed.
	IncRevalidation(result string)

	// MeasurePhase measures the duration of a pipeline phase.
	MeasurePhase(phase string, start time.Time)

	// MeasureServe measures the total request processing time.
	MeasureServe(method string, code int, start time.Time)

	CreateHandler() http.Handler
	Close()
}

// Options for initializing metrics collection.
type Options struct {
	// Common prefix for the keys of the different
	// collected metrics.
	Prefix string

	// If set, Go runtime and process metrics are collected
	// in addition to the traffic metrics.
	EnableRuntimeMetrics bool

	// HistogramBuckets defines the buckets of the duration
	// histograms. Defaults to the prometheus defaults.
	HistogramBuckets []float64
}

// Default is the metrics backend used by the packages when none is
// injected. It discards everything until replaced at startup.
var Default Metrics = Void

// Void discards all metrics.
var Void Metrics = void{}

type void struct{}

func (void) MeasureSince(string, time.Time)      {}
func (void) IncCounter(string)                   {}
func (void) IncCounterBy(string, int64)          {}
func (void) UpdateGauge(string, float64)         {}
func (void) IncCacheStatus(string)               {}
func (void) IncStoreFailure(string)              {}
func (void) IncRevalidation(string)              {}
func (void) MeasurePhase(string, time.Time)      {}
func (void) MeasureServe(string, int, time.Time) {}
func (void) CreateHandler() http.Handler         { return http.NotFoundHandler() }
func (void) Close()                              {}

func measuredMethod(m string) string {
	switch m {
	case "OPTIONS",
		"GET",
		"HEAD",
		"POST",
		"PUT",
		"PATCH",
		"DELETE",
		"TRACE",
		"CONNECT":
		return m
	default:
		return "_unknownmethod_"
	}
}
