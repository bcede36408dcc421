package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace            = "edgerender"
	promCacheSubsystem       = "cache"
	promStoreSubsystem       = "store"
	promRevalidationSubsytem = "revalidation"
	promPipelineSubsystem    = "pipeline"
	promServeSubsystem       = "serve"
	promCustomSubsystem      = "custom"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	// Metrics.
	cacheStatusM     *prometheus.CounterVec
	storeFailuresM   *prometheus.CounterVec
	revalidationM    *prometheus.CounterVec
	phaseM           *prometheus.HistogramVec
	serveM           *prometheus.HistogramVec
	customHistogramM *prometheus.HistogramVec
	customCounterM   *prometheus.CounterVec
	customGaugeM     *prometheus.GaugeVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	cacheStatus := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promCacheSubsystem,
		Name:      "lookups_total",
		Help:      "Total number of cache lookups by classification.",
	}, []string{"status"})

	storeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promStoreSubsystem,
		Name:      "failures_total",
		Help:      "Total number of failed or rejected calls to an external store.",
	}, []string{"store"})

	revalidation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promRevalidationSubsytem,
		Name:      "jobs_total",
		Help:      "Total number of revalidation jobs by outcome.",
	}, []string{"result"})

	phase := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promPipelineSubsystem,
		Name:      "phase_duration_seconds",
		Help:      "Duration in seconds of a pipeline phase.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"phase"})

	serve := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promServeSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of serving a request.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"method", "code"})

	customHistogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of custom metrics.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"key"})

	customCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "total",
		Help:      "Total number of custom metrics.",
	}, []string{"key"})

	customGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "gauges",
		Help:      "Gauges number of custom metrics.",
	}, []string{"key"})

	p := &Prometheus{
		cacheStatusM:     cacheStatus,
		storeFailuresM:   storeFailures,
		revalidationM:    revalidation,
		phaseM:           phase,
		serveM:           serve,
		customHistogramM: customHistogram,
		customCounterM:   customCounter,
		customGaugeM:     customGauge,

		opts:     opts,
		registry: prometheus.NewRegistry(),
	}

	p.registerMetrics()
	return p
}

func (p *Prometheus) sinceS(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Second)
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.cacheStatusM)
	p.registry.MustRegister(p.storeFailuresM)
	p.registry.MustRegister(p.revalidationM)
	p.registry.MustRegister(p.phaseM)
	p.registry.MustRegister(p.serveM)
	p.registry.MustRegister(p.customCounterM)
	p.registry.MustRegister(p.customHistogramM)
	p.registry.MustRegister(p.customGaugeM)

	// Register prometheus runtime collectors if required.
	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

// CreateHandler satisfies Metrics interface.
func (p *Prometheus) CreateHandler() http.Handler {
	if p.handler == nil {
		p.handler = promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	}

	return p.handler
}

// MeasureSince satisfies Metrics interface.
func (p *Prometheus) MeasureSince(key string, start time.Time) {
	p.customHistogramM.WithLabelValues(key).Observe(p.sinceS(start))
}

// IncCounter satisfies Metrics interface.
func (p *Prometheus) IncCounter(key string) {
	p.customCounterM.WithLabelValues(key).Inc()
}

// IncCounterBy satisfies Metrics interface.
func (p *Prometheus) IncCounterBy(key string, value int64) {
	p.customCounterM.WithLabelValues(key).Add(float64(value))
}

// UpdateGauge satisfies Metrics interface.
func (p *Prometheus) UpdateGauge(key string, v float64) {
	p.customGaugeM.WithLabelValues(key).Set(v)
}

// IncCacheStatus satisfies Metrics interface.
func (p *Prometheus) IncCacheStatus(status string) {
	p.cacheStatusM.WithLabelValues(status).Inc()
}

// IncStoreFailure satisfies Metrics interface.
func (p *Prometheus) IncStoreFailure(store string) {
	p.storeFailuresM.WithLabelValues(store).Inc()
}

// IncRevalidation satisfies Metrics interface.
func (p *Prometheus) IncRevalidation(result string) {
	p.revalidationM.WithLabelValues(result).Inc()
}

// MeasurePhase satisfies Metrics interface.
func (p *Prometheus) MeasurePhase(phase string, start time.Time) {
	p.phaseM.WithLabelValues(phase).Observe(p.sinceS(start))
}

// MeasureServe satisfies Metrics interface.
func (p *Prometheus) MeasureServe(method string, code int, start time.Time) {
	p.serveM.WithLabelValues(measuredMethod(method), fmt.Sprint(code)).Observe(p.sinceS(start))
}

func (p *Prometheus) Close() {}
