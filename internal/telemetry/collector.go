// Package telemetry exports search and ingestion metrics in the Prometheus
// format. Nothing is pushed anywhere; metrics are only served on the
// address configured for `pgwsearch serve`.
package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/index"
	"github.com/pgweekly/pgwsearch/pkg/searcher"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "pgwsearch"

// Collector records pipeline and ingestion metrics. It implements
// searcher.Observer and is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	stageCandidates *prometheus.HistogramVec
	stageErrors     *prometheus.CounterVec
	queriesTotal    *prometheus.CounterVec
	zeroResults     prometheus.Counter
	partialReranks  prometheus.Counter
	droppedByRerank prometheus.Counter

	indexRuns     *prometheus.CounterVec
	indexDuration prometheus.Histogram
	indexedDocs   prometheus.Gauge
}

var _ searcher.Observer = (*Collector)(nil)

// NewCollector creates a collector on its own registry, which also carries
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		stageCandidates: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "stage_candidates",
			Help:      "Number of candidates produced by a pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "stage_errors_total",
			Help:      "Failed pipeline stages by error category.",
		}, []string{"stage", "category"}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Completed search queries by status.",
		}, []string{"status"}),
		zeroResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "zero_result_queries_total",
			Help:      "Successful queries that returned no candidates.",
		}),
		partialReranks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rerank",
			Name:      "partial_failures_total",
			Help:      "Rerank calls that dropped candidates.",
		}),
		droppedByRerank: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rerank",
			Name:      "dropped_candidates_total",
			Help:      "Candidates dropped because no document text was found.",
		}),
		indexRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "runs_total",
			Help:      "Ingestion runs by status.",
		}, []string{"status"}),
		indexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "run_duration_seconds",
			Help:      "Duration of successful ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		indexedDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "entries",
			Help:      "Entries written by the last successful ingestion run.",
		}),
	}

	reg.MustRegister(
		c.stageDuration, c.stageCandidates, c.stageErrors,
		c.queriesTotal, c.zeroResults,
		c.partialReranks, c.droppedByRerank,
		c.indexRuns, c.indexDuration, c.indexedDocs,
	)
	return c
}

// ObserveStage records one finished pipeline stage. The pipeline stage
// itself also counts the query.
func (c *Collector) ObserveStage(stage string, d time.Duration, n int, err error) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		category := pgerrors.GetCategory(err)
		if category == "" {
			category = pgerrors.CategoryInternal
		}
		c.stageErrors.WithLabelValues(stage, string(category)).Inc()
	} else {
		c.stageCandidates.WithLabelValues(stage).Observe(float64(n))
	}

	if stage != searcher.StagePipeline {
		return
	}
	switch {
	case errors.Is(err, pgerrors.ErrInvalidQuery):
		c.queriesTotal.WithLabelValues("invalid").Inc()
	case err != nil:
		c.queriesTotal.WithLabelValues("error").Inc()
	default:
		c.queriesTotal.WithLabelValues("ok").Inc()
		if n == 0 {
			c.zeroResults.Inc()
		}
	}
}

// ObservePartialRerank records a degraded rerank.
func (c *Collector) ObservePartialRerank(missing int) {
	c.partialReranks.Inc()
	c.droppedByRerank.Add(float64(missing))
}

// ObserveIndexRun records the outcome of an ingestion run. Its signature
// matches index.WatchOptions.OnRun.
func (c *Collector) ObserveIndexRun(result *index.RunnerResult, err error) {
	if err != nil {
		c.indexRuns.WithLabelValues("error").Inc()
		return
	}
	c.indexRuns.WithLabelValues("ok").Inc()
	if result != nil {
		c.indexDuration.Observe(result.Duration.Seconds())
		c.indexedDocs.Set(float64(result.Entries))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
