// Package metrics exposes Prometheus instruments for coherence calculations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the instruments. A nil *Recorder is a valid no-op.
type Recorder struct {
	calculations  prometheus.Counter
	calcDuration  prometheus.Histogram
	globalScore   prometheus.Histogram
	gaming        prometheus.Counter
	recalculation *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	gatherer      prometheus.Gatherer
}

// New registers the instruments with reg. A nil reg uses a fresh private
// registry, which keeps repeated construction in tests safe.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Recorder{
		calculations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coherence_calculations_total",
			Help: "Total coherence calculations computed (cache hits excluded).",
		}),
		calcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coherence_calculation_duration_seconds",
			Help:    "Histogram of coherence calculation durations.",
			Buckets: prometheus.DefBuckets,
		}),
		globalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coherence_global_score",
			Help:    "Distribution of computed global coherence scores.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		gaming: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coherence_gaming_detected_total",
			Help: "Total calculations in which gaming was detected.",
		}),
		recalculation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coherence_recalculations_total",
			Help: "Total recalculation requests by whether recalculation was triggered.",
		}, []string{"triggered"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coherence_cache_hits_total",
			Help: "Total result cache hits observed.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coherence_cache_misses_total",
			Help: "Total result cache misses observed.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.calculations,
		m.calcDuration,
		m.globalScore,
		m.gaming,
		m.recalculation,
		m.cacheHits,
		m.cacheMisses,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Recorder) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Recorder) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// Calculation records one computed calculation.
func (m *Recorder) Calculation(score int, d time.Duration) {
	if m == nil {
		return
	}
	m.calculations.Inc()
	m.calcDuration.Observe(d.Seconds())
	m.globalScore.Observe(float64(score))
}

func (m *Recorder) GamingDetected() {
	if m == nil {
		return
	}
	m.gaming.Inc()
}

// Recalculation records one recalculation request.
func (m *Recorder) Recalculation(triggered bool) {
	if m == nil {
		return
	}
	m.recalculation.WithLabelValues(strconv.FormatBool(triggered)).Inc()
}
