// Package metrics exposes composer, radio and HTTP activity as Prometheus
// metrics.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satindergrewal/phrasegen/internal/composer"
	"github.com/satindergrewal/phrasegen/internal/evolve"
)

// Metrics contains all Prometheus metrics for the composer and radio.
type Metrics struct {
	// Composition metrics
	Compositions        prometheus.Counter
	CompositionLength   prometheus.Histogram
	Fragments           *prometheus.CounterVec
	Generations         prometheus.Counter
	EvolutionSteps      *prometheus.CounterVec
	Grade               prometheus.Gauge
	CompositionFailures prometheus.Counter

	// Radio metrics
	QueueSize prometheus.Gauge
	Listeners *prometheus.GaugeVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Compositions: f.NewCounter(prometheus.CounterOpts{
			Name: "phrasegen_compositions_total",
			Help: "Total number of compositions completed",
		}),
		CompositionLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phrasegen_composition_length_seconds",
			Help:    "Playing time of completed compositions",
			Buckets: prometheus.ExponentialBuckets(15, 2, 8), // 15s to ~32 minutes
		}),
		Fragments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phrasegen_fragments_total",
			Help: "Total number of fragments appended to timelines",
		}, []string{"phase"}),
		Generations: f.NewCounter(prometheus.CounterOpts{
			Name: "phrasegen_generations_total",
			Help: "Total number of population generations made audible",
		}),
		EvolutionSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phrasegen_evolution_steps_total",
			Help: "Total number of evolution steps by selection outcome",
		}, []string{"selection", "mutated"}),
		Grade: f.NewGauge(prometheus.GaugeOpts{
			Name: "phrasegen_population_grade",
			Help: "Grade of the most recent population generation",
		}),
		CompositionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "phrasegen_composition_failures_total",
			Help: "Total number of compositions that failed",
		}),

		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "phrasegen_queue_size",
			Help: "Compositions waiting in the playback queue",
		}),
		Listeners: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phrasegen_listeners",
			Help: "Current number of connected listeners",
		}, []string{"transport"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phrasegen_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phrasegen_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// OnFragment counts a fragment under its phase.
func (m *Metrics) OnFragment(f composer.Fragment) {
	m.Fragments.WithLabelValues(f.Phase.String()).Inc()
}

// OnGeneration records the grade and, after the initial population, the
// selection outcome.
func (m *Metrics) OnGeneration(g evolve.Generation) {
	m.Generations.Inc()
	m.Grade.Set(g.Grade)
	if g.Step == nil || g.Step.Survivor < 0 {
		return
	}
	selection := "least_fit"
	if g.Step.Fittest {
		selection = "fittest"
	}
	m.EvolutionSteps.WithLabelValues(selection, strconv.FormatBool(g.Step.Mutated)).Inc()
}

// OnComplete counts a finished composition.
func (m *Metrics) OnComplete(t *composer.Timeline) {
	m.Compositions.Inc()
	m.CompositionLength.Observe(t.Duration().Seconds())
}

// RecordCompositionFailure increments the failure counter.
func (m *Metrics) RecordCompositionFailure() {
	m.CompositionFailures.Inc()
}

// SetQueueSize sets the current queue size.
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetListeners sets the listener count for one transport.
func (m *Metrics) SetListeners(transport string, count int) {
	m.Listeners.WithLabelValues(transport).Set(float64(count))
}

// Wrap records request count and latency for handler under endpoint.
func (m *Metrics) Wrap(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)
		m.HTTPRequests.WithLabelValues(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through to the underlying writer.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
