// Package metrics exposes Prometheus instrumentation for recognition,
// harmonization, queries and external validation. All methods are safe on a
// nil *Metrics so components can run uninstrumented.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the phenovariant collectors
type Metrics struct {
	// Matches emitted by the recognizer, by match class
	Recognitions *prometheus.CounterVec

	// Harmonized rows by outcome: "record", "merged" or "skipped"
	HarmonizedRows *prometheus.CounterVec

	// Harmonization warnings by canonical field
	HarmonizationWarnings *prometheus.CounterVec

	// Query evaluations by result: "ok" or "invalid"
	Queries *prometheus.CounterVec
	// Query evaluation latency
	QueryLatency prometheus.Histogram

	// Validation outcomes by state
	ValidationOutcomes *prometheus.CounterVec
	// Validator round-trip latency
	ValidationLatency prometheus.Histogram

	// Size of the active ontology index
	IndexConcepts prometheus.Gauge
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recognitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phenovariant_recognitions_total",
			Help: "Concepts recognized in free text by match class",
		}, []string{"class"}),

		HarmonizedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phenovariant_harmonized_rows_total",
			Help: "Source rows processed by the harmonizer by outcome",
		}, []string{"outcome"}),

		HarmonizationWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phenovariant_harmonization_warnings_total",
			Help: "Row-level harmonization warnings by field",
		}, []string{"field"}),

		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phenovariant_queries_total",
			Help: "Filter expressions evaluated by result",
		}, []string{"result"}),

		QueryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phenovariant_query_duration_seconds",
			Help:    "Duration of filter evaluation over the active record set",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),

		ValidationOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phenovariant_validation_outcomes_total",
			Help: "Descriptor validation outcomes by state",
		}, []string{"state"}),

		ValidationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phenovariant_validation_duration_seconds",
			Help:    "Duration of calls to the nomenclature validator",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		IndexConcepts: f.NewGauge(prometheus.GaugeOpts{
			Name: "phenovariant_index_concepts",
			Help: "Number of concepts in the active ontology index",
		}),
	}
}

// IncrementRecognition records one recognized concept.
func (m *Metrics) IncrementRecognition(class string) {
	if m != nil {
		m.Recognitions.WithLabelValues(class).Inc()
	}
}

// AddHarmonizedRows records harmonizer row outcomes.
func (m *Metrics) AddHarmonizedRows(outcome string, n int) {
	if m != nil && n > 0 {
		m.HarmonizedRows.WithLabelValues(outcome).Add(float64(n))
	}
}

// IncrementHarmonizationWarning records one row-level warning.
func (m *Metrics) IncrementHarmonizationWarning(field string) {
	if m != nil {
		if field == "" {
			field = "row"
		}
		m.HarmonizationWarnings.WithLabelValues(field).Inc()
	}
}

// ObserveQuery records a filter evaluation.
func (m *Metrics) ObserveQuery(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "invalid"
	}
	m.Queries.WithLabelValues(result).Inc()
	m.QueryLatency.Observe(d.Seconds())
}

// ObserveValidation records a validator call and its outcome state.
func (m *Metrics) ObserveValidation(state string, d time.Duration) {
	if m != nil {
		m.ValidationOutcomes.WithLabelValues(state).Inc()
		m.ValidationLatency.Observe(d.Seconds())
	}
}

// SetIndexConcepts records the size of a newly published index.
func (m *Metrics) SetIndexConcepts(n int) {
	if m != nil {
		m.IndexConcepts.Set(float64(n))
	}
}
