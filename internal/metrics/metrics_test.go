package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementRecognition("exact")
	m.IncrementRecognition("exact")
	m.AddHarmonizedRows("record", 3)
	m.AddHarmonizedRows("skipped", 0)
	m.IncrementHarmonizationWarning("")
	m.ObserveQuery(nil, time.Millisecond)
	m.ObserveQuery(errors.New("bad"), time.Millisecond)
	m.ObserveValidation("VALID", 10*time.Millisecond)
	m.SetIndexConcepts(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Recognitions.WithLabelValues("exact")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HarmonizedRows.WithLabelValues("record")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HarmonizationWarnings.WithLabelValues("row")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationOutcomes.WithLabelValues("VALID")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.IndexConcepts))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementRecognition("exact")
		m.AddHarmonizedRows("record", 1)
		m.IncrementHarmonizationWarning("gene_symbol")
		m.ObserveQuery(nil, time.Second)
		m.ObserveValidation("VALID", time.Second)
		m.SetIndexConcepts(1)
	})
}
