package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRequest("blocked")
	m.RecordRequest("blocked")
	m.RecordRequest("answered")
	m.RecordBlock("injection", "pattern")
	m.RecordRoute("SEARCH")
	m.RecordUpstreamFailure("firewall")
	m.RecordRedactions("email", 2)
	m.RecordRedactions("email", 0)
	m.ObserveStage("firewall", 15*time.Millisecond)
	m.ObserveRetrieval(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlocksTotal.WithLabelValues("injection", "pattern")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutesTotal.WithLabelValues("SEARCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamFailuresTotal.WithLabelValues("firewall")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RedactionsTotal.WithLabelValues("email")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDurationSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RetrievedChunks))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("answered")
		m.RecordBlock("firewall", "keyword:weapons")
		m.RecordRoute("CHAT")
		m.RecordUpstreamFailure("rewrite")
		m.ObserveStage("retrieve", time.Second)
		m.ObserveRetrieval(0)
		m.RecordRedactions("email", 1)
	})
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
