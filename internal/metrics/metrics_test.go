package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("kittd-test", "0.0.0-test", reg)
	require.NotNil(t, m)
	return m
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordHTTPRequest("GET", "/health", "200", 15*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/health", "200")))
}

func TestRecordQuickTestAndCampaignCell(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordQuickTest("vllm", "completed", 90*time.Second)
	m.RecordCampaignCell("failed")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.QuickTestsTotal.WithLabelValues("vllm", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CampaignCellsTotal.WithLabelValues("failed")))
}

func TestAgentsOnlineGauge(t *testing.T) {
	m := newTestMetrics(t)
	m.SetAgentsOnline(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.AgentsOnline))
}
