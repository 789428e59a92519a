package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func family(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func counterWith(t *testing.T, f *dto.MetricFamily, labels map[string]string) float64 {
	t.Helper()
	for _, metric := range f.GetMetric() {
		got := make(map[string]string)
		for _, lp := range metric.GetLabel() {
			got[lp.GetName()] = lp.GetValue()
		}
		match := true
		for k, v := range labels {
			if got[k] != v {
				match = false
				break
			}
		}
		if match {
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("no series with labels %v", labels)
	return 0
}

func TestRecordSimulation(t *testing.T) {
	m := New("creditrisk")
	m.RecordSimulation("entity", 1000, true, 120*time.Millisecond, nil)
	m.RecordSimulation("portfolio", 500, false, time.Second, nil)
	m.RecordSimulation("entity", 1000, false, time.Millisecond, errors.New("aborted"))

	sims := family(t, m, "creditrisk_simulations_total")
	assert.Equal(t, 1.0, counterWith(t, sims, map[string]string{"kind": "entity", "outcome": "ok", "service": "creditrisk"}))
	assert.Equal(t, 1.0, counterWith(t, sims, map[string]string{"kind": "entity", "outcome": "error"}))

	// 失败的运行不计入路径数
	paths := family(t, m, "creditrisk_simulation_paths_total")
	assert.Equal(t, 1500.0, paths.GetMetric()[0].GetCounter().GetValue())
	repairs := family(t, m, "creditrisk_correlation_repairs_total")
	assert.Equal(t, 1.0, repairs.GetMetric()[0].GetCounter().GetValue())
}

func TestRecordCounters(t *testing.T) {
	m := New("creditrisk")
	m.RecordDegraded("CORRELATION_DEFAULT")
	m.RecordDegraded("CORRELATION_DEFAULT")
	m.RecordCalculation("schedule", nil)
	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)
	m.RecordEvent("topic", errors.New("down"))

	assert.Equal(t, 2.0, counterWith(t, family(t, m, "creditrisk_degraded_inputs_total"), map[string]string{"kind": "CORRELATION_DEFAULT"}))
	assert.Equal(t, 1.0, counterWith(t, family(t, m, "creditrisk_calculations_total"), map[string]string{"kind": "schedule", "outcome": "ok"}))
	cache := family(t, m, "creditrisk_market_data_cache_requests_total")
	assert.Equal(t, 1.0, counterWith(t, cache, map[string]string{"result": "hit"}))
	assert.Equal(t, 2.0, counterWith(t, cache, map[string]string{"result": "miss"}))
	assert.Equal(t, 1.0, counterWith(t, family(t, m, "creditrisk_events_published_total"), map[string]string{"outcome": "error"}))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("creditrisk")
	m.RecordHTTPRequest(http.MethodPost, "/api/v1/credit-risk/simulations", http.StatusOK, 30*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `creditrisk_http_requests_total{method="POST",route="/api/v1/credit-risk/simulations",service="creditrisk",status="200"} 1`)
}
