package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallCounters(t *testing.T) {
	m := New()

	m.CallGenerated()
	m.CallGenerated()
	m.CallConnected()
	m.CallTerminated(true, true, 200, false)
	m.CallTerminated(true, false, 404, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generatedCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.successfulCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failedCalls))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.terminatedCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notFoundCalls))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflightCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("404")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CallGenerated()
	m.CallConnected()
	m.CallTerminated(true, false, 487, false)
	m.CacheLookup(CacheHit)
	m.ProbeCompleted(true)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.CacheLookup(CacheMiss)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `vhlr_cache_lookups_total{result="miss"} 1`))
}
