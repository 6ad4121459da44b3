package internal

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOperationsMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()

	om := NewOperationsMetrics(reg)

	// Simulate a search job starting then finishing.
	om.searchJobsWaitingAdd(2)
	om.searchJobsWaitingAdd(-2)

	// Simulate a consolidation pass starting then finishing.
	om.consolidationsWaitingAdd(3)
	om.consolidationsWaitingAdd(-3)

	// Write-back decisions.
	om.writeBackWrittenInc()
	om.writeBackSkippedInc()

	assert.Equal(t, 0.0, om.searchJobsWaitingGet())
	assert.Equal(t, 0.0, om.consolidationsWaitingGet())
	assert.Equal(t, 1.0, testutil.ToFloat64(om.totals.WithLabelValues("write_back_written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(om.totals.WithLabelValues("write_back_skipped")))
	assert.Equal(t, 0.5, om.writeBackRatioGet())
}

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	cm := newCacheMetrics(reg)

	cm.cacheHitInc()
	cm.cacheMissInc()

	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("hits")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("misses")))
	assert.Equal(t, 0.5, cm.cacheHitRatioGet())
}

func TestProviderMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	pm := newProviderMetrics(reg)

	pm.requestSentInc("primary-authed")
	pm.requestSentInc("primary-authed")
	pm.requestSentInc("secondary")

	assert.Equal(t, int64(2), pm.requestSentGet("primary-authed"))
	assert.Equal(t, int64(1), pm.requestSentGet("secondary"))
	assert.Equal(t, int64(0), pm.requestSentGet("editorial"))
}

func TestBreakerMetricsTracksStateAndCounters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	bm := newBreakerMetrics(reg)

	bm.stateSet("primary", StateHalfOpen)
	bm.trippedInc("primary")
	bm.deniedInc("primary")
	bm.deniedInc("primary")

	assert.Equal(t, float64(StateHalfOpen), testutil.ToFloat64(bm.state.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bm.tripped.WithLabelValues("primary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(bm.denied.WithLabelValues("primary")))
}
