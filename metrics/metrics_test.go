package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersArePerLabel(t *testing.T) {
	idx := ChildFailures.WithLabelValues("idx", "media")
	vow := ChildFailures.WithLabelValues("vow", "media")
	beforeIdx, beforeVow := testutil.ToFloat64(idx), testutil.ToFloat64(vow)

	idx.Inc()
	idx.Inc()

	assert.Equal(t, beforeIdx+2, testutil.ToFloat64(idx))
	assert.Equal(t, beforeVow, testutil.ToFloat64(vow))
}

func TestBreakerStateGauge(t *testing.T) {
	g := CircuitBreakerState.WithLabelValues("idx:Media")
	g.Set(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(g))
	g.Set(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(g))
}
