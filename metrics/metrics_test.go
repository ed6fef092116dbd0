package metrics_test

import (
	"testing"
	"time"

	"github.com/GabrielCarpr/eventcore/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountsAndRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, "eventcore")
	require.NoError(t, err)

	m.Appended(3, time.Millisecond)
	m.Conflict()
	m.Read("forward")
	m.Read("forward")
	m.Advanced("sub-A")

	count, err := testutil.GatherAndCount(reg, "eventcore_eventstore_appended_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["eventcore_eventstore_appended_events_total"])
	assert.Equal(t, 1.0, values["eventcore_eventstore_append_conflicts_total"])
	assert.Equal(t, 2.0, values["eventcore_eventstore_read_events_total"])
	assert.Equal(t, 1.0, values["eventcore_subscription_advances_total"])
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg, "eventcore")
	require.NoError(t, err)

	_, err = metrics.New(reg, "eventcore")
	assert.Error(t, err)
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Appended(1, time.Second)
		m.Conflict()
		m.Read("backward")
		m.Expanded()
		m.Advanced("x")
	})
}
