package metrics

import (
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_ExposesAtomicValues(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	atomic.AddInt64(&m.RecordsIngestedTotal, 15)
	atomic.AddInt64(&m.SessionsActive, 2)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 15.0, values["event_attach_records_ingested_total"])
	assert.Equal(t, 2.0, values["event_attach_sessions_active"])
	assert.Equal(t, 0.0, values["event_attach_exports_total"])
}

func TestRegister_TwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New().Register(reg))
	assert.Error(t, New().Register(reg))
}

func TestRegister_CollectorCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New().Register(reg))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 21, n)
}
