package stream

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestFrameAndTransitionMetrics(t *testing.T) {
	delivered := getCounterValue(t, framesTotal.WithLabelValues(frameDelivered))
	malformed := getCounterValue(t, framesTotal.WithLabelValues(frameMalformed))
	opened := getCounterValue(t, transitionsTotal.WithLabelValues(Open.String()))

	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d, nil)
	sink := &collector{}
	m.Subscribe(sink)
	require.NoError(t, m.Connect())
	waitState(t, m, Open)

	c := d.conn(0)
	c.frames <- Frame{Data: []byte(`{"category":"contract"}`)}
	c.frames <- Frame{Data: []byte(`{"nope":true}`)}
	c.frames <- Frame{Data: []byte(`{"category":"customer"}`)}
	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, 2*time.Second, 2*time.Millisecond)

	assert.Equal(t, delivered+2, getCounterValue(t, framesTotal.WithLabelValues(frameDelivered)))
	assert.Equal(t, malformed+1, getCounterValue(t, framesTotal.WithLabelValues(frameMalformed)))
	assert.Equal(t, opened+1, getCounterValue(t, transitionsTotal.WithLabelValues(Open.String())))
}
