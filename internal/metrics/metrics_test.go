package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("counters accumulate", func(t *testing.T) {
		m := New()
		m.RequestsTotal.WithLabelValues("fetchSensors", "ok").Inc()
		m.RequestsTotal.WithLabelValues("fetchSensors", "ok").Inc()
		m.RequestsTotal.WithLabelValues("fetchSensors", "error").Inc()

		assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("fetchSensors", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("fetchSensors", "error")))
	})

	t.Run("gauge tracks active collectors", func(t *testing.T) {
		m := New()
		m.CollectorsActive.Inc()
		m.CollectorsActive.Inc()
		m.CollectorsActive.Dec()
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectorsActive))
	})

	t.Run("handler serves the registry", func(t *testing.T) {
		m := New()
		m.ReadingsForwardedTotal.Inc()

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		require.Equal(t, 200, rec.Code)
		assert.Contains(t, rec.Body.String(), "sensor_readings_forwarded_total")
	})
}
