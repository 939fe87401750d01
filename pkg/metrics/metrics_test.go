package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioVerdicts(t *testing.T) {
	Scenario("MetricsVerdictProbe", true)
	Scenario("MetricsVerdictProbe", false)
	Scenario("MetricsVerdictProbe", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(ScenarioResults.WithLabelValues("MetricsVerdictProbe", "pass")))
	assert.Equal(t, 2.0, testutil.ToFloat64(ScenarioResults.WithLabelValues("MetricsVerdictProbe", "fail")))
}

func TestComponentMetrics(t *testing.T) {
	m := NewComponentMetrics("OMX.metrics.probe")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InputSubmitted))

	m.InputSubmitted.Inc()
	m.OutputReturned.Add(3)
	m.Command("StateSet")
	m.Timeout("Flush")

	assert.Equal(t, 1.0, testutil.ToFloat64(BuffersSubmitted.WithLabelValues("OMX.metrics.probe", "input")))
	assert.Equal(t, 3.0, testutil.ToFloat64(BuffersReturned.WithLabelValues("OMX.metrics.probe", "output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CommandsSent.WithLabelValues("OMX.metrics.probe", "StateSet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CommandTimeouts.WithLabelValues("OMX.metrics.probe", "Flush")))
}

func TestHandlerExposesSeries(t *testing.T) {
	NewComponentMetrics("OMX.metrics.handler")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `omxconf_buffers_submitted_total{component="OMX.metrics.handler",direction="input"} 0`))
}
