package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastCounters(t *testing.T) {
	before := testutil.ToFloat64(BroadcastDroppedTotal.WithLabelValues("queue_full"))
	IncBroadcastDropped("queue_full")
	assert.Equal(t, before+1, testutil.ToFloat64(BroadcastDroppedTotal.WithLabelValues("queue_full")))

	before = testutil.ToFloat64(BroadcastSinkFailuresTotal.WithLabelValues("unknown"))
	IncSinkFailure("")
	assert.Equal(t, before+1, testutil.ToFloat64(BroadcastSinkFailuresTotal.WithLabelValues("unknown")))
}

func TestRecordCommand(t *testing.T) {
	ok := sessionCommandsTotal.WithLabelValues("set_step", "ok")
	failed := sessionCommandsTotal.WithLabelValues("set_step", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordCommand("set_step", nil)
	RecordCommand("set_step", errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestPromhttpExposure(t *testing.T) {
	RecordTriggerFire(TierHost, "fired")
	ObserveHTTPRequest("/api/sessions/{id}/state", http.MethodGet, 200, 0.01)

	recorder := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	body := recorder.Body.String()
	for _, name := range []string{
		"playsession_trigger_fires_total",
		"playsession_http_requests_total",
		"playsession_http_request_duration_seconds",
	} {
		assert.True(t, strings.Contains(body, name), "expected %s in exposition", name)
	}
	assert.Contains(t, body, `route="/api/sessions/{id}/state"`)
}
