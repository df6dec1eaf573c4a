package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("modelgen")

	c.Submission("text_to_model", "ok")
	c.Submission("text_to_model", "ok")
	c.Poll("error")
	c.Relocation("failed")
	c.CallerRuns()
	c.Terminal("success", 42*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.submissions.WithLabelValues("text_to_model", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.polls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relocations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callerRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.terminal.WithLabelValues("success")))
}

func TestCollectorActiveLoops(t *testing.T) {
	c := NewCollector("modelgen")
	done := c.LoopStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeLoops))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.activeLoops))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.Submission("text_to_model", "ok")
	c.Poll("ok")
	c.Terminal("failed", time.Second)
	c.LoopStarted()()
	c.HTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("modelgen")
	c.HTTPRequest(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `modelgen_http_requests_total{method="GET",route="/health",status="OK"} 1`))
}
