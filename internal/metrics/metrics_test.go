package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	m := New("docsum-test")
	e := echo.New()
	e.Use(m.Middleware(nil))
	e.GET("/api/items/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "nope")
	})

	for _, path := range []string{"/api/items/1", "/api/items/2", "/api/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/api/items/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/api/fail", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestInFlight))
}

func TestMiddleware_Skipper(t *testing.T) {
	m := New("docsum-test")
	e := echo.New()
	e.Use(m.Middleware(func(c echo.Context) bool { return c.Path() == "/metrics" }))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, testutil.CollectAndCount(m.requestTotal))
}

func TestWorkflowRecorders(t *testing.T) {
	m := New("docsum-test")

	m.RecordSubmission("success", "short", 1500*time.Millisecond)
	m.RecordSubmission("transport_error", "long", time.Second)
	m.RecordSubmission("", "medium", time.Second)
	m.RecordRejection("unsupported_type")
	m.SetActiveSessions(3)
	m.SetBreakerState("analysis.upload", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissionsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissionsTotal.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropsRejected.WithLabelValues("unsupported_type")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("analysis.upload")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	m := New("docsum-test")
	m.RecordRejection("too_large")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `docsum_workflow_drops_rejected_total{reason="too_large",service="docsum-test"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmission("success", "short", time.Second)
		m.RecordRejection("batch")
		m.SetActiveSessions(1)
		m.SetBreakerState("x", 1)
	})
	assert.Nil(t, m.Registry())
}
