package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBusinessMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBusinessMetrics(reg, "test")
	m.RecordIngest("ok", 12, time.Second)
	m.RecordSearch("found")
	m.RecordSearch("found")
	m.RecordToolCall("document_search", "ok", 10*time.Millisecond)
	m.SessionOpened()

	if got := testutil.ToFloat64(m.IngestChunks); got != 12 {
		t.Fatalf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(m.SearchTotal.WithLabelValues("found")); got != 2 {
		t.Fatalf("search found = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("sessions = %v", got)
	}
}

func TestNilBusinessMetricsIsNoop(t *testing.T) {
	var m *BusinessMetrics
	m.RecordSearch("found")
	m.RecordSynthesis("llm")
	m.SessionClosed()
}

func TestMiddlewareExposesRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	hm := NewHTTPMetrics(reg, "test", "svc")
	r := gin.New()
	r.Use(MetricsMiddleware("svc", hm))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(MetricsHandler(reg)))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `test_http_requests_total{method="GET",route="/ping",service="svc",status="2xx"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", w.Body.String())
	}
}
