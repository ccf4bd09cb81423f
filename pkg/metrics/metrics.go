package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "agentic_rag"

var (
	defaultRegistry     *prometheus.Registry
	onceDefaultRegistry sync.Once

	defaultBusiness     *BusinessMetrics
	onceDefaultBusiness sync.Once
)

func DefaultRegistry() *prometheus.Registry {
	onceDefaultRegistry.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(prometheus.NewGoCollector())
		r.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		defaultRegistry = r
	})
	return defaultRegistry
}

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type HTTPMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InflightRequests *prometheus.GaugeVec
}

func NewHTTPMetrics(reg *prometheus.Registry, namespace, service string) *HTTPMetrics {
	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"service", "route", "method", "status"})
	reqDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   durationBuckets,
	}, []string{"service", "route", "method", "status"})
	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_inflight_requests",
		Help:      "Current number of inflight HTTP requests",
	}, []string{"service"})

	reg.MustRegister(reqTotal, reqDur, inflight)
	inflight.WithLabelValues(service).Set(0)

	return &HTTPMetrics{
		RequestsTotal:    reqTotal,
		RequestDuration:  reqDur,
		InflightRequests: inflight,
	}
}

// BusinessMetrics 业务指标：摄取、检索、工具调用、Web 兜底、答案合成、会话
type BusinessMetrics struct {
	IngestTotal      *prometheus.CounterVec
	IngestChunks     prometheus.Counter
	IngestDuration   *prometheus.HistogramVec
	SearchTotal      *prometheus.CounterVec
	WebFallbackTotal *prometheus.CounterVec
	ToolCallTotal    *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	SynthesisTotal   *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
}

func NewBusinessMetrics(reg prometheus.Registerer, namespace string) *BusinessMetrics {
	mkCounter := func(name, help string, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
		reg.MustRegister(c)
		return c
	}
	mkHist := func(name, help string, labels ...string) *prometheus.HistogramVec {
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: durationBuckets}, labels)
		reg.MustRegister(h)
		return h
	}
	chunks := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ingest_chunks_total", Help: "Total chunks written to the vector store"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "mcp_sessions_active", Help: "Currently open protocol sessions"})
	reg.MustRegister(chunks, sessions)

	return &BusinessMetrics{
		IngestTotal:      mkCounter("ingest_total", "Total ingested files", "status"),
		IngestChunks:     chunks,
		IngestDuration:   mkHist("ingest_duration_seconds", "Ingestion duration in seconds", "status"),
		SearchTotal:      mkCounter("search_total", "Total retrieval searches", "status"),
		WebFallbackTotal: mkCounter("web_fallback_total", "Total web fallback searches", "status"),
		ToolCallTotal:    mkCounter("tool_call_total", "Total tool calls", "tool", "status"),
		ToolCallDuration: mkHist("tool_call_duration_seconds", "Tool call duration in seconds", "tool"),
		SynthesisTotal:   mkCounter("synthesis_total", "Total synthesized answers", "mode"),
		SessionsActive:   sessions,
	}
}

// Default returns the process-wide BusinessMetrics registered on DefaultRegistry.
func Default() *BusinessMetrics {
	onceDefaultBusiness.Do(func() {
		defaultBusiness = NewBusinessMetrics(DefaultRegistry(), Namespace)
	})
	return defaultBusiness
}

// The Record helpers are safe on a nil receiver.

func (m *BusinessMetrics) RecordIngest(status string, chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(status).Inc()
	m.IngestDuration.WithLabelValues(status).Observe(d.Seconds())
	if chunks > 0 {
		m.IngestChunks.Add(float64(chunks))
	}
}

func (m *BusinessMetrics) RecordSearch(status string) {
	if m == nil {
		return
	}
	m.SearchTotal.WithLabelValues(status).Inc()
}

func (m *BusinessMetrics) RecordWebFallback(status string) {
	if m == nil {
		return
	}
	m.WebFallbackTotal.WithLabelValues(status).Inc()
}

func (m *BusinessMetrics) RecordToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *BusinessMetrics) RecordSynthesis(mode string) {
	if m == nil {
		return
	}
	m.SynthesisTotal.WithLabelValues(mode).Inc()
}

func (m *BusinessMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *BusinessMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
