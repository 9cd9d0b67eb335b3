// Package observability 提供 Prometheus 指标和 OpenTelemetry 链路追踪
package observability

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标
// 所有方法对 nil 接收者安全，未初始化时调用为空操作
type Metrics struct {
	registry *prometheus.Registry

	apiRequests  *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	turns        *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
	completions  *prometheus.CounterVec
	complLatency *prometheus.HistogramVec
	extractions  *prometheus.CounterVec
	extrLatency  *prometheus.HistogramVec
	appends      *prometheus.CounterVec
	chatSessions prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Init 初始化全局指标实例，重复调用返回同一个实例
func Init() *Metrics {
	initOnce.Do(func() {
		instance = NewMetrics()
	})
	return instance
}

// Current 返回全局指标实例，未初始化时为 nil
func Current() *Metrics {
	return instance
}

// NewMetrics 创建使用独立 Registry 的指标实例
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papyrus_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "papyrus_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papyrus_chat_turns_total",
			Help: "Chat turns by outcome.",
		}, []string{"outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "papyrus_chat_turn_duration_seconds",
			Help:    "Chat turn duration in seconds by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papyrus_completion_requests_total",
			Help: "Completion requests by provider/model/status.",
		}, []string{"provider", "model", "status"}),
		complLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "papyrus_completion_request_duration_seconds",
			Help:    "Completion request latency in seconds by provider/model.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papyrus_extractions_total",
			Help: "Document extractions by backend/status.",
		}, []string{"backend", "status"}),
		extrLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "papyrus_extraction_duration_seconds",
			Help:    "Document extraction duration in seconds by backend.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend"}),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papyrus_message_appends_total",
			Help: "Message log appends by role/status.",
		}, []string{"role", "status"}),
		chatSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papyrus_chat_sessions",
			Help: "Open websocket chat sessions.",
		}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency,
		m.turns, m.turnLatency,
		m.completions, m.complLatency,
		m.extractions, m.extrLatency,
		m.appends, m.chatSessions,
	)
	return m
}

// Handler 返回 /metrics 的 HTTP Handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 Registry，测试中读取指标值使用
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

// ObserveTurn 记录一轮对话的结果
// outcome: ok / rejected / unsent / completion_failed / unpersisted / discarded
func (m *Metrics) ObserveTurn(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	if dur > 0 {
		m.turnLatency.WithLabelValues(outcome).Observe(dur.Seconds())
	}
}

func (m *Metrics) ObserveCompletion(provider, model, status string, dur time.Duration) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	m.completions.WithLabelValues(provider, model, status).Inc()
	m.complLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func (m *Metrics) ObserveExtraction(backend, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(backend, status).Inc()
	m.extrLatency.WithLabelValues(backend).Observe(dur.Seconds())
}

func (m *Metrics) IncAppend(role, status string) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(role, status).Inc()
}

func (m *Metrics) ChatSessionOpened() {
	if m == nil {
		return
	}
	m.chatSessions.Inc()
}

func (m *Metrics) ChatSessionClosed() {
	if m == nil {
		return
	}
	m.chatSessions.Dec()
}
