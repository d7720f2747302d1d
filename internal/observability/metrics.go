// Package observability 提供流水线的 Prometheus 指标与 OpenTelemetry 链路追踪。
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "securag"
	pipelineSubsystem = "pipeline"
)

// Metrics 汇总流水线指标。所有方法对 nil 接收者安全，测试中可以直接传 nil。
type Metrics struct {
	// RequestsTotal 按最终结果计数。Labels: outcome (answered, blocked, degraded)
	RequestsTotal *prometheus.CounterVec

	// BlocksTotal 按拦截阶段与规则类别计数。Labels: stage, reason
	BlocksTotal *prometheus.CounterVec

	// RoutesTotal 按意图分支计数。Labels: route (SEARCH, CHAT)
	RoutesTotal *prometheus.CounterVec

	// UpstreamFailuresTotal 记录被阶段兜底吸收的上游错误。Labels: stage
	UpstreamFailuresTotal *prometheus.CounterVec

	// StageDurationSeconds 记录各阶段耗时。Labels: stage
	StageDurationSeconds *prometheus.HistogramVec

	// RetrievedChunks 记录每次检索返回的片段数。
	RetrievedChunks prometheus.Histogram

	// RedactionsTotal 按脱敏规则计数。Labels: rule
	RedactionsTotal *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册全部指标，reg 为 nil 时使用默认注册表。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "requests_total",
			Help:      "Total chat requests by outcome",
		}, []string{"outcome"}),
		BlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "blocks_total",
			Help:      "Requests blocked by guard stage and reason",
		}, []string{"stage", "reason"}),
		RoutesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "routes_total",
			Help:      "Intent routing decisions",
		}, []string{"route"}),
		UpstreamFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "upstream_failures_total",
			Help:      "Upstream call failures absorbed by stage fallbacks",
		}, []string{"stage"}),
		StageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		RetrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "retrieved_chunks",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),
		RedactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "redactions_total",
			Help:      "PII redactions by sanitize rule",
		}, []string{"rule"}),
	}
}

// RecordRequest 记录一次请求的最终结果。
func (m *Metrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordBlock 记录一次拦截。
func (m *Metrics) RecordBlock(stage, reason string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(stage, reason).Inc()
}

// RecordRoute 记录路由结果。
func (m *Metrics) RecordRoute(route string) {
	if m == nil {
		return
	}
	m.RoutesTotal.WithLabelValues(route).Inc()
}

// RecordUpstreamFailure 记录被兜底吸收的上游错误。
func (m *Metrics) RecordUpstreamFailure(stage string) {
	if m == nil {
		return
	}
	m.UpstreamFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveStage 记录阶段耗时。
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRetrieval 记录检索返回的片段数。
func (m *Metrics) ObserveRetrieval(chunks int) {
	if m == nil {
		return
	}
	m.RetrievedChunks.Observe(float64(chunks))
}

// RecordRedactions 按规则累加脱敏次数。
func (m *Metrics) RecordRedactions(rule string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.RedactionsTotal.WithLabelValues(rule).Add(float64(count))
}
