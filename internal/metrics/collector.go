// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 会话指标
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter

	// 音频中继指标
	audioBytesRelayed  prometheus.Counter
	audioChunksDropped prometheus.Counter

	// 回合指标
	turnsTotal   *prometheus.CounterVec
	turnDuration prometheus.Histogram

	// 合成指标
	synthesisChunksTotal prometheus.Counter
	synthesisErrors      prometheus.Counter

	// 下行发送失败
	noticeSendFailures prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// reg 传 nil 时注册到默认 Registry；测试传独立 Registry 避免重复注册。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live voice sessions",
	})

	c.sessionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of voice sessions accepted",
	})

	c.audioBytesRelayed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_relayed_total",
		Help:      "Total audio bytes forwarded to the recognizer",
	})

	c.audioChunksDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_chunks_dropped_total",
		Help:      "Audio chunks dropped by the relay queue",
	})

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total dialogue turns processed",
		},
		[]string{"source", "status"}, // source: skill, llm
	)

	c.turnDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Dialogue turn processing duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	c.synthesisChunksTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_chunks_total",
		Help:      "Total synthesized audio chunks delivered",
	})

	c.synthesisErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_errors_total",
		Help:      "Total synthesis failures",
	})

	c.noticeSendFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notice_send_failures_total",
		Help:      "Total failures sending notices to clients",
	})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionStarted 记录会话建立
func (c *Collector) SessionStarted() {
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

// SessionEnded 记录会话结束
func (c *Collector) SessionEnded() {
	c.sessionsActive.Dec()
}

// RecordAudioRelayed 记录转发到识别服务的音频字节数
func (c *Collector) RecordAudioRelayed(bytes int) {
	c.audioBytesRelayed.Add(float64(bytes))
}

// RecordAudioDropped 记录中继队列丢弃的块
func (c *Collector) RecordAudioDropped() {
	c.audioChunksDropped.Inc()
}

// RecordTurn 记录一轮对话处理
func (c *Collector) RecordTurn(source, status string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(source, status).Inc()
	c.turnDuration.Observe(duration.Seconds())
}

// RecordSynthesisChunks 记录交付的合成音频块
func (c *Collector) RecordSynthesisChunks(n int) {
	c.synthesisChunksTotal.Add(float64(n))
}

// RecordSynthesisError 记录合成失败
func (c *Collector) RecordSynthesisError() {
	c.synthesisErrors.Inc()
}

// RecordNoticeSendFailure 记录下行发送失败
func (c *Collector) RecordNoticeSendFailure() {
	c.noticeSendFailures.Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
