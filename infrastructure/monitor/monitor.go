package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器（私有 registry，避免与全局默认冲突）
type Monitor struct {
	registry *prometheus.Registry

	// 周期指标
	cycles       *prometheus.CounterVec // label: state
	cycleLatency prometheus.Histogram

	// 订单动作
	actions *prometheus.CounterVec // label: kind, side
	rejects *prometheus.CounterVec // label: reason

	// 报价
	fairPrice prometheus.Gauge
	bidTicks  prometheus.Gauge
	askTicks  prometheus.Gauge
	spread    prometheus.Gauge

	// 异常
	feedErrors      prometheus.Counter
	auditViolations prometheus.Counter

	// 网关
	restRequests *prometheus.CounterVec
	restErrors   *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "quoter",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycles_total",
			Help:      "报价周期总数（按终态）",
		}, []string{"state"}),
		cycleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycle_latency_seconds",
			Help:      "单次报价周期耗时（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),

		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "actions_total",
			Help:      "已提交的订单动作（place/cancel）",
		}, []string{"kind", "side"}),
		rejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batch_rejects_total",
			Help:      "被交易所整体拒绝的批次",
		}, []string{"reason"}),

		fairPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fair_price",
			Help:      "最近一次使用的 fair price",
		}),
		bidTicks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "target_bid_ticks",
			Help:      "目标买价（tick）",
		}),
		askTicks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "target_ask_ticks",
			Help:      "目标卖价（tick）",
		}),
		spread: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "target_spread_ticks",
			Help:      "目标价差（tick）",
		}),

		feedErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "feed_errors_total",
			Help:      "读取 fair price 失败次数",
		}),
		auditViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "atomicity_violations_total",
			Help:      "拒绝后挂单发生变化的次数",
		}),

		restRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "REST请求总数",
		}, []string{"action"}),
		restErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "rest",
			Name:      "errors_total",
			Help:      "REST错误总数",
		}, []string{"action"}),
		restLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "rest",
			Name:      "latency_seconds",
			Help:      "REST请求延迟（秒）",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"action"}),
	}
}

// RecordCycle 记录一次周期的终态与耗时
func (m *Monitor) RecordCycle(state string, elapsed time.Duration) {
	m.cycles.WithLabelValues(state).Inc()
	m.cycleLatency.Observe(elapsed.Seconds())
}

// RecordAction 记录一次已确认的订单动作
func (m *Monitor) RecordAction(kind, side string) {
	m.actions.WithLabelValues(kind, side).Inc()
}

// RecordReject 记录交易所拒绝
func (m *Monitor) RecordReject(reason string) {
	m.rejects.WithLabelValues(reason).Inc()
}

// UpdateQuote 更新 fair price 与目标报价
func (m *Monitor) UpdateQuote(fair float64, bid, ask uint64) {
	m.fairPrice.Set(fair)
	m.bidTicks.Set(float64(bid))
	m.askTicks.Set(float64(ask))
	if ask > bid {
		m.spread.Set(float64(ask - bid))
	} else {
		m.spread.Set(0)
	}
}

func (m *Monitor) RecordFeedError() {
	m.feedErrors.Inc()
}

func (m *Monitor) RecordAuditViolation() {
	m.auditViolations.Inc()
}

// RecordREST 记录一次网关请求
func (m *Monitor) RecordREST(action string, elapsed time.Duration, err error) {
	m.restRequests.WithLabelValues(action).Inc()
	m.restLatency.WithLabelValues(action).Observe(elapsed.Seconds())
	if err != nil {
		m.restErrors.WithLabelValues(action).Inc()
	}
}

// Handler 返回 /metrics 处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
