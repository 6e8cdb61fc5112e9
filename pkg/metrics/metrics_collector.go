package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 业务指标
	webhookCallbacksTotal      *prometheus.CounterVec
	orderTransitionsTotal      *prometheus.CounterVec
	ledgerEntriesTotal         *prometheus.CounterVec
	withdrawalTransitionsTotal *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	fxLookupsTotal             *prometheus.CounterVec
}

// NewMetricsCollector 创建指标收集器并注册到 registerer
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		webhookCallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_callbacks_total",
				Help: "Payment provider callbacks by provider and reconciliation result",
			},
			[]string{"provider", "result"},
		),

		orderTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_transitions_total",
				Help: "Order status transitions by target status",
			},
			[]string{"to"},
		),

		ledgerEntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_entries_total",
				Help: "Balance ledger entries appended by type",
			},
			[]string{"type"},
		),

		withdrawalTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawal_transitions_total",
				Help: "Withdrawal request and payout transitions by target status",
			},
			[]string{"entity", "to"},
		),

		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Notification deliveries by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),

		fxLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_rate_lookups_total",
				Help: "Exchange rate lookups by source",
			},
			[]string{"source"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, getStatusCategory(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordWebhook 记录支付回调处理结果
func (m *MetricsCollector) RecordWebhook(provider, result string) {
	m.webhookCallbacksTotal.WithLabelValues(provider, result).Inc()
}

// RecordOrderTransition 记录订单状态迁移
func (m *MetricsCollector) RecordOrderTransition(to string) {
	m.orderTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordLedgerEntry 记录流水写入
func (m *MetricsCollector) RecordLedgerEntry(entryType string) {
	m.ledgerEntriesTotal.WithLabelValues(entryType).Inc()
}

// RecordWithdrawalTransition 记录提现/打款状态迁移
func (m *MetricsCollector) RecordWithdrawalTransition(entity, to string) {
	m.withdrawalTransitionsTotal.WithLabelValues(entity, to).Inc()
}

// RecordNotification 记录通知投递
func (m *MetricsCollector) RecordNotification(sink string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.notificationsTotal.WithLabelValues(sink, outcome).Inc()
}

// RecordFXLookup 记录汇率查询来源 (cache / db / remote / miss)
func (m *MetricsCollector) RecordFXLookup(source string) {
	m.fxLookupsTotal.WithLabelValues(source).Inc()
}

// getStatusCategory 获取状态分类
func getStatusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

var (
	globalCollector *MetricsCollector
	once            sync.Once
)

// GetGlobalCollector 获取全局指标收集器，注册到 prometheus 默认 registry
func GetGlobalCollector() *MetricsCollector {
	once.Do(func() {
		globalCollector = NewMetricsCollector(prometheus.DefaultRegisterer)
	})
	return globalCollector
}
