package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 结算链路指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 订单/结算指标
	orderGroupsCreated  prometheus.Counter
	paymentConfirms     *prometheus.CounterVec
	stockConflictsTotal *prometheus.CounterVec
	settlementDuration  prometheus.Histogram

	// 后台清扫指标
	sweptOrderGroups      prometheus.Counter
	sweptStockLocks       prometheus.Counter
	reconciledPaymentTxns prometheus.Counter
}

var (
	globalCollector *Collector
	once            sync.Once
)

// GetGlobalCollector 获取全局收集器（懒加载单例）
func GetGlobalCollector() *Collector {
	once.Do(func() {
		globalCollector = newCollector()
	})
	return globalCollector
}

func newCollector() *Collector {
	return &Collector{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		orderGroupsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "order_groups_created_total",
				Help: "Total number of order groups materialized from carts",
			},
		),

		paymentConfirms: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_confirms_total",
				Help: "Payment confirmations by outcome",
			},
			[]string{"result"},
		),

		stockConflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_conflicts_total",
				Help: "Stock check conflicts by kind",
			},
			[]string{"kind"},
		),

		settlementDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_settlement_duration_seconds",
				Help:    "End-to-end confirm-and-settle duration",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		sweptOrderGroups: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swept_order_groups_total",
				Help: "IN_PROGRESS order groups expired by the timeout sweep",
			},
		),

		sweptStockLocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swept_stock_locks_total",
				Help: "Stale inventory locks deleted by the timeout sweep",
			},
		),

		reconciledPaymentTxns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciled_payment_transactions_total",
				Help: "IN_TRANSIT payment transactions advanced by ledger reconciliation",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (c *Collector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordOrderGroupCreated 记录订单组创建
func (c *Collector) RecordOrderGroupCreated() {
	c.orderGroupsCreated.Inc()
}

// RecordPaymentConfirm 记录支付确认结果 (success / conflict / error / duplicate)
func (c *Collector) RecordPaymentConfirm(result string) {
	c.paymentConfirms.WithLabelValues(result).Inc()
}

// RecordStockConflict 记录库存冲突 (out_of_stock / insufficient)
func (c *Collector) RecordStockConflict(kind string) {
	c.stockConflictsTotal.WithLabelValues(kind).Inc()
}

// ObserveSettlement 记录结算耗时
func (c *Collector) ObserveSettlement(d time.Duration) {
	c.settlementDuration.Observe(d.Seconds())
}

// RecordSweep 记录一次后台清扫的结果
func (c *Collector) RecordSweep(orderGroups, stockLocks int64) {
	c.sweptOrderGroups.Add(float64(orderGroups))
	c.sweptStockLocks.Add(float64(stockLocks))
}

// RecordReconciled 记录被对账推进的支付事务数
func (c *Collector) RecordReconciled(n int) {
	c.reconciledPaymentTxns.Add(float64(n))
}
