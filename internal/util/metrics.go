package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order operations",
	}, []string{"operation", "reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"to"})

	StockAdjustLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_adjust_latency_seconds",
		Help:    "Latency of stock adjustment operations",
		Buckets: prometheus.DefBuckets,
	})

	StockAdjustmentsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_adjustments_failed_total",
		Help: "Total number of failed stock adjustments",
	}, []string{"reason"})

	CashbackEarnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashback_earned_batches_total",
		Help: "Total number of cashback batches earned",
	})

	CashbackSpentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashback_spends_total",
		Help: "Total number of successful cashback spends",
	})

	CashbackExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashback_expired_batches_total",
		Help: "Total number of cashback batches expired",
	})

	CashbackExpireRunLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cashback_expire_run_latency_seconds",
		Help:    "Latency of cashback expiry runs",
		Buckets: prometheus.DefBuckets,
	})

	DiscountsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discounts_rejected_total",
		Help: "Total number of rejected discount requests",
	}, []string{"role"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of notification events that could not be emitted",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
