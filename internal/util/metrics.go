package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Checkouts by entry point and result",
	}, []string{"entry", "result"})

	CheckoutRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rejections_total",
		Help: "Rejected checkouts by reason",
	}, []string{"reason"})

	OrdersRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_recorded_total",
		Help: "Orders persisted by initial status",
	}, []string{"status"})

	StockDecrementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_decrements_total",
		Help: "Conditional stock decrements by pool kind and outcome",
	}, []string{"pool", "outcome"})

	StockCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_compensations_total",
		Help: "Compensating increments by result",
	}, []string{"result"})

	ReconciliationsRequiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reconciliations_required_total",
		Help: "Checkouts whose compensation failed and need manual reconciliation",
	})

	StockCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_commit_latency_seconds",
		Help:    "Latency of the decrement phase of a checkout",
		Buckets: prometheus.DefBuckets,
	})

	AvailabilityCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "availability_cache_total",
		Help: "Availability lookups by cache result",
	}, []string{"result"})

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
